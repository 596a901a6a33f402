package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v3"
)

// stubSTUN answers binding requests with the observed source address,
// standing in for a public STUN server.
func stubSTUN(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("bind stun stub: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, from, err := pc.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte{}, buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			resp := new(stun.Message)
			err = resp.Build(req, stun.BindingSuccess,
				&stun.XORMappedAddress{IP: from.IP, Port: from.Port},
				stun.Fingerprint)
			if err != nil {
				continue
			}
			pc.WriteToUDP(resp.Raw, from)
		}
	}()

	return pc.LocalAddr().String()
}

// memoryExchange trades endpoints over channels, standing in for the
// rendezvous service.
type memoryExchange struct {
	out chan string
	in  chan string
}

func newExchangePair() (*memoryExchange, *memoryExchange) {
	a := make(chan string, 1)
	b := make(chan string, 1)
	return &memoryExchange{out: a, in: b}, &memoryExchange{out: b, in: a}
}

func (m *memoryExchange) Publish(ctx context.Context, endpoint string) error {
	select {
	case m.out <- endpoint:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *memoryExchange) Remote(ctx context.Context) (string, error) {
	select {
	case endpoint := <-m.in:
		return endpoint, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestHolePunch_ConfigValidation(t *testing.T) {
	ex := &memoryExchange{}

	if _, err := NewHolePuncher(HolePunchConfig{Exchange: ex}); !errors.Is(err, ErrNoPSK) {
		t.Errorf("NewHolePuncher without PSK = %v, want ErrNoPSK", err)
	}
	if _, err := NewHolePuncher(HolePunchConfig{PSK: []byte("k")}); !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("NewHolePuncher without exchange = %v, want ErrServiceUnavailable", err)
	}
}

func TestHolePunch_RoundTrip(t *testing.T) {
	stunAddr := stubSTUN(t)
	psk := []byte("0123456789abcdef")
	hostEx, joinEx := newExchangePair()

	hostData := make(chan []byte, 4)
	joinData := make(chan []byte, 4)

	host, err := NewHolePuncher(HolePunchConfig{
		STUNServer:    stunAddr,
		Exchange:      hostEx,
		PSK:           psk,
		Role:          RoleServer,
		PunchTimeout:  10 * time.Second,
		PunchInterval: 50 * time.Millisecond,
		OnData:        func(data []byte) { hostData <- data },
	})
	if err != nil {
		t.Fatalf("NewHolePuncher: %v", err)
	}
	joiner, err := NewHolePuncher(HolePunchConfig{
		STUNServer:    stunAddr,
		Exchange:      joinEx,
		PSK:           psk,
		Role:          RoleClient,
		PunchTimeout:  10 * time.Second,
		PunchInterval: 50 * time.Millisecond,
		OnData:        func(data []byte) { joinData <- data },
	})
	if err != nil {
		t.Fatalf("NewHolePuncher: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- host.Connect(ctx) }()
	go func() { errs <- joiner.Connect(ctx) }()
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	defer host.Close()
	defer joiner.Close()

	if !joiner.RequiresCongestionManagement() {
		t.Error("punched channel must require congestion management")
	}
	if joiner.Identity() == "" {
		t.Error("empty identity after connect")
	}

	if err := joiner.Send([]byte("ping"), true); err != nil {
		t.Fatalf("joiner Send: %v", err)
	}
	select {
	case data := <-hostData:
		if string(data) != "ping" {
			t.Errorf("host got %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for joiner datagram")
	}

	if err := host.Send([]byte("pong"), true); err != nil {
		t.Fatalf("host Send: %v", err)
	}
	select {
	case data := <-joinData:
		if string(data) != "pong" {
			t.Errorf("joiner got %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for host datagram")
	}

	// A leftover probe from the peer's socket must never surface as
	// data; the next real datagram still comes through.
	joiner.mu.Lock()
	joinerSocket := joiner.socket
	joiner.mu.Unlock()
	host.mu.Lock()
	hostAddr := host.socket.LocalAddr().(*net.UDPAddr)
	host.mu.Unlock()

	if _, err := joinerSocket.WriteToUDP(punchProbe, hostAddr); err != nil {
		t.Fatalf("probe send: %v", err)
	}
	if err := joiner.Send([]byte("after probe"), true); err != nil {
		t.Fatalf("joiner Send: %v", err)
	}
	select {
	case data := <-hostData:
		if string(data) != "after probe" {
			t.Errorf("host got %q, want the datagram after the probe", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for datagram after probe")
	}
}

func TestHolePunch_Timeout(t *testing.T) {
	stunAddr := stubSTUN(t)

	// The far end exists but never probes back, like a symmetric NAT
	// that remapped the punched port.
	silent, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("bind silent peer: %v", err)
	}
	defer silent.Close()

	ex := &memoryExchange{out: make(chan string, 1), in: make(chan string, 1)}
	ex.in <- silent.LocalAddr().String()

	h, err := NewHolePuncher(HolePunchConfig{
		STUNServer:    stunAddr,
		Exchange:      ex,
		PSK:           []byte("0123456789abcdef"),
		Role:          RoleClient,
		PunchTimeout:  300 * time.Millisecond,
		PunchInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHolePuncher: %v", err)
	}
	defer h.Close()

	if err := h.Connect(context.Background()); !errors.Is(err, ErrPunchTimeout) {
		t.Errorf("Connect = %v, want ErrPunchTimeout", err)
	}
}

func TestPunchedSocket_Filters(t *testing.T) {
	local, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer local.Close()
	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer peer.Close()
	stranger, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer stranger.Close()

	ps := &punchedSocket{socket: local, peer: peer.LocalAddr().(*net.UDPAddr)}
	target := local.LocalAddr().(*net.UDPAddr)

	if _, err := stranger.WriteToUDP([]byte("stranger"), target); err != nil {
		t.Fatalf("stranger send: %v", err)
	}
	if _, err := peer.WriteToUDP(punchProbe, target); err != nil {
		t.Fatalf("probe send: %v", err)
	}
	if _, err := peer.WriteToUDP([]byte("real"), target); err != nil {
		t.Fatalf("peer send: %v", err)
	}

	ps.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, from, err := ps.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(buf[:n]) != "real" {
		t.Errorf("ReadFrom surfaced %q, want the peer's data only", buf[:n])
	}
	if udp, ok := from.(*net.UDPAddr); !ok || udp.Port != ps.peer.Port {
		t.Errorf("ReadFrom source = %v, want the peer", from)
	}
}
