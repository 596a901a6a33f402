package relay

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peerplay/peerplay/pkg/transport"
)

// chanSignaler wires two in-process ends without a lobby service.
type chanSignaler struct {
	offerOut, answerOut chan<- string
	offerIn, answerIn   <-chan string
}

func newSignalerPair() (*chanSignaler, *chanSignaler) {
	offers := make(chan string, 1)
	answers := make(chan string, 1)

	dialer := &chanSignaler{offerOut: offers, answerIn: answers}
	acceptor := &chanSignaler{offerIn: offers, answerOut: answers}
	return dialer, acceptor
}

func (s *chanSignaler) SendOffer(_ context.Context, sdp string) error {
	s.offerOut <- sdp
	return nil
}

func (s *chanSignaler) RecvOffer(ctx context.Context) (string, error) {
	select {
	case sdp := <-s.offerIn:
		return sdp, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *chanSignaler) SendAnswer(_ context.Context, sdp string) error {
	s.answerOut <- sdp
	return nil
}

func (s *chanSignaler) RecvAnswer(ctx context.Context) (string, error) {
	select {
	case sdp := <-s.answerIn:
		return sdp, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestRelay_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dialSig, acceptSig := newSignalerPair()

	hostData := make(chan []byte, 1)
	joinerData := make(chan []byte, 1)

	type dialResult struct {
		conn *Conn
		err  error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		conn, err := Dial(ctx, Config{
			Signaler: dialSig,
			LocalID:  "joiner",
			RemoteID: "host",
			OnData:   func(data []byte) { joinerData <- data },
		})
		dialed <- dialResult{conn, err}
	}()

	hostConn, err := Accept(ctx, Config{
		Signaler: acceptSig,
		LocalID:  "host",
		RemoteID: "joiner",
		OnData:   func(data []byte) { hostData <- data },
	})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer hostConn.Close()

	res := <-dialed
	if res.err != nil {
		t.Fatalf("Dial: %v", res.err)
	}
	joinerConn := res.conn
	defer joinerConn.Close()

	if hostConn.RequiresCongestionManagement() || joinerConn.RequiresCongestionManagement() {
		t.Error("relay channels must not require congestion management")
	}

	if err := joinerConn.Send([]byte("from joiner"), true); err != nil {
		t.Fatalf("joiner Send: %v", err)
	}
	select {
	case data := <-hostData:
		if !bytes.Equal(data, []byte("from joiner")) {
			t.Errorf("host got %q", data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for joiner datagram")
	}

	if err := hostConn.Send([]byte("from host"), false); err != nil {
		t.Fatalf("host Send: %v", err)
	}
	select {
	case data := <-joinerData:
		if !bytes.Equal(data, []byte("from host")) {
			t.Errorf("joiner got %q", data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for host datagram")
	}
}

func TestRelay_SelfConnectRefused(t *testing.T) {
	dialSig, _ := newSignalerPair()

	_, err := Dial(context.Background(), Config{
		Signaler: dialSig,
		LocalID:  "me",
		RemoteID: "me",
	})
	if !errors.Is(err, ErrSelfConnect) {
		t.Fatalf("Dial self = %v, want ErrSelfConnect", err)
	}
}

func TestRelay_SelfPair(t *testing.T) {
	a, b := SelfPair()
	defer a.Close()
	defer b.Close()

	var got []byte
	b.SetDataHandler(func(data []byte) { got = data })

	if err := a.Send([]byte("local play"), true); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !bytes.Equal(got, []byte("local play")) {
		t.Errorf("got %q", got)
	}

	var conn transport.Conn = a
	if conn.RequiresCongestionManagement() {
		t.Error("self pair must not require congestion management")
	}
}
