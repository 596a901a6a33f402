package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"
	"github.com/pion/stun/v3"
)

// Role selects which side of the punched channel runs the handshake
// server. Both sides must agree; the session host takes RoleServer.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// punchProbe is the payload sent while opening the NAT binding. The
// filtered socket drops it afterwards so stray probes never reach the
// encryption layer.
var punchProbe = []byte("peerplay/punch")

const (
	defaultSTUNServer    = "stun.l.google.com:19302"
	defaultPunchTimeout  = 20 * time.Second
	defaultPunchInterval = 200 * time.Millisecond
	stunAttempts         = 3
	stunReadTimeout      = 2 * time.Second
)

// EndpointExchange trades public endpoints with the remote peer
// through an out-of-band channel, typically the rendezvous service.
type EndpointExchange interface {
	// Publish announces our public endpoint ("ip:port").
	Publish(ctx context.Context, endpoint string) error

	// Remote blocks until the peer's public endpoint is known.
	Remote(ctx context.Context) (string, error)
}

// HolePunchConfig configures a HolePuncher.
type HolePunchConfig struct {
	// STUNServer is the "host:port" of the STUN server used to learn
	// our public endpoint (default Google's public server).
	STUNServer string

	// Exchange trades endpoints with the peer. Required.
	Exchange EndpointExchange

	// PSK secures the channel once punched. Required.
	PSK []byte

	// PSKIdentityHint identifies this endpoint during the handshake
	// (default "peerplay").
	PSKIdentityHint []byte

	// Role selects the handshake side. The session host must use
	// RoleServer.
	Role Role

	// PunchTimeout bounds the whole punch attempt (default 20s).
	PunchTimeout time.Duration

	// PunchInterval is the probe cadence (default 200ms).
	PunchInterval time.Duration

	// OnData is raised for each received datagram.
	OnData func(data []byte)

	// OnDisconnected is raised when the channel ends. reason is nil
	// for an orderly close.
	OnDisconnected func(reason error)

	// LoggerFactory creates the logger. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// HolePuncher establishes a direct encrypted channel between two
// NAT-ed peers. It learns its public endpoint over STUN, trades
// endpoints through the exchange, opens the NAT binding by sending
// probes from both sides at once, then runs the encryption handshake
// over the punched socket.
type HolePuncher struct {
	config HolePunchConfig
	log    logging.LeveledLogger

	mu      sync.Mutex
	conn    *dtls.Conn
	socket  *net.UDPConn
	id      Identity
	started bool
	closed  bool

	wg sync.WaitGroup
}

// NewHolePuncher creates a hole-punch backend endpoint.
func NewHolePuncher(config HolePunchConfig) (*HolePuncher, error) {
	if len(config.PSK) == 0 {
		return nil, ErrNoPSK
	}
	if config.Exchange == nil {
		return nil, fmt.Errorf("%w: no endpoint exchange", ErrServiceUnavailable)
	}
	if config.STUNServer == "" {
		config.STUNServer = defaultSTUNServer
	}
	if config.PSKIdentityHint == nil {
		config.PSKIdentityHint = []byte("peerplay")
	}
	if config.PunchTimeout == 0 {
		config.PunchTimeout = defaultPunchTimeout
	}
	if config.PunchInterval == 0 {
		config.PunchInterval = defaultPunchInterval
	}

	h := &HolePuncher{config: config}
	if config.LoggerFactory != nil {
		h.log = config.LoggerFactory.NewLogger("transport-punch")
	}
	return h, nil
}

// Connect runs the full punch sequence. On success the channel is
// encrypted and the receive loop is running. A binding that never
// opens is reported as ErrPunchTimeout; symmetric NATs on both sides
// land here and the caller should fall back to the relay backend.
func (h *HolePuncher) Connect(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.started {
		h.mu.Unlock()
		return ErrAlreadyStarted
	}
	h.started = true
	h.mu.Unlock()

	socket, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("%w: bind: %v", ErrServiceUnavailable, err)
	}

	h.mu.Lock()
	h.socket = socket
	h.mu.Unlock()

	public, err := h.resolvePublicEndpoint(socket)
	if err != nil {
		socket.Close()
		return err
	}
	if h.log != nil {
		h.log.Infof("public endpoint %s", public)
	}

	if err := h.config.Exchange.Publish(ctx, public); err != nil {
		socket.Close()
		return fmt.Errorf("publish endpoint: %w", err)
	}

	remote, err := h.config.Exchange.Remote(ctx)
	if err != nil {
		socket.Close()
		return fmt.Errorf("remote endpoint: %w", err)
	}
	peerAddr, err := net.ResolveUDPAddr("udp4", remote)
	if err != nil {
		socket.Close()
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	if err := h.punch(ctx, socket, peerAddr); err != nil {
		socket.Close()
		return err
	}

	conn, err := h.secure(ctx, socket, peerAddr)
	if err != nil {
		socket.Close()
		return err
	}

	h.mu.Lock()
	h.conn = conn
	h.id = Identity(peerAddr.String())
	h.mu.Unlock()

	if h.log != nil {
		h.log.Infof("punched channel to %s established", h.id)
	}

	h.wg.Add(1)
	go h.readLoop(conn)
	return nil
}

// resolvePublicEndpoint asks the STUN server for our reflexive
// address using the punch socket itself, so the NAT mapping the
// server observes is the one the peer will target.
func (h *HolePuncher) resolvePublicEndpoint(socket *net.UDPConn) (string, error) {
	serverAddr, err := net.ResolveUDPAddr("udp4", h.config.STUNServer)
	if err != nil {
		return "", fmt.Errorf("%w: stun server: %v", ErrInvalidIdentity, err)
	}

	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	buf := make([]byte, maxDatagramSize)

	for attempt := 0; attempt < stunAttempts; attempt++ {
		if _, err := socket.WriteToUDP(req.Raw, serverAddr); err != nil {
			return "", fmt.Errorf("%w: stun send: %v", ErrServiceUnavailable, err)
		}

		socket.SetReadDeadline(time.Now().Add(stunReadTimeout))
		n, from, err := socket.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if !from.IP.Equal(serverAddr.IP) || from.Port != serverAddr.Port {
			continue
		}

		msg := &stun.Message{Raw: append([]byte{}, buf[:n]...)}
		if err := msg.Decode(); err != nil {
			continue
		}
		var mapped stun.XORMappedAddress
		if err := mapped.GetFrom(msg); err != nil {
			continue
		}

		socket.SetReadDeadline(time.Time{})
		return fmt.Sprintf("%s:%d", mapped.IP, mapped.Port), nil
	}

	socket.SetReadDeadline(time.Time{})
	return "", fmt.Errorf("%w: no stun response from %s", ErrServiceUnavailable, h.config.STUNServer)
}

// punch opens the NAT binding by probing the peer while the peer
// probes us. Any datagram from the peer's endpoint means both
// mappings exist.
func (h *HolePuncher) punch(ctx context.Context, socket *net.UDPConn, peer *net.UDPAddr) error {
	deadline := time.Now().Add(h.config.PunchTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := make([]byte, maxDatagramSize)
	for time.Now().Before(deadline) {
		if _, err := socket.WriteToUDP(punchProbe, peer); err != nil {
			return fmt.Errorf("%w: probe send: %v", ErrServiceUnavailable, err)
		}

		socket.SetReadDeadline(time.Now().Add(h.config.PunchInterval))
		_, from, err := socket.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if !from.IP.Equal(peer.IP) || from.Port != peer.Port {
			continue
		}

		// The binding is open. Send a last burst so the peer's own
		// probe loop completes even if our earlier probes were lost.
		for i := 0; i < 3; i++ {
			socket.WriteToUDP(punchProbe, peer)
		}
		socket.SetReadDeadline(time.Time{})
		return nil
	}

	socket.SetReadDeadline(time.Time{})
	return ErrPunchTimeout
}

// secure runs the encryption handshake over the punched socket.
func (h *HolePuncher) secure(ctx context.Context, socket *net.UDPConn, peer *net.UDPAddr) (*dtls.Conn, error) {
	pc := &punchedSocket{socket: socket, peer: peer}
	config := pskConfig(h.config.PSK, h.config.PSKIdentityHint)

	var conn *dtls.Conn
	var err error
	if h.config.Role == RoleServer {
		conn, err = dtls.Server(pc, peer, config)
	} else {
		conn, err = dtls.Client(pc, peer, config)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	hctx, cancel := context.WithTimeout(ctx, defaultHandshakeTimeout)
	err = conn.HandshakeContext(hctx)
	cancel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return conn, nil
}

func (h *HolePuncher) readLoop(conn *dtls.Conn) {
	defer h.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			h.mu.Lock()
			closed := h.closed
			h.mu.Unlock()

			reason := err
			if closed {
				reason = nil
			}
			if h.log != nil {
				h.log.Infof("punched channel closed: %v", reason)
			}
			if h.config.OnDisconnected != nil {
				h.config.OnDisconnected(reason)
			}
			return
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if h.config.OnData != nil {
			h.config.OnData(data)
		}
	}
}

// Send transmits one encrypted datagram to the peer.
func (h *HolePuncher) Send(data []byte, _ bool) error {
	h.mu.Lock()
	conn := h.conn
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotStarted
	}
	_, err := conn.Write(data)
	return err
}

// Identity returns the peer's public endpoint identity.
func (h *HolePuncher) Identity() Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

// RequiresCongestionManagement is true: the punched path is raw UDP.
func (h *HolePuncher) RequiresCongestionManagement() bool { return true }

// Close tears down the channel and waits for the receive loop.
func (h *HolePuncher) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	socket := h.socket
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if socket != nil {
		socket.Close()
	}
	h.wg.Wait()
	return nil
}

var _ Conn = (*HolePuncher)(nil)

// punchedSocket restricts a UDP socket to the punched peer. Datagrams
// from other sources and leftover punch probes are discarded before
// they reach the encryption layer.
type punchedSocket struct {
	socket *net.UDPConn
	peer   *net.UDPAddr
}

func (p *punchedSocket) ReadFrom(b []byte) (int, net.Addr, error) {
	for {
		n, from, err := p.socket.ReadFromUDP(b)
		if err != nil {
			return 0, nil, err
		}
		if !from.IP.Equal(p.peer.IP) || from.Port != p.peer.Port {
			continue
		}
		if bytes.Equal(b[:n], punchProbe) {
			continue
		}
		return n, from, nil
	}
}

func (p *punchedSocket) WriteTo(b []byte, _ net.Addr) (int, error) {
	return p.socket.WriteToUDP(b, p.peer)
}

func (p *punchedSocket) Close() error                       { return p.socket.Close() }
func (p *punchedSocket) LocalAddr() net.Addr                { return p.socket.LocalAddr() }
func (p *punchedSocket) SetDeadline(t time.Time) error      { return p.socket.SetDeadline(t) }
func (p *punchedSocket) SetReadDeadline(t time.Time) error  { return p.socket.SetReadDeadline(t) }
func (p *punchedSocket) SetWriteDeadline(t time.Time) error { return p.socket.SetWriteDeadline(t) }

var _ net.PacketConn = (*punchedSocket)(nil)
