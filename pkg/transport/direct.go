package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"
)

// DefaultPort is the default session port for the direct backend.
const DefaultPort = 47550

// maxDatagramSize bounds a single receive. Larger than the protocol's
// own MTU so oversized traffic is surfaced to the decoder, not
// silently truncated.
const maxDatagramSize = 1500

// defaultHandshakeTimeout bounds the DTLS handshake during connect and
// accept.
const defaultHandshakeTimeout = 10 * time.Second

// pskConfig builds the DTLS configuration shared by every direct-path
// endpoint. The channel is secured with a pre-shared key derived from
// the session token; there are no certificates.
func pskConfig(psk, hint []byte) *dtls.Config {
	return &dtls.Config{
		PSK: func([]byte) ([]byte, error) {
			return psk, nil
		},
		PSKIdentityHint:      hint,
		CipherSuites:         []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
	}
}

// DirectServerConfig configures a DirectServer.
type DirectServerConfig struct {
	// ListenAddr is the UDP address to listen on (default ":47550").
	ListenAddr string

	// PSK secures the DTLS channel. Required.
	PSK []byte

	// PSKIdentityHint is offered to connecting clients (default
	// "peerplay").
	PSKIdentityHint []byte

	// Events receives peer lifecycle and data callbacks.
	Events Events

	// LoggerFactory creates the server's logger. If nil, logging is
	// disabled.
	LoggerFactory logging.LoggerFactory
}

// DirectServer accepts encrypted datagram connections from multiple
// peers over one UDP socket. One receive loop runs per accepted peer.
type DirectServer struct {
	config   DirectServerConfig
	listener net.Listener
	log      logging.LeveledLogger

	mu      sync.Mutex
	conns   map[Identity]*directConn
	started bool
	closed  bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewDirectServer creates a direct-backend server.
func NewDirectServer(config DirectServerConfig) (*DirectServer, error) {
	if len(config.PSK) == 0 {
		return nil, ErrNoPSK
	}
	if config.ListenAddr == "" {
		config.ListenAddr = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.PSKIdentityHint == nil {
		config.PSKIdentityHint = []byte("peerplay")
	}

	s := &DirectServer{
		config:  config,
		conns:   make(map[Identity]*directConn),
		closeCh: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport-direct")
	}
	return s, nil
}

// Start binds the socket and begins accepting peers. It fails fast if
// the encrypted listener cannot be created.
func (s *DirectServer) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	addr, err := net.ResolveUDPAddr("udp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	listener, err := dtls.Listen("udp", addr, pskConfig(s.config.PSK, s.config.PSKIdentityHint))
	if err != nil {
		return fmt.Errorf("%w: dtls listen: %v", ErrServiceUnavailable, err)
	}
	s.listener = listener

	if s.log != nil {
		s.log.Infof("direct server listening on %s", listener.Addr())
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and all peer channels, then waits for every
// loop to exit.
func (s *DirectServer) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	conns := make([]*directConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	close(s.closeCh)
	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	return nil
}

// LocalAddr returns the bound address, or nil before Start.
func (s *DirectServer) LocalAddr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// LocalIdentity returns the server's transport identity.
func (s *DirectServer) LocalIdentity() Identity {
	if s.listener == nil {
		return ""
	}
	return Identity(s.listener.Addr().String())
}

func (s *DirectServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
				if s.log != nil {
					s.log.Warnf("accept failed: %v", err)
				}
				continue
			}
		}

		s.wg.Add(1)
		go s.handlePeer(conn)
	}
}

// handlePeer completes the handshake and runs the peer's receive loop.
func (s *DirectServer) handlePeer(conn net.Conn) {
	defer s.wg.Done()

	if dc, ok := conn.(*dtls.Conn); ok {
		ctx, cancel := context.WithTimeout(context.Background(), defaultHandshakeTimeout)
		err := dc.HandshakeContext(ctx)
		cancel()
		if err != nil {
			if s.log != nil {
				s.log.Warnf("handshake with %v failed: %v", conn.RemoteAddr(), err)
			}
			conn.Close()
			return
		}
	}

	id := Identity(conn.RemoteAddr().String())
	dconn := &directConn{conn: conn, id: id}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[id] = dconn
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("peer %s connected", id)
	}
	if s.config.Events.OnPeerConnected != nil {
		s.config.Events.OnPeerConnected(dconn)
	}

	s.readLoop(dconn)
}

func (s *DirectServer) readLoop(c *directConn) {
	buf := make([]byte, maxDatagramSize)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			s.dropPeer(c, err)
			return
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if s.config.Events.OnData != nil {
			s.config.Events.OnData(c.id, data)
		}
	}
}

// dropPeer removes a peer and raises the disconnect event. A read
// error during shutdown counts as an orderly close.
func (s *DirectServer) dropPeer(c *directConn, err error) {
	s.mu.Lock()
	_, known := s.conns[c.id]
	delete(s.conns, c.id)
	closed := s.closed
	s.mu.Unlock()

	c.Close()
	if !known {
		return
	}

	reason := err
	if closed {
		reason = nil
	}
	if s.log != nil {
		s.log.Infof("peer %s disconnected: %v", c.id, reason)
	}
	if s.config.Events.OnPeerDisconnected != nil {
		s.config.Events.OnPeerDisconnected(c.id, reason)
	}
}

// directConn is the per-peer handle over an accepted DTLS connection.
type directConn struct {
	conn net.Conn
	id   Identity

	mu     sync.Mutex
	closed bool
}

// Send transmits one encrypted datagram to the peer.
func (c *directConn) Send(data []byte, _ bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	_, err := c.conn.Write(data)
	return err
}

// Identity returns the peer's endpoint identity.
func (c *directConn) Identity() Identity { return c.id }

// RequiresCongestionManagement is true: raw encrypted UDP has no flow
// control of its own.
func (c *directConn) RequiresCongestionManagement() bool { return true }

// Close tears down the channel.
func (c *directConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// DirectClientConfig configures a DirectClient.
type DirectClientConfig struct {
	// RemoteAddr is the server's "host:port" UDP address. Required.
	RemoteAddr string

	// PSK secures the DTLS channel. Required and must match the server.
	PSK []byte

	// PSKIdentityHint identifies this client to the server (default
	// "peerplay").
	PSKIdentityHint []byte

	// OnData is raised for each received datagram.
	OnData func(data []byte)

	// OnDisconnected is raised when the channel ends. reason is nil
	// for an orderly close.
	OnDisconnected func(reason error)

	// HandshakeTimeout bounds Connect (default 10s).
	HandshakeTimeout time.Duration

	// LoggerFactory creates the client's logger. If nil, logging is
	// disabled.
	LoggerFactory logging.LoggerFactory
}

// DirectClient is the single-peer side of the direct backend.
type DirectClient struct {
	config DirectClientConfig
	log    logging.LeveledLogger

	mu      sync.Mutex
	conn    *dtls.Conn
	id      Identity
	started bool
	closed  bool

	wg sync.WaitGroup
}

// NewDirectClient creates a direct-backend client.
func NewDirectClient(config DirectClientConfig) (*DirectClient, error) {
	if len(config.PSK) == 0 {
		return nil, ErrNoPSK
	}
	if config.PSKIdentityHint == nil {
		config.PSKIdentityHint = []byte("peerplay")
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}

	c := &DirectClient{config: config}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("transport-direct")
	}
	return c, nil
}

// Connect dials the server and completes the encryption handshake. It
// fails fast: an unreachable server or failed handshake is reported,
// never retried internally.
func (c *DirectClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	addr, err := net.ResolveUDPAddr("udp", c.config.RemoteAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	conn, err := dtls.Dial("udp", addr, pskConfig(c.config.PSK, c.config.PSKIdentityHint))
	if err != nil {
		return fmt.Errorf("%w: dtls dial: %v", ErrServiceUnavailable, err)
	}

	hctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	err = conn.HandshakeContext(hctx)
	cancel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.id = Identity(conn.RemoteAddr().String())
	c.mu.Unlock()

	if c.log != nil {
		c.log.Infof("connected to %s", c.id)
	}

	c.wg.Add(1)
	go c.readLoop(conn)
	return nil
}

func (c *DirectClient) readLoop(conn *dtls.Conn) {
	defer c.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()

			reason := err
			if closed {
				reason = nil
			}
			if c.log != nil {
				c.log.Infof("disconnected: %v", reason)
			}
			if c.config.OnDisconnected != nil {
				c.config.OnDisconnected(reason)
			}
			return
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if c.config.OnData != nil {
			c.config.OnData(data)
		}
	}
}

// Send transmits one encrypted datagram to the server.
func (c *DirectClient) Send(data []byte, _ bool) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotStarted
	}
	_, err := conn.Write(data)
	return err
}

// Identity returns the server's endpoint identity.
func (c *DirectClient) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// RequiresCongestionManagement is true: raw encrypted UDP has no flow
// control of its own.
func (c *DirectClient) RequiresCongestionManagement() bool { return true }

// Close tears down the channel and waits for the receive loop.
func (c *DirectClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	return nil
}

// Verify DirectClient and directConn satisfy the per-peer contract.
var (
	_ Conn = (*DirectClient)(nil)
	_ Conn = (*directConn)(nil)
)
