// Package relay connects peers through WebRTC data channels. ICE
// tries direct host and reflexive routes first and falls back to a
// TURN relay when both sides sit behind unfriendly NATs. Channels are
// unordered with retransmits disabled, so delivery over the relay is
// best effort; see Conn.RequiresCongestionManagement.
package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/peerplay/peerplay/pkg/transport"
)

const channelLabel = "peerplay"

// Signaler exchanges session descriptions with the remote peer.
// rendezvous.Exchange satisfies it.
type Signaler interface {
	SendOffer(ctx context.Context, sdp string) error
	RecvOffer(ctx context.Context) (string, error)
	SendAnswer(ctx context.Context, sdp string) error
	RecvAnswer(ctx context.Context) (string, error)
}

// Config configures a relay channel end.
type Config struct {
	// Signaler trades descriptions with the peer. Required.
	Signaler Signaler

	// LocalID and RemoteID are the endpoint identities. Dial refuses
	// to proceed when they are equal.
	LocalID  transport.Identity
	RemoteID transport.Identity

	// ICEServers overrides the STUN/TURN servers (default Google's
	// public STUN server).
	ICEServers []webrtc.ICEServer

	// OnData is raised for each received datagram.
	OnData func(data []byte)

	// OnDisconnected is raised when the channel ends. reason is nil
	// for an orderly close.
	OnDisconnected func(reason error)

	// LoggerFactory creates the logger. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Conn is one end of a relay channel.
type Conn struct {
	config Config
	log    logging.LeveledLogger

	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	mu     sync.Mutex
	open   bool
	closed bool
}

// SelfPair returns in-process ends for a self session. Dialing one's
// own identity through the relay service is refused server-side, so
// local play short-circuits to a loopback pair.
func SelfPair() (*transport.LoopbackConn, *transport.LoopbackConn) {
	return transport.NewLoopbackPair()
}

// Dial opens a relay channel as the offering side. The joiner dials;
// the host runs Accept.
func Dial(ctx context.Context, config Config) (*Conn, error) {
	c, err := newConn(config)
	if err != nil {
		return nil, err
	}

	f := false
	var zero uint16
	dc, err := c.pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{
		Ordered:        &f,
		MaxRetransmits: &zero,
	})
	if err != nil {
		c.pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	opened := c.attachChannel(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.localDescription(offer); err != nil {
		c.pc.Close()
		return nil, err
	}
	if err := config.Signaler.SendOffer(ctx, c.pc.LocalDescription().SDP); err != nil {
		c.pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrSignaling, err)
	}

	answer, err := config.Signaler.RecvAnswer(ctx)
	if err != nil {
		c.pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrSignaling, err)
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		c.pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrSignaling, err)
	}

	return c.waitOpen(ctx, opened)
}

// Accept opens a relay channel as the answering side.
func Accept(ctx context.Context, config Config) (*Conn, error) {
	c, err := newConn(config)
	if err != nil {
		return nil, err
	}

	opened := make(chan struct{})
	var once sync.Once
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != channelLabel {
			return
		}
		ch := c.attachChannel(dc)
		go func() {
			<-ch
			once.Do(func() { close(opened) })
		}()
	})

	offer, err := config.Signaler.RecvOffer(ctx)
	if err != nil {
		c.pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrSignaling, err)
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		c.pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrSignaling, err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.localDescription(answer); err != nil {
		c.pc.Close()
		return nil, err
	}
	if err := config.Signaler.SendAnswer(ctx, c.pc.LocalDescription().SDP); err != nil {
		c.pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrSignaling, err)
	}

	return c.waitOpen(ctx, opened)
}

func newConn(config Config) (*Conn, error) {
	if config.Signaler == nil {
		return nil, fmt.Errorf("%w: no signaler", ErrSignaling)
	}
	if config.LocalID != "" && config.LocalID == config.RemoteID {
		return nil, ErrSelfConnect
	}
	if config.ICEServers == nil {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}

	c := &Conn{config: config, pc: pc}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("relay")
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if c.log != nil {
			c.log.Debugf("connection state %s", state)
		}
		if state == webrtc.PeerConnectionStateFailed {
			c.teardown(fmt.Errorf("relay: connection failed"))
		}
	})
	return c, nil
}

// localDescription applies the description and waits for ICE
// gathering so the signaled SDP carries every candidate. One shot
// signaling avoids trickle plumbing through the lobby service.
func (c *Conn) localDescription(desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return nil
}

func (c *Conn) attachChannel(dc *webrtc.DataChannel) <-chan struct{} {
	opened := make(chan struct{})

	dc.OnOpen(func() {
		c.mu.Lock()
		c.dc = dc
		c.open = true
		c.mu.Unlock()
		close(opened)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.config.OnData != nil {
			c.config.OnData(msg.Data)
		}
	})
	dc.OnClose(func() {
		c.teardown(nil)
	})

	return opened
}

func (c *Conn) waitOpen(ctx context.Context, opened <-chan struct{}) (*Conn, error) {
	select {
	case <-opened:
		if c.log != nil {
			c.log.Infof("relay channel to %s open", c.config.RemoteID)
		}
		return c, nil
	case <-ctx.Done():
		c.pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrSignaling, ctx.Err())
	}
}

func (c *Conn) teardown(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	wasOpen := c.open
	c.closed = true
	c.open = false
	c.mu.Unlock()

	c.pc.Close()
	if wasOpen && c.config.OnDisconnected != nil {
		c.config.OnDisconnected(reason)
	}
}

// Send transmits one datagram over the data channel.
func (c *Conn) Send(data []byte, _ bool) error {
	c.mu.Lock()
	dc := c.dc
	open := c.open
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !open {
		return ErrNotOpen
	}
	return dc.Send(data)
}

// Identity returns the remote endpoint identity.
func (c *Conn) Identity() transport.Identity { return c.config.RemoteID }

// RequiresCongestionManagement is false: the channel rides on SCTP,
// which brings its own flow control, and throttling twice starves the
// session for no benefit. Because the channel also disables its own
// retransmits, reliable segments get no resend from either layer
// here; over the relay every segment is best effort.
func (c *Conn) RequiresCongestionManagement() bool { return false }

// Close tears down the channel without raising the disconnect event.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	c.mu.Unlock()
	return c.pc.Close()
}

var _ transport.Conn = (*Conn)(nil)
