package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// loopbackPairSeq distinguishes pair identities within a process; a
// registry keyed by identity may hold several loopback peers at once.
var loopbackPairSeq atomic.Uint64

// LoopbackConn is one end of an in-process channel pair. Datagrams
// written to one end are delivered to the other without touching the
// network, so local sessions skip serial dialing, handshakes and
// congestion management entirely.
type LoopbackConn struct {
	id   Identity
	peer *LoopbackConn

	mu      sync.Mutex
	handler func(data []byte)
	pending [][]byte
	closed  bool
}

// NewLoopbackPair creates two connected in-process channel ends.
func NewLoopbackPair() (*LoopbackConn, *LoopbackConn) {
	n := loopbackPairSeq.Add(1)
	a := &LoopbackConn{id: Identity(fmt.Sprintf("loopback-%d-0", n))}
	b := &LoopbackConn{id: Identity(fmt.Sprintf("loopback-%d-1", n))}
	a.peer = b
	b.peer = a
	return a, b
}

// SetDataHandler installs the receive callback. Datagrams delivered
// before the handler was installed are replayed in order.
func (c *LoopbackConn) SetDataHandler(handler func(data []byte)) {
	c.mu.Lock()
	c.handler = handler
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if handler != nil {
		for _, data := range pending {
			handler(data)
		}
	}
}

// Send delivers one datagram to the other end.
func (c *LoopbackConn) Send(data []byte, _ bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	return c.peer.deliver(data)
}

func (c *LoopbackConn) deliver(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	handler := c.handler
	if handler == nil {
		c.pending = append(c.pending, buf)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	handler(buf)
	return nil
}

// Identity returns this end's identity.
func (c *LoopbackConn) Identity() Identity { return c.id }

// RequiresCongestionManagement is false: in-process delivery never
// drops, reorders or queues behind a network path.
func (c *LoopbackConn) RequiresCongestionManagement() bool { return false }

// Close tears down both directions. The peer's subsequent sends fail
// with ErrClosed.
func (c *LoopbackConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.pending = nil
	c.mu.Unlock()
	return nil
}

var _ Conn = (*LoopbackConn)(nil)
