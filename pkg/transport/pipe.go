package transport

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/transport/v3/test"
)

var pipePairSeq atomic.Uint64

// NetworkCondition configures network behavior simulation on a Pipe.
// Use it to exercise loss recovery and congestion response without
// real network I/O.
type NetworkCondition struct {
	// DropRate is the probability of dropping a datagram (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay to add to each datagram.
	DelayMin time.Duration

	// DelayMax is the maximum delay to add to each datagram. The
	// actual delay is uniformly distributed between DelayMin and
	// DelayMax.
	DelayMax time.Duration

	// DuplicateRate is the probability of duplicating a datagram
	// (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic datagram delivery in a background
	// goroutine. Default: true.
	AutoProcess bool

	// ProcessInterval is how often the auto-processor moves datagrams.
	// Default: 1ms.
	ProcessInterval time.Duration

	// Condition is the initial network condition.
	Condition NetworkCondition
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe provides bidirectional in-memory datagram communication between
// two endpoints. It wraps pion's test.Bridge and adds network
// condition simulation, so tests stay deterministic and flaky-free.
type Pipe struct {
	bridge *test.Bridge

	mu          sync.Mutex
	condition   NetworkCondition
	rng         *rand.Rand
	autoProcess bool
	closed      bool

	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup

	ends [2]*PipeConn
}

// NewPipePair creates two channel ends connected by an in-memory pipe
// with auto-processing enabled.
func NewPipePair() (*PipeConn, *PipeConn) {
	return NewPipePairWithConfig(DefaultPipeConfig())
}

// NewPipePairWithConfig creates a connected pair with the given
// configuration. Disable AutoProcess for manual control over datagram
// delivery:
//
//	c0, c1 := transport.NewPipePairWithConfig(transport.PipeConfig{})
//	// ... queue traffic ...
//	c0.Pipe().Process()
func NewPipePairWithConfig(config PipeConfig) (*PipeConn, *PipeConn) {
	if config.ProcessInterval == 0 {
		config.ProcessInterval = 1 * time.Millisecond
	}

	p := &Pipe{
		bridge:          test.NewBridge(),
		condition:       config.Condition,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}

	n := pipePairSeq.Add(1)
	p.ends[0] = &PipeConn{pipe: p, conn: p.bridge.GetConn0(), id: Identity(fmt.Sprintf("pipe-%d-0", n))}
	p.ends[1] = &PipeConn{pipe: p, conn: p.bridge.GetConn1(), id: Identity(fmt.Sprintf("pipe-%d-1", n))}
	for _, end := range p.ends {
		p.wg.Add(1)
		go end.readLoop()
	}

	if p.autoProcess {
		p.wg.Add(1)
		go p.autoProcessLoop()
	}

	return p.ends[0], p.ends[1]
}

func (p *Pipe) autoProcessLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.bridge.Tick()
		}
	}
}

// SetCondition configures network condition simulation. The condition
// applies to datagrams in both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Tick delivers one datagram in each direction if available, returning
// the number delivered. Only needed when auto-processing is disabled.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued datagrams and returns the number
// delivered. Only needed when auto-processing is disabled.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close closes both ends and stops the background goroutines.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	for _, end := range p.ends {
		end.mu.Lock()
		end.closed = true
		end.mu.Unlock()
		end.conn.Close()
	}
	p.wg.Wait()
	return nil
}

// PipeConn is one end of a Pipe. It is a drop-in replacement for a
// network-backed channel in tests.
type PipeConn struct {
	pipe *Pipe
	conn interface {
		Read(b []byte) (int, error)
		Write(b []byte) (int, error)
		Close() error
	}
	id Identity

	mu      sync.Mutex
	handler func(data []byte)
	pending [][]byte
	closed  bool
}

// Pipe returns the underlying pipe for condition and delivery control.
func (c *PipeConn) Pipe() *Pipe { return c.pipe }

// SetDataHandler installs the receive callback. Datagrams received
// before the handler was installed are replayed in order.
func (c *PipeConn) SetDataHandler(handler func(data []byte)) {
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

func (c *PipeConn) readLoop() {
	defer c.pipe.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		c.mu.Lock()
		handler := c.handler
		if handler == nil {
			c.pending = append(c.pending, data)
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()

		handler(data)
	}
}

// Send queues one datagram for the other end, applying the pipe's
// network condition.
func (c *PipeConn) Send(data []byte, _ bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	c.pipe.mu.Lock()
	cond := c.pipe.condition
	drop := cond.DropRate > 0 && c.pipe.rng.Float64() < cond.DropRate
	var delay time.Duration
	if cond.DelayMax > 0 {
		delay = cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(c.pipe.rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
	}
	duplicate := cond.DuplicateRate > 0 && c.pipe.rng.Float64() < cond.DuplicateRate
	c.pipe.mu.Unlock()

	if drop {
		return nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if duplicate {
		if _, err := c.conn.Write(data); err != nil {
			return err
		}
	}

	_, err := c.conn.Write(data)
	return err
}

// Identity returns this end's identity.
func (c *PipeConn) Identity() Identity { return c.id }

// RequiresCongestionManagement is true: the pipe stands in for a lossy
// network path.
func (c *PipeConn) RequiresCongestionManagement() bool { return true }

// Close tears down the whole pipe, both ends included.
func (c *PipeConn) Close() error {
	return c.pipe.Close()
}

var _ Conn = (*PipeConn)(nil)
