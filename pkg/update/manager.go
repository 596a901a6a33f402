// Package update implements the per-peer update/sequencing manager: it
// owns the outgoing sequence counter and acknowledgement state, drives
// the periodic send tick at the cadence chosen by the reliability
// controller, and merges pending retransmissions with newly queued
// application segments into outgoing packets.
package update

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/peerplay/peerplay/pkg/reliability"
	"github.com/peerplay/peerplay/pkg/wire"
)

// PacketSender is the transport-facing side of the manager. Send is
// fire-and-forget: it never blocks on acknowledgement.
type PacketSender interface {
	// Send transmits one encoded packet. reliable marks packets that
	// carry at least one reliable segment.
	Send(data []byte, reliable bool) error

	// RequiresCongestionManagement reports whether the transport needs
	// application-level rate control and retransmission. Backends with
	// built-in flow control opt out, avoiding double throttling.
	RequiresCongestionManagement() bool
}

// PayloadHandler receives application data segments from inbound
// packets. reliable reports how the sender tagged the segment.
type PayloadHandler func(payload []byte, reliable bool)

// ChunkHandler receives chunk segments from inbound packets.
type ChunkHandler func(h wire.ChunkHeader, data []byte)

// Config configures a Manager.
type Config struct {
	// Sender transmits outgoing packets. Required.
	Sender PacketSender

	// Params tunes the reliability controller. Ignored when the sender
	// opts out of congestion management.
	Params reliability.Params

	// PayloadHandler is called for each inbound data segment.
	PayloadHandler PayloadHandler

	// ChunkHandler is called for each inbound chunk segment.
	ChunkHandler ChunkHandler

	// LoggerFactory creates the manager's logger. If nil, logging is
	// disabled.
	LoggerFactory logging.LoggerFactory
}

// Manager multiplexes two independent directions of sequence/ack
// bookkeeping onto one wire-packet stream for a single peer.
//
// The send tick and the transport receive loop call into the manager
// concurrently; all shared state is guarded by one mutex.
type Manager struct {
	sender     PacketSender
	controller *reliability.Controller // nil when the sender opts out
	payloadFn  PayloadHandler
	chunkFn    ChunkHandler
	log        logging.LeveledLogger

	fastInterval time.Duration

	mu         sync.Mutex
	nextSeq    uint16
	acks       wire.AckTracker
	reliable   []wire.Segment // pending reliable segments, resends first
	unreliable []wire.Segment

	closeCh chan struct{}
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewManager creates a manager for one peer.
func NewManager(config Config) (*Manager, error) {
	if config.Sender == nil {
		return nil, ErrNoSender
	}

	params := config.Params
	m := &Manager{
		sender:       config.Sender,
		payloadFn:    config.PayloadHandler,
		chunkFn:      config.ChunkHandler,
		fastInterval: reliability.DefaultParams().FastInterval,
		closeCh:      make(chan struct{}),
	}
	if params.FastInterval != 0 {
		m.fastInterval = params.FastInterval
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("update")
	}

	if config.Sender.RequiresCongestionManagement() {
		m.controller = reliability.NewController(reliability.ControllerConfig{
			Params:        params,
			LoggerFactory: config.LoggerFactory,
		})
	}

	return m, nil
}

// Controller returns the reliability controller, or nil when the
// transport manages congestion itself.
func (m *Manager) Controller() *reliability.Controller { return m.controller }

// Start launches the periodic send tick.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.tickLoop()
	return nil
}

// Stop halts the tick loop and discards queued segments. The loop exits
// within one tick interval.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	m.reliable = nil
	m.unreliable = nil
	m.mu.Unlock()

	close(m.closeCh)
	m.wg.Wait()
	return nil
}

// QueueReliable attaches a payload to the next outgoing packet as a
// reliable segment. It is re-enqueued on detected loss until a packet
// carrying it is acknowledged.
func (m *Manager) QueueReliable(payload []byte) error {
	return m.queue(wire.Segment{Kind: wire.SegmentReliable, Payload: payload})
}

// QueueUnreliable attaches a best-effort payload to the next outgoing
// packet.
func (m *Manager) QueueUnreliable(payload []byte) error {
	return m.queue(wire.Segment{Kind: wire.SegmentUnreliable, Payload: payload})
}

// QueueChunk attaches one chunk fragment as a reliable chunk segment.
// Used by the chunk sender.
func (m *Manager) QueueChunk(h wire.ChunkHeader, data []byte) error {
	return m.queue(wire.Segment{Kind: wire.SegmentChunk, Payload: wire.EncodeChunk(h, data)})
}

func (m *Manager) queue(seg wire.Segment) error {
	if len(seg.Payload) > wire.MaxSegmentPayload {
		return ErrPayloadTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if seg.Reliable() {
		m.reliable = append(m.reliable, seg)
	} else {
		m.unreliable = append(m.unreliable, seg)
	}
	return nil
}

// HandleDatagram processes one inbound datagram from the transport.
// Malformed input is logged and dropped; it never aborts the caller's
// receive loop.
func (m *Manager) HandleDatagram(data []byte) {
	var p wire.Packet
	if err := p.Decode(data); err != nil {
		if m.log != nil {
			m.log.Warnf("dropping malformed packet (%d bytes): %v", len(data), err)
		}
		return
	}

	m.mu.Lock()
	m.acks.Observe(p.Seq)
	m.mu.Unlock()

	if m.controller != nil && p.HasAck {
		m.controller.OnAck(p.Ack, p.AckField)
	}

	for _, seg := range p.Segments {
		switch seg.Kind {
		case wire.SegmentChunk:
			h, chunkData, err := wire.DecodeChunk(seg.Payload)
			if err != nil {
				if m.log != nil {
					m.log.Warnf("dropping malformed chunk segment: %v", err)
				}
				continue
			}
			if m.chunkFn != nil {
				m.chunkFn(h, chunkData)
			}
		default:
			if m.payloadFn != nil {
				m.payloadFn(seg.Payload, seg.Reliable())
			}
		}
	}
}

// tickLoop drives the periodic send at the controller-selected cadence.
// The interval is re-read every tick so congestion transitions take
// effect without restarting the loop.
func (m *Manager) tickLoop() {
	defer m.wg.Done()

	interval := m.fastInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-m.closeCh:
			return
		case <-timer.C:
		}

		m.Tick()

		if m.controller != nil {
			interval = m.controller.SendInterval()
		}
		timer.Reset(interval)
	}
}

// Tick builds and sends one outgoing packet: loss-detected resends are
// merged back into the reliable queue, queued segments are packed up to
// the datagram size limit, and the send is registered with the
// controller. Exposed for deterministic tests; production use relies on
// the Start loop.
func (m *Manager) Tick() {
	if m.controller != nil {
		if resend := m.controller.DetectLosses(); len(resend) > 0 {
			m.mu.Lock()
			if !m.closed {
				// Resends go to the front so stalled reliable data is
				// retried before new segments.
				m.reliable = append(resend, m.reliable...)
			}
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	p := wire.Packet{Seq: m.nextSeq}
	m.nextSeq++
	if m.acks.Seeded() {
		p.HasAck = true
		p.Ack = m.acks.Ack()
		p.AckField = m.acks.AckField()
	}

	budget := wire.MaxDatagramSize - wire.HeaderSize
	var carried []wire.Segment

	take := func(queue []wire.Segment) []wire.Segment {
		i := 0
		for _, seg := range queue {
			need := wire.SegmentHeaderSize + len(seg.Payload)
			if need > budget || len(p.Segments) == 0xFF {
				break
			}
			p.Segments = append(p.Segments, seg)
			budget -= need
			i++
		}
		return queue[i:]
	}

	m.reliable = take(m.reliable)
	for _, seg := range p.Segments {
		if seg.Reliable() {
			carried = append(carried, seg)
		}
	}
	m.unreliable = take(m.unreliable)
	m.mu.Unlock()

	data, err := p.Encode()
	if err != nil {
		// Queue admission enforces the segment size limit, so this only
		// fires on a programming error.
		if m.log != nil {
			m.log.Errorf("encoding packet %d: %v", p.Seq, err)
		}
		return
	}

	if err := m.sender.Send(data, len(carried) > 0); err != nil {
		if m.log != nil {
			m.log.Warnf("send of packet %d failed: %v", p.Seq, err)
		}
		// Fall through: a failed send still registers with the
		// controller so reliable content is retransmitted.
	}

	if m.controller != nil {
		m.controller.OnPacketSent(p.Seq, carried)
	}
}

// PendingReliable returns the number of queued reliable segments.
func (m *Manager) PendingReliable() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reliable)
}
