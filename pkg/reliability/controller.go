package reliability

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/peerplay/peerplay/pkg/wire"
)

// sentPacket tracks one in-flight update packet between send and
// acknowledgement or loss eviction.
type sentPacket struct {
	reliable []wire.Segment
	sentAt   time.Time
}

// Controller consumes acknowledgements, feeds the RTT tracker, chooses
// the send cadence and flags packets as lost. It owns the sent-packet
// table for one peer direction; the update manager calls it from both
// the send tick and the receive path.
type Controller struct {
	params Params
	rtt    *RTTTracker
	log    logging.LeveledLogger

	mu         sync.Mutex
	sent       map[uint16]*sentPacket
	congestion *congestionState

	now func() time.Time
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Params tunes RTT estimation and congestion control. Zero fields
	// use the reference defaults.
	Params Params

	// LoggerFactory creates the controller's logger. If nil, logging is
	// disabled.
	LoggerFactory logging.LoggerFactory
}

// NewController creates a controller with its own RTT tracker.
func NewController(config ControllerConfig) *Controller {
	params := config.Params.withDefaults()
	c := &Controller{
		params: params,
		rtt:    NewRTTTracker(params),
		sent:   make(map[uint16]*sentPacket),
		now:    time.Now,
	}
	c.congestion = newCongestionState(params, c.now)
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("reliability")
	}
	return c
}

// RTT returns the controller's round-trip tracker.
func (c *Controller) RTT() *RTTTracker { return c.rtt }

// OnPacketSent registers an outgoing packet. reliable holds the
// segments the packet carried that require redelivery on loss; it may
// be nil for packets with only best-effort content.
func (c *Controller) OnPacketSent(seq uint16, reliable []wire.Segment) {
	c.rtt.OnSendPacket(seq)

	c.mu.Lock()
	c.sent[seq] = &sentPacket{reliable: reliable, sentAt: c.now()}
	c.mu.Unlock()
}

// OnAck processes the acknowledgement state carried by an inbound
// packet. The latest ack plus every set bit in the field resolve to
// concrete sequence numbers; each is fed through the RTT and sent-table
// bookkeeping. Redundant acks for already-consumed sequences are no-ops.
func (c *Controller) OnAck(ack uint16, field uint32) {
	for _, seq := range wire.AckedSequences(ack, field) {
		c.mu.Lock()
		_, tracked := c.sent[seq]
		delete(c.sent, seq)
		c.mu.Unlock()

		if tracked {
			c.rtt.OnAckReceived(seq)
		}
	}
}

// DetectLosses evicts every tracked packet whose elapsed time exceeds
// the adaptive loss timeout and returns the reliable segments those
// packets carried, for re-enqueueing. Each packet is evaluated for loss
// at most once: eviction removes it from the table.
func (c *Controller) DetectLosses() []wire.Segment {
	timeout := c.rtt.MaxExpectedRTT()
	now := c.now()

	c.mu.Lock()
	var resend []wire.Segment
	var lost int
	for seq, p := range c.sent {
		if now.Sub(p.sentAt) <= timeout {
			continue
		}
		delete(c.sent, seq)
		lost++
		c.rtt.StopTracking(seq)
		resend = append(resend, p.reliable...)
	}
	c.mu.Unlock()

	if lost > 0 && c.log != nil {
		c.log.Debugf("%d packet(s) lost, %d reliable segment(s) queued for resend", lost, len(resend))
	}
	return resend
}

// SendInterval advances the congestion state machine with the current
// smoothed RTT and returns the cadence for the next send tick.
func (c *Controller) SendInterval() time.Duration {
	avg := c.rtt.Average()

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.congestion.mode
	c.congestion.update(avg)
	if c.congestion.mode != prev && c.log != nil {
		c.log.Infof("congestion mode %s -> %s (rtt %v)", prev, c.congestion.mode, avg)
	}
	return c.congestion.interval()
}

// Mode returns the current congestion mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.congestion.mode
}

// InFlight returns the number of tracked unacknowledged packets.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}
