// Package reliability implements round-trip-time estimation, loss
// detection and adaptive send-rate control for the update protocol.
package reliability

import (
	"sync"
	"time"
)

// RTTTracker measures per-packet round-trip times and maintains a
// smoothed estimate. One tracker serves one peer direction.
//
// Thread-safe for concurrent access from the send and receive loops.
type RTTTracker struct {
	params Params

	mu       sync.Mutex
	inflight map[uint16]time.Time
	avg      time.Duration
	haveAck  bool

	now func() time.Time
}

// NewRTTTracker creates a tracker with the given parameters.
func NewRTTTracker(params Params) *RTTTracker {
	return &RTTTracker{
		params:   params.withDefaults(),
		inflight: make(map[uint16]time.Time),
		now:      time.Now,
	}
}

// OnSendPacket starts the stopwatch for an outgoing sequence number.
// If seq is somehow already tracked the prior entry is overwritten; it
// would never be consumed anyway since an ack for it already passed.
func (t *RTTTracker) OnSendPacket(seq uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[seq] = t.now()
}

// OnAckReceived stops the stopwatch for seq and folds the elapsed time
// into the moving average. Unknown sequences are ignored.
func (t *RTTTracker) OnAckReceived(seq uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start, ok := t.inflight[seq]
	if !ok {
		return
	}
	delete(t.inflight, seq)

	sample := t.now().Sub(start)
	if !t.haveAck {
		// Seed directly from the first sample so a cold start does not
		// average against zero.
		t.avg = sample
		t.haveAck = true
		return
	}
	t.avg += time.Duration(float64(sample-t.avg) * t.params.RTTSmoothing)
}

// StopTracking removes seq without contributing to the average. Used
// when a packet is independently declared lost.
func (t *RTTTracker) StopTracking(seq uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, seq)
}

// Average returns the smoothed round-trip estimate, zero before the
// first acknowledgement.
func (t *RTTTracker) Average() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.avg
}

// MaxExpectedRTT returns the adaptive loss-detection timeout: twice the
// smoothed estimate, clamped between the configured bounds. Before the
// first acknowledgement it returns the connect grace period so the loss
// detector does not fire during connection establishment.
func (t *RTTTracker) MaxExpectedRTT() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.haveAck {
		return t.params.ConnectGrace
	}

	expected := 2 * t.avg
	if expected < t.params.MinExpectedRTT {
		return t.params.MinExpectedRTT
	}
	if expected > t.params.MaxExpectedRTT {
		return t.params.MaxExpectedRTT
	}
	return expected
}

// Tracking returns the number of in-flight measurements.
func (t *RTTTracker) Tracking() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}
