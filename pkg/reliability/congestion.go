package reliability

import "time"

// Mode is the current send cadence.
type Mode uint8

const (
	// ModeFast is the high-frequency send cadence.
	ModeFast Mode = iota

	// ModeSlow is the reduced cadence used while the channel is
	// congested.
	ModeSlow
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeFast:
		return "fast"
	case ModeSlow:
		return "slow"
	default:
		return "unknown"
	}
}

// congestionState is the two-state send-rate machine. The dwell
// threshold adapts: flapping between modes doubles it, sustained
// stability in fast mode halves it.
//
// Not safe for concurrent use; the Controller serializes access.
type congestionState struct {
	params Params

	mode          Mode
	dwell         time.Duration // required continuous good time for slow -> fast
	enteredFastAt time.Time
	lastReward    time.Time
	belowSince    time.Time // zero while the RTT sits above threshold

	now func() time.Time
}

func newCongestionState(params Params, now func() time.Time) *congestionState {
	return &congestionState{
		params:        params,
		mode:          ModeFast,
		dwell:         params.Dwell,
		enteredFastAt: now(),
		lastReward:    now(),
		now:           now,
	}
}

// update advances the state machine with the current smoothed RTT.
func (c *congestionState) update(rtt time.Duration) {
	now := c.now()
	congested := rtt > c.params.CongestionThreshold

	switch c.mode {
	case ModeFast:
		if congested {
			c.mode = ModeSlow
			c.belowSince = time.Time{}
			// Leaving fast mode quickly after entering it means the
			// channel is flapping: demand a longer proof of stability
			// before trusting it again.
			if now.Sub(c.enteredFastAt) < c.params.FlapWindow {
				c.dwell *= 2
				if c.dwell > c.params.DwellMax {
					c.dwell = c.params.DwellMax
				}
			}
			return
		}
		if now.Sub(c.lastReward) >= c.params.StableReward {
			c.dwell /= 2
			if c.dwell < c.params.DwellMin {
				c.dwell = c.params.DwellMin
			}
			c.lastReward = now
		}

	case ModeSlow:
		if congested {
			c.belowSince = time.Time{}
			return
		}
		if c.belowSince.IsZero() {
			c.belowSince = now
			return
		}
		if now.Sub(c.belowSince) >= c.dwell {
			c.mode = ModeFast
			c.enteredFastAt = now
			c.lastReward = now
		}
	}
}

// interval returns the send cadence for the current mode.
func (c *congestionState) interval() time.Duration {
	if c.mode == ModeSlow {
		return c.params.SlowInterval
	}
	return c.params.FastInterval
}
