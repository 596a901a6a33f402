package reliability

import (
	"testing"
	"time"
)

const (
	goodRTT = 50 * time.Millisecond
	badRTT  = 400 * time.Millisecond
)

func newTestCongestion() (*congestionState, *fakeClock) {
	clock := newFakeClock()
	return newCongestionState(DefaultParams(), clock.now), clock
}

func TestCongestionStartsFast(t *testing.T) {
	c, _ := newTestCongestion()

	if c.mode != ModeFast {
		t.Errorf("initial mode = %v, want fast", c.mode)
	}
	if c.interval() != DefaultFastInterval {
		t.Errorf("interval = %v, want %v", c.interval(), DefaultFastInterval)
	}
}

func TestCongestionFastToSlow(t *testing.T) {
	c, clock := newTestCongestion()

	clock.advance(DefaultFlapWindow) // long enough in fast: not a flap
	c.update(badRTT)

	if c.mode != ModeSlow {
		t.Errorf("mode = %v, want slow", c.mode)
	}
	if c.interval() != DefaultSlowInterval {
		t.Errorf("interval = %v, want %v", c.interval(), DefaultSlowInterval)
	}
	if c.dwell != DefaultDwell {
		t.Errorf("dwell = %v, want unchanged %v (no flap)", c.dwell, DefaultDwell)
	}
}

func TestCongestionFlapDoublesDwell(t *testing.T) {
	c, clock := newTestCongestion()

	// Leave fast mode almost immediately: counts as a flap.
	clock.advance(time.Second)
	c.update(badRTT)

	if c.dwell != 2*DefaultDwell {
		t.Errorf("dwell = %v, want doubled %v", c.dwell, 2*DefaultDwell)
	}
}

func TestCongestionDwellCapped(t *testing.T) {
	c, clock := newTestCongestion()
	c.dwell = DefaultDwellMax

	clock.advance(time.Second)
	c.update(badRTT)

	if c.dwell != DefaultDwellMax {
		t.Errorf("dwell = %v, want capped at %v", c.dwell, DefaultDwellMax)
	}
}

func TestCongestionSlowToFastRequiresDwell(t *testing.T) {
	c, clock := newTestCongestion()
	clock.advance(DefaultFlapWindow)
	c.update(badRTT) // -> slow

	// Good RTT, but not yet for the full dwell time.
	c.update(goodRTT)
	clock.advance(c.dwell / 2)
	c.update(goodRTT)
	if c.mode != ModeSlow {
		t.Fatal("switched to fast before dwell time elapsed")
	}

	clock.advance(c.dwell/2 + time.Millisecond)
	c.update(goodRTT)
	if c.mode != ModeFast {
		t.Error("did not switch to fast after dwell time of good RTT")
	}
}

func TestCongestionDwellStopwatchResets(t *testing.T) {
	c, clock := newTestCongestion()
	clock.advance(DefaultFlapWindow)
	c.update(badRTT) // -> slow

	// RTT pokes back above threshold mid-dwell: the stopwatch resets.
	c.update(goodRTT)
	clock.advance(c.dwell - time.Millisecond)
	c.update(badRTT)
	clock.advance(c.dwell - time.Millisecond)
	c.update(goodRTT)
	clock.advance(c.dwell - time.Millisecond)
	c.update(goodRTT)

	if c.mode != ModeSlow {
		t.Error("switched to fast without continuous good RTT for the dwell time")
	}
}

func TestCongestionStabilityHalvesDwell(t *testing.T) {
	c, clock := newTestCongestion()
	c.dwell = 16 * time.Second

	clock.advance(DefaultStableReward)
	c.update(goodRTT)

	if c.dwell != 8*time.Second {
		t.Errorf("dwell = %v, want halved to 8s", c.dwell)
	}

	// Floor is respected.
	c.dwell = DefaultDwellMin
	clock.advance(DefaultStableReward)
	c.update(goodRTT)
	if c.dwell != DefaultDwellMin {
		t.Errorf("dwell = %v, want floor %v", c.dwell, DefaultDwellMin)
	}
}

// Injecting alternating high/low samples faster than the dwell threshold
// must not produce more transitions than the dwell arithmetic allows.
func TestCongestionNoRapidOscillation(t *testing.T) {
	c, clock := newTestCongestion()

	transitions := 0
	prev := c.mode

	// Alternate every 100ms for 20 simulated seconds.
	for i := 0; i < 200; i++ {
		rtt := goodRTT
		if i%2 == 0 {
			rtt = badRTT
		}
		c.update(rtt)
		if c.mode != prev {
			transitions++
			prev = c.mode
		}
		clock.advance(100 * time.Millisecond)
	}

	// Exactly one transition is possible: fast -> slow on the first bad
	// sample. Slow -> fast needs a continuous dwell of good RTT, which
	// alternation never provides.
	if transitions != 1 {
		t.Errorf("transitions = %d, want 1", transitions)
	}
	if c.mode != ModeSlow {
		t.Errorf("mode = %v, want slow", c.mode)
	}
}
