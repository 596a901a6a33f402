package reliability

import "time"

// Reference tuning for the reliability layer. These values were tuned
// against small-lobby game traffic; they are configuration, not
// load-bearing constants of the algorithm.
const (
	// DefaultRTTSmoothing is the exponential moving average factor:
	// new = old + (sample - old) * smoothing.
	DefaultRTTSmoothing = 0.1

	// DefaultConnectGrace is the expected-RTT value reported before the
	// first acknowledgement arrives. It keeps the loss detector quiet
	// while the handshake and first exchanges complete.
	DefaultConnectGrace = 2 * time.Second

	// DefaultMinExpectedRTT and DefaultMaxExpectedRTT clamp the adaptive
	// loss-detection timeout (2 x smoothed RTT).
	DefaultMinExpectedRTT = 200 * time.Millisecond
	DefaultMaxExpectedRTT = 1 * time.Second

	// DefaultCongestionThreshold is the smoothed RTT above which the
	// channel is considered congested.
	DefaultCongestionThreshold = 250 * time.Millisecond

	// DefaultFastInterval and DefaultSlowInterval are the send cadences
	// for the two congestion modes.
	DefaultFastInterval = 17 * time.Millisecond
	DefaultSlowInterval = 50 * time.Millisecond

	// DefaultDwell is the initial time the RTT must stay below the
	// congestion threshold before switching back to the fast cadence.
	DefaultDwell = 4 * time.Second

	// DefaultDwellMin and DefaultDwellMax bound the adaptive dwell
	// threshold as it is halved on proven stability and doubled on
	// flapping.
	DefaultDwellMin = 1 * time.Second
	DefaultDwellMax = 60 * time.Second

	// DefaultStableReward is how long the channel must remain fast and
	// uncongested before the dwell threshold is halved.
	DefaultStableReward = 10 * time.Second

	// DefaultFlapWindow is the minimum time the channel must have spent
	// in fast mode for a fast-to-slow transition not to count as a flap.
	DefaultFlapWindow = 10 * time.Second
)

// Params holds the tunable constants for RTT estimation, loss detection
// and congestion control. The zero value of any field selects the
// corresponding default.
type Params struct {
	RTTSmoothing        float64
	ConnectGrace        time.Duration
	MinExpectedRTT      time.Duration
	MaxExpectedRTT      time.Duration
	CongestionThreshold time.Duration
	FastInterval        time.Duration
	SlowInterval        time.Duration
	Dwell               time.Duration
	DwellMin            time.Duration
	DwellMax            time.Duration
	StableReward        time.Duration
	FlapWindow          time.Duration
}

// DefaultParams returns the reference tuning.
func DefaultParams() Params {
	return Params{
		RTTSmoothing:        DefaultRTTSmoothing,
		ConnectGrace:        DefaultConnectGrace,
		MinExpectedRTT:      DefaultMinExpectedRTT,
		MaxExpectedRTT:      DefaultMaxExpectedRTT,
		CongestionThreshold: DefaultCongestionThreshold,
		FastInterval:        DefaultFastInterval,
		SlowInterval:        DefaultSlowInterval,
		Dwell:               DefaultDwell,
		DwellMin:            DefaultDwellMin,
		DwellMax:            DefaultDwellMax,
		StableReward:        DefaultStableReward,
		FlapWindow:          DefaultFlapWindow,
	}
}

// withDefaults fills zero fields with the reference values.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.RTTSmoothing == 0 {
		p.RTTSmoothing = d.RTTSmoothing
	}
	if p.ConnectGrace == 0 {
		p.ConnectGrace = d.ConnectGrace
	}
	if p.MinExpectedRTT == 0 {
		p.MinExpectedRTT = d.MinExpectedRTT
	}
	if p.MaxExpectedRTT == 0 {
		p.MaxExpectedRTT = d.MaxExpectedRTT
	}
	if p.CongestionThreshold == 0 {
		p.CongestionThreshold = d.CongestionThreshold
	}
	if p.FastInterval == 0 {
		p.FastInterval = d.FastInterval
	}
	if p.SlowInterval == 0 {
		p.SlowInterval = d.SlowInterval
	}
	if p.Dwell == 0 {
		p.Dwell = d.Dwell
	}
	if p.DwellMin == 0 {
		p.DwellMin = d.DwellMin
	}
	if p.DwellMax == 0 {
		p.DwellMax = d.DwellMax
	}
	if p.StableReward == 0 {
		p.StableReward = d.StableReward
	}
	if p.FlapWindow == 0 {
		p.FlapWindow = d.FlapWindow
	}
	return p
}
