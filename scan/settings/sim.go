package settings

import "time"

// Sim describes the simulated bench the console runs against when no real hardware is attached.
type Sim struct {
	// Rate is virtual seconds per wall second.
	Rate      float64       `toml:"rate"`
	Seed      int64         `toml:"seed"`
	Motors    []SimMotor    `toml:"motor"`
	Detectors []SimDetector `toml:"detector"`
}

type SimMotor struct {
	PV           string  `toml:"pv"`
	Description  string  `toml:"description"`
	Position     float64 `toml:"position"`
	Velocity     float64 `toml:"velocity"`
	LowLimit     float64 `toml:"low_limit"`
	HighLimit    float64 `toml:"high_limit"`
	SoftLow      float64 `toml:"soft_low"`
	SoftHigh     float64 `toml:"soft_high"`
	Jitter       float64 `toml:"jitter"`
	Disconnected bool    `toml:"disconnected,omitempty"`
}

// SimDetector reads a gaussian peak over the positions of its input motors. With Trigger set it also
// exposes a trigger channel that makes it publish TriggerDelay after being fired.
type SimDetector struct {
	PV           string    `toml:"pv"`
	Period       Duration  `toml:"period"`
	Noise        float64   `toml:"noise"`
	Inputs       []string  `toml:"inputs"`
	Width        float64   `toml:"width"`
	Sequence     []float64 `toml:"sequence,omitempty"`
	Trigger      string    `toml:"trigger,omitempty"`
	TriggerDelay Duration  `toml:"trigger_delay"`
	Disconnected bool      `toml:"disconnected,omitempty"`
}

func DefaultSim() Sim {
	return Sim{
		Rate: 1,
		Seed: 1,
		Motors: []SimMotor{
			{PV: "sim:mx", Description: "sample stage X", Velocity: 2, LowLimit: -10, HighLimit: 10},
			{PV: "sim:my", Description: "sample stage Y", Velocity: 2, LowLimit: -10, HighLimit: 10},
		},
		Detectors: []SimDetector{
			{PV: "sim:det", Period: Duration{100 * time.Millisecond}, Noise: 0.01, Inputs: []string{"sim:mx", "sim:my"}, Width: 0.5},
			{PV: "sim:count", Noise: 0.05, Inputs: []string{"sim:mx"}, Width: 1,
				Trigger: "sim:count.TRIG", TriggerDelay: Duration{50 * time.Millisecond}},
		},
	}
}
