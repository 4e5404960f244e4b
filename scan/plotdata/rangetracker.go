package plotdata

import "math"

type Interval struct {
	Min, Max float64
}

func (iv Interval) Width() float64 {
	return iv.Max - iv.Min
}

// Contains is inclusive and accepts reversed intervals.
func (iv Interval) Contains(v float64) bool {
	lo, hi := iv.Min, iv.Max
	if lo > hi {
		lo, hi = hi, lo
	}
	return v >= lo && v <= hi
}

// RangeTracker keeps the running minimum and maximum of the finite samples seen. NaN bounds mean no
// finite sample has been seen yet.
type RangeTracker struct {
	min, max float64
}

func MakeRangeTracker() RangeTracker {
	return RangeTracker{min: math.NaN(), max: math.NaN()}
}

func (rt *RangeTracker) Min() float64 {
	return rt.min
}

func (rt *RangeTracker) Max() float64 {
	return rt.max
}

func (rt *RangeTracker) Interval() Interval {
	return Interval{Min: rt.min, Max: rt.max}
}

// FullRescan recomputes the range from scratch.
func (rt *RangeTracker) FullRescan(values []float64) {
	rt.min, rt.max = math.NaN(), math.NaN()
	for _, v := range values {
		rt.Observe(v)
	}
}

// Observe folds in one new sample and reports whether the range changed. Non-finite samples are ignored.
func (rt *RangeTracker) Observe(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	changed := false
	if math.IsNaN(rt.min) || v < rt.min {
		rt.min = v
		changed = true
	}
	if math.IsNaN(rt.max) || v > rt.max {
		rt.max = v
		changed = true
	}
	return changed
}

// DisplayInterval is the range to draw. Missing bounds count as zero, and an empty range is widened so
// that a constant signal still gets a usable scale.
func (rt *RangeTracker) DisplayInterval() Interval {
	return Widen(rt.Interval())
}

// Widen applies the display policy to a raw interval: NaN bounds become 0; a zero-width interval becomes
// [-1,1] around zero, or [0.9v, 1.9v] otherwise.
func Widen(iv Interval) Interval {
	if math.IsNaN(iv.Min) {
		iv.Min = 0
	}
	if math.IsNaN(iv.Max) {
		iv.Max = 0
	}
	if iv.Width() == 0 {
		if iv.Min == 0 {
			return Interval{Min: -1, Max: 1}
		}
		return Interval{Min: iv.Min * 0.9, Max: iv.Min * 1.9}
	}
	return iv
}
