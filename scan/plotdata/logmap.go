package plotdata

import "math"

// LogInterval clamps an interval so that it can be drawn on a logarithmic scale. A wholly non-positive
// interval collapses to [0,0]; otherwise a non-positive minimum is raised to ten decades below the
// maximum.
func LogInterval(iv Interval) Interval {
	if iv.Max <= 0 {
		return Interval{Min: 0, Max: 0}
	}
	if iv.Min <= 0 {
		iv.Min = iv.Max / 1e10
	}
	return iv
}

// LogColorInterval is LogInterval expressed in decades, the domain a logarithmic colour map works in.
func LogColorInterval(iv Interval) Interval {
	clamped := LogInterval(iv)
	if clamped.Max <= 0 {
		return clamped
	}
	return Interval{Min: math.Log10(clamped.Min), Max: math.Log10(clamped.Max)}
}

// LogValue maps a sample into decades. Non-positive and missing samples have no logarithm and become
// NaN, which renderers leave transparent.
func LogValue(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return math.NaN()
	}
	return math.Log10(v)
}

// DisplayRange lets the operator pin either end of the displayed range; unpinned ends follow the data.
type DisplayRange struct {
	FixedMin bool
	FixedMax bool
	Min      float64
	Max      float64
}

func (dr DisplayRange) Apply(auto Interval) Interval {
	if dr.FixedMin {
		auto.Min = dr.Min
	}
	if dr.FixedMax {
		auto.Max = dr.Max
	}
	return auto
}
