// Package plotdata holds the live data behind each signal's plot: the sample buffer, its running value
// range, and the addressing that maps plot coordinates back onto grid cells.
package plotdata

import "math"

// Buffer is one signal's samples in raster order (x varies fastest). NaN marks a cell not yet measured.
type Buffer struct {
	values []float64
}

func MakeBuffer(size int) *Buffer {
	b := &Buffer{values: make([]float64, size)}
	b.Reset()
	return b
}

func (b *Buffer) Reset() {
	for i := range b.values {
		b.values[i] = math.NaN()
	}
}

func (b *Buffer) Len() int {
	return len(b.values)
}

// Set stores value at index; out-of-range indices are ignored.
func (b *Buffer) Set(index int, value float64) {
	if index >= 0 && index < len(b.values) {
		b.values[index] = value
	}
}

func (b *Buffer) At(index int) float64 {
	if index < 0 || index >= len(b.values) {
		return math.NaN()
	}
	return b.values[index]
}

// Values exposes the backing slice; callers must not keep it across updates.
func (b *Buffer) Values() []float64 {
	return b.values
}

// LeadingMeasured counts the measured cells before the first missing one.
func (b *Buffer) LeadingMeasured() int {
	n := 0
	for n < len(b.values) && !math.IsNaN(b.values[n]) {
		n++
	}
	return n
}

func (b *Buffer) clone() *Buffer {
	return &Buffer{values: append([]float64(nil), b.values...)}
}
