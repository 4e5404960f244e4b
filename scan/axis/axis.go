// Package axis describes how one positioner is swept during a scan and turns that description into
// absolute target positions.
package axis

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

type Mode int

const (
	Relative Mode = iota
	Absolute
)

func (m Mode) String() string {
	switch m {
	case Absolute:
		return "absolute"
	case Relative:
		return "relative"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "absolute", "abs":
		return Absolute, nil
	case "relative", "rel":
		return Relative, nil
	default:
		return 0, fmt.Errorf("%w: unknown axis mode %q", ErrInvalidConfiguration, s)
	}
}

// Positioner is the part of a device an axis needs to resolve relative ranges.
type Positioner interface {
	CurrentPosition() float64
}

// Fixed is a position sampled earlier, so that several readers agree on it.
type Fixed float64

func (f Fixed) CurrentPosition() float64 {
	return float64(f)
}

type Spec struct {
	Start  float64
	End    float64
	Points int
	Mode   Mode
}

func (s Spec) Validate() error {
	if s.Points < 2 {
		return fmt.Errorf("%w: axis needs at least 2 points, has %d", ErrInvalidConfiguration, s.Points)
	}
	if math.IsNaN(s.Start) || math.IsNaN(s.End) || math.IsInf(s.Start, 0) || math.IsInf(s.End, 0) {
		return fmt.Errorf("%w: axis range %v ... %v is not finite", ErrInvalidConfiguration, s.Start, s.End)
	}
	return nil
}

// Resolve returns the absolute range the axis will sweep. For relative axes the device position is
// sampled exactly once, here.
func (s Spec) Resolve(pos Positioner) (absStart, absEnd float64, err error) {
	if err := s.Validate(); err != nil {
		return 0, 0, err
	}
	if s.Mode == Absolute {
		return s.Start, s.End, nil
	}
	p := pos.CurrentPosition()
	return s.Start + p, s.End + p, nil
}

func (s Spec) Width() float64 {
	return s.End - s.Start
}

// Step is the distance between neighbouring grid points; zero for an invalid point count.
func (s Spec) Step() float64 {
	if s.Points < 2 {
		return 0
	}
	return s.Width() / float64(s.Points-1)
}

// WithWidth keeps the start and moves the end.
func (s Spec) WithWidth(width float64) Spec {
	s.End = s.Start + width
	return s
}

// WithStep picks the point count whose step is closest to the requested one.
func (s Spec) WithStep(step float64) Spec {
	if step == 0 || math.IsNaN(step) {
		return s
	}
	n := int(math.Round(math.Abs(s.Width()/step))) + 1
	if n < 2 {
		n = 2
	}
	s.Points = n
	return s
}

// Grid returns the absolute target positions of an axis. The result depends only on its arguments, so
// the same call sizes the data buffers and drives the moves. Endpoints are exact.
func Grid(absStart, absEnd float64, points int) []float64 {
	if points < 2 {
		panic("grid needs at least 2 points")
	}
	positions := floats.Span(make([]float64, points), absStart, absEnd)
	positions[0] = absStart
	positions[points-1] = absEnd
	return positions
}
