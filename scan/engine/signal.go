package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/celskeggs/scanmx/scan/plotdata"
	"github.com/celskeggs/scanmx/scan/source"
)

// Handle identifies an axis, signal or trigger independently of where it sits in any list.
type Handle int

// Signal is one sampled value: its source, and the plot its samples accumulate in.
type Signal struct {
	handle Handle
	src    source.Source
	plot   *plotdata.Plot
	log    bool
}

func NewSignal(h Handle, src source.Source) *Signal {
	return &Signal{handle: h, src: src}
}

func (s *Signal) Handle() Handle {
	return s.handle
}

func (s *Signal) Name() string {
	return s.src.Name()
}

func (s *Signal) Source() source.Source {
	return s.src
}

// Plot is nil until the signal has taken part in a scan. It belongs to the scheduler goroutine; other
// goroutines read Plot().Snapshot() taken there.
func (s *Signal) Plot() *plotdata.Plot {
	return s.plot
}

// SetLogarithmic chooses the colour scale, now and for every later scan.
func (s *Signal) SetLogarithmic(log bool) {
	s.log = log
	if s.plot != nil {
		s.plot.SetLogarithmic(log)
	}
}

func (s *Signal) reset(p *plotdata.Plot) {
	p.SetLogarithmic(s.log)
	s.plot = p
}

func checkSource(src source.Source) error {
	switch src.(type) {
	case source.LiveChannel, source.Runner:
		return nil
	default:
		return fmt.Errorf("%w: signal %s can be neither monitored nor run", ErrInvalidConfiguration, src.Name())
	}
}

func (s *Signal) beforeGet() {
	if ch, ok := s.src.(source.LiveChannel); ok {
		ch.ArmNextUpdate()
	}
}

// acquire obtains this point's value. Failures yield NaN and an error describing why; a live channel that
// times out still yields its last known value.
func (s *Signal) acquire(w source.Waiter, timeout time.Duration) (float64, error) {
	if !s.src.IsConnected() {
		return math.NaN(), fmt.Errorf("%w: %s is disconnected", ErrSignalUnavailable, s.Name())
	}
	switch src := s.src.(type) {
	case source.LiveChannel:
		v, fresh := source.BlockUntilNextUpdate(w, src, timeout)
		if !fresh {
			return v, fmt.Errorf("%w: no update from %s within %v", ErrSignalUnavailable, s.Name(), timeout)
		}
		return v, nil
	case source.Runner:
		if !src.Launch() {
			return math.NaN(), fmt.Errorf("%w: could not launch %s", ErrSignalUnavailable, s.Name())
		}
		for !src.Finished() {
			w.YieldWait(src)
		}
		if status := src.BlockUntilFinished(); status != 0 {
			return math.NaN(), fmt.Errorf("%w: %s exited with status %d", ErrSignalUnavailable, s.Name(), status)
		}
		v, ok := source.ParseValue(src.CapturedOutput())
		if !ok {
			return math.NaN(), fmt.Errorf("%w: %s printed no number", ErrSignalUnavailable, s.Name())
		}
		return v, nil
	default:
		panic("signal source was not checked before the scan")
	}
}

// store writes a sample into the plot and reports whether the plot's range changed.
func (s *Signal) store(index int, v float64) bool {
	s.plot.Set(index, v)
	return s.plot.UpdateIncremental(v)
}
