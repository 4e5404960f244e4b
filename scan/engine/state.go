package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/celskeggs/scanmx/scan/axis"
	"github.com/celskeggs/scanmx/scan/device"
	"github.com/celskeggs/scanmx/scan/source"
)

type State int

const (
	Idle State = iota
	Running
	StopRequested
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StopRequested:
		return "stop requested"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Active reports whether a scan occupies the engine.
func (s State) Active() bool {
	return s == Running || s == StopRequested
}

// AfterScan says where the axes go once the scan loop ends, whether it completed or was stopped.
type AfterScan int

const (
	StayPut AfterScan = iota
	StartPosition
	PriorPosition
)

func (a AfterScan) String() string {
	switch a {
	case StayPut:
		return "none"
	case StartPosition:
		return "start position"
	case PriorPosition:
		return "prior position"
	default:
		return fmt.Sprintf("AfterScan(%d)", int(a))
	}
}

func ParseAfterScan(s string) (AfterScan, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "stay":
		return StayPut, nil
	case "start", "start position":
		return StartPosition, nil
	case "prior", "prior position":
		return PriorPosition, nil
	default:
		return 0, fmt.Errorf("%w: unknown after-scan policy %q", ErrInvalidConfiguration, s)
	}
}

// Axis binds a sweep to the device that performs it.
type Axis struct {
	Device device.Device
	Spec   axis.Spec
}

// TriggerSetting is written to its trigger at every point.
type TriggerSetting struct {
	Trigger source.Trigger
	Value   string
}

const DefaultSignalTimeout = 5 * time.Second

type Config struct {
	// X axes move together along the fast dimension; Y axes, when present, make the scan 2-D.
	X        []Axis
	Y        []Axis
	Signals  []*Signal
	Triggers []TriggerSetting
	After    AfterScan
	// RelaxDelay is waited after every Y move.
	RelaxDelay time.Duration
	// SignalTimeout bounds the wait for a fresh live value; zero means DefaultSignalTimeout.
	SignalTimeout time.Duration
	// StopOnLimit turns any limit hit into a stop request instead of just an annotation.
	StopOnLimit bool
	// OutputPath receives the record file; empty keeps results in memory only.
	OutputPath string
}

func (c Config) TwoD() bool {
	return len(c.Y) > 0
}

// Row is one recorded point, in the column order of the output file.
type Row struct {
	Index  int
	Col    int
	Row    int
	X      []float64
	Y      []float64
	Values []float64
	// Rescaled reports that some signal's value range grew with this point.
	Rescaled bool
}

type Result struct {
	ScanID   uuid.UUID
	Output   string
	Points   int
	Total    int
	Complete bool
	// Warnings holds the non-fatal problems met along the way: limit hits and unavailable signals.
	Warnings []error
	// Err is ErrUserCancelled for stopped scans, combined with any failure writing the output.
	Err error
}

// Listener callbacks run on the scheduler goroutine, inside the scan loop; they must not block.
type Listener interface {
	StateChanged(s State)
	PointRecorded(r Row)
}

// ListenerFuncs adapts a pair of optional functions to Listener.
type ListenerFuncs struct {
	OnState func(State)
	OnPoint func(Row)
}

func (lf ListenerFuncs) StateChanged(s State) {
	if lf.OnState != nil {
		lf.OnState(s)
	}
}

func (lf ListenerFuncs) PointRecorded(r Row) {
	if lf.OnPoint != nil {
		lf.OnPoint(r)
	}
}
