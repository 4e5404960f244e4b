// Package console is the operator's view of a scan setup: axes, signals and triggers that can be added and
// removed, the readiness of the whole, and the persisted settings behind it.
package console

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/celskeggs/scanmx/scan/axis"
	"github.com/celskeggs/scanmx/scan/device"
	"github.com/celskeggs/scanmx/scan/engine"
	"github.com/celskeggs/scanmx/scan/settings"
	"github.com/celskeggs/scanmx/scan/source"
	"github.com/celskeggs/scanmx/sim/model"
)

var ErrUnknownHandle = errors.New("unknown handle")

// Hardware resolves channel names to the things they name.
type Hardware interface {
	Device(pv string) (device.Device, error)
	Channel(pv string) (source.LiveChannel, error)
	Trigger(pv string) (source.Trigger, error)
}

type Group int

const (
	X Group = iota
	Y
)

func (g Group) String() string {
	if g == Y {
		return "Y"
	}
	return "X"
}

type AxisEntry struct {
	Handle engine.Handle
	Group  Group
	PV     string
	Spec   axis.Spec
	dev    device.Device
	err    error
}

// Device is nil when the PV could not be resolved.
func (a *AxisEntry) Device() device.Device {
	return a.dev
}

type SignalEntry struct {
	Handle engine.Handle
	Name   string
	Script bool
	signal *engine.Signal
	script *source.Script
	err    error
}

// Signal is nil when the name could not be resolved.
func (s *SignalEntry) Signal() *engine.Signal {
	return s.signal
}

type TriggerEntry struct {
	Handle engine.Handle
	PV     string
	Value  string
	trig   source.Trigger
	err    error
}

type Session struct {
	ctx      model.SimContext
	hw       Hardware
	engine   *engine.Engine
	settings *settings.Settings
	path     string
	logger   *log.Logger

	nextHandle engine.Handle
	twoD       bool
	axes       []*AxisEntry
	signals    []*SignalEntry
	triggers   []*TriggerEntry
	lastOutput string

	// WallClock names auto-named output files.
	WallClock func() time.Time
}

// NewSession restores a session from settings. Entries whose channels cannot be resolved are kept, so
// that they survive a save, but keep the session from being ready. A non-empty path makes every change
// persist there.
func NewSession(ctx model.SimContext, hw Hardware, st *settings.Settings, path string, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Session{
		ctx:       ctx,
		hw:        hw,
		engine:    engine.MakeEngine(ctx, logger),
		settings:  st,
		path:      path,
		logger:    logger,
		twoD:      st.TwoD,
		WallClock: time.Now,
	}
	var errs error
	for _, group := range []struct {
		g    Group
		axes []settings.Axis
	}{{X, st.X}, {Y, st.Y}} {
		for _, a := range group.axes {
			spec, err := a.Spec()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("axis %s: %w", a.PV, err))
			}
			s.addAxis(group.g, a.PV, spec)
		}
	}
	for _, t := range st.Triggers {
		s.addTrigger(t.PV, t.Value)
	}
	for _, sig := range st.Signals {
		if sig.Script {
			s.addScript(sig.Name)
		} else {
			s.addSignal(sig.Name)
		}
	}
	return s, errs
}

func (s *Session) Engine() *engine.Engine {
	return s.engine
}

func (s *Session) Settings() *settings.Settings {
	return s.settings
}

func (s *Session) handle() engine.Handle {
	s.nextHandle++
	return s.nextHandle
}

func (s *Session) TwoD() bool {
	return s.twoD
}

func (s *Session) SetTwoD(twoD bool) error {
	if s.engine.Busy() {
		return engine.ErrAlreadyRunning
	}
	s.twoD = twoD
	return s.store()
}

func (s *Session) addAxis(g Group, pv string, spec axis.Spec) *AxisEntry {
	a := &AxisEntry{Handle: s.handle(), Group: g, PV: pv, Spec: spec}
	a.dev, a.err = s.hw.Device(pv)
	s.axes = append(s.axes, a)
	return a
}

// AddAxis appends an axis to a group. An unknown PV is accepted; it only keeps the session from being ready.
func (s *Session) AddAxis(g Group, pv string, spec axis.Spec) (engine.Handle, error) {
	if s.engine.Busy() {
		return 0, engine.ErrAlreadyRunning
	}
	a := s.addAxis(g, pv, spec)
	return a.Handle, s.store()
}

func (s *Session) Axes(g Group) []*AxisEntry {
	var out []*AxisEntry
	for _, a := range s.axes {
		if a.Group == g {
			out = append(out, a)
		}
	}
	return out
}

func (s *Session) axis(h engine.Handle) (int, *AxisEntry, error) {
	for i, a := range s.axes {
		if a.Handle == h {
			return i, a, nil
		}
	}
	return -1, nil, fmt.Errorf("%w: axis %d", ErrUnknownHandle, h)
}

// SetAxisSpec edits an axis; every axis of a group shares its point count, so the others follow.
func (s *Session) SetAxisSpec(h engine.Handle, spec axis.Spec) error {
	if s.engine.Busy() {
		return engine.ErrAlreadyRunning
	}
	_, a, err := s.axis(h)
	if err != nil {
		return err
	}
	a.Spec = spec
	for _, other := range s.Axes(a.Group) {
		other.Spec.Points = spec.Points
	}
	return s.store()
}

func (s *Session) SetAxisPV(h engine.Handle, pv string) error {
	if s.engine.Busy() {
		return engine.ErrAlreadyRunning
	}
	_, a, err := s.axis(h)
	if err != nil {
		return err
	}
	a.PV = pv
	a.dev, a.err = s.hw.Device(pv)
	return s.store()
}

func (s *Session) RemoveAxis(h engine.Handle) error {
	if s.engine.Busy() {
		return engine.ErrAlreadyRunning
	}
	i, _, err := s.axis(h)
	if err != nil {
		return err
	}
	s.axes = append(s.axes[:i:i], s.axes[i+1:]...)
	return s.store()
}

func (s *Session) addSignal(name string) *SignalEntry {
	e := &SignalEntry{Handle: s.handle(), Name: name}
	ch, err := s.hw.Channel(name)
	if err != nil {
		e.err = err
	} else {
		e.signal = engine.NewSignal(e.Handle, ch)
	}
	s.signals = append(s.signals, e)
	if d, ok := s.settings.Catalog.Lookup(name); ok && d.Trigger != "" && !s.hasTrigger(d.Trigger) {
		s.addTrigger(d.Trigger, d.TriggerValue)
	}
	return e
}

func (s *Session) addScript(text string) *SignalEntry {
	e := &SignalEntry{Handle: s.handle(), Name: text, Script: true}
	script, err := source.MakeScript(s.ctx, s.settings.Shell)
	if err != nil {
		e.err = err
	} else {
		if status := script.SetPath(text); status != 0 {
			e.err = fmt.Errorf("script syntax check exited with status %d", status)
		}
		e.script = script
		e.signal = engine.NewSignal(e.Handle, script)
	}
	s.signals = append(s.signals, e)
	return e
}

// AddSignal adds a live channel. Detectors the catalog knows to need a trigger bring that trigger along.
func (s *Session) AddSignal(name string) (engine.Handle, error) {
	if s.engine.Busy() {
		return 0, engine.ErrAlreadyRunning
	}
	e := s.addSignal(name)
	return e.Handle, s.store()
}

// AddScript adds a signal computed by running text with the configured shell at every point.
func (s *Session) AddScript(text string) (engine.Handle, error) {
	if s.engine.Busy() {
		return 0, engine.ErrAlreadyRunning
	}
	e := s.addScript(text)
	return e.Handle, s.store()
}

func (s *Session) Signals() []*SignalEntry {
	return append([]*SignalEntry(nil), s.signals...)
}

func (s *Session) RemoveSignal(h engine.Handle) error {
	if s.engine.Busy() {
		return engine.ErrAlreadyRunning
	}
	for i, e := range s.signals {
		if e.Handle == h {
			s.signals = append(s.signals[:i:i], s.signals[i+1:]...)
			var errs error
			if e.script != nil {
				errs = multierror.Append(errs, e.script.Close())
			}
			return multierror.Append(errs, s.store()).ErrorOrNil()
		}
	}
	return fmt.Errorf("%w: signal %d", ErrUnknownHandle, h)
}

func (s *Session) hasTrigger(pv string) bool {
	for _, t := range s.triggers {
		if t.PV == pv {
			return true
		}
	}
	return false
}

func (s *Session) addTrigger(pv, value string) *TriggerEntry {
	t := &TriggerEntry{Handle: s.handle(), PV: pv, Value: value}
	t.trig, t.err = s.hw.Trigger(pv)
	s.triggers = append(s.triggers, t)
	return t
}

func (s *Session) AddTrigger(pv, value string) (engine.Handle, error) {
	if s.engine.Busy() {
		return 0, engine.ErrAlreadyRunning
	}
	t := s.addTrigger(pv, value)
	return t.Handle, s.store()
}

func (s *Session) Triggers() []*TriggerEntry {
	return append([]*TriggerEntry(nil), s.triggers...)
}

func (s *Session) RemoveTrigger(h engine.Handle) error {
	if s.engine.Busy() {
		return engine.ErrAlreadyRunning
	}
	for i, t := range s.triggers {
		if t.Handle == h {
			s.triggers = append(s.triggers[:i:i], s.triggers[i+1:]...)
			return s.store()
		}
	}
	return fmt.Errorf("%w: trigger %d", ErrUnknownHandle, h)
}

// FireTriggers writes every trigger once, outside of any scan.
func (s *Session) FireTriggers() error {
	var errs error
	for _, t := range s.triggers {
		if t.trig == nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: trigger %s: %v", engine.ErrNotReady, t.PV, t.err))
			continue
		}
		if err := t.trig.Fire(t.Value); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("trigger %s: %w", t.PV, err))
		}
	}
	return errs
}
