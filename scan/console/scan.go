package console

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/celskeggs/scanmx/scan/engine"
	"github.com/celskeggs/scanmx/scan/settings"
)

func (s *Session) axesConfig(g Group) ([]engine.Axis, error) {
	var errs error
	var out []engine.Axis
	for _, a := range s.Axes(g) {
		if a.dev == nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: %s axis %s: %v", engine.ErrNotReady, g, a.PV, a.err))
			continue
		}
		out = append(out, engine.Axis{Device: a.dev, Spec: a.Spec})
	}
	return out, errs
}

// Config assembles the engine configuration, without an output path.
func (s *Session) Config() (engine.Config, error) {
	st := s.settings
	var errs error
	cfg := engine.Config{
		RelaxDelay:    st.RelaxDelay.Duration,
		SignalTimeout: st.SignalTimeout.Duration,
		StopOnLimit:   st.StopOnLimit,
	}
	after, err := engine.ParseAfterScan(st.After)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	cfg.After = after

	if cfg.X, err = s.axesConfig(X); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.twoD {
		if cfg.Y, err = s.axesConfig(Y); err != nil {
			errs = multierror.Append(errs, err)
		}
		if len(s.Axes(Y)) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("%w: 2D scan without a Y axis", engine.ErrInvalidConfiguration))
		}
	}
	for _, e := range s.signals {
		if e.signal == nil || e.err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: signal %s: %v", engine.ErrNotReady, e.Name, e.err))
			continue
		}
		cfg.Signals = append(cfg.Signals, e.signal)
	}
	for _, t := range s.triggers {
		if t.trig == nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: trigger %s: %v", engine.ErrNotReady, t.PV, t.err))
			continue
		}
		cfg.Triggers = append(cfg.Triggers, engine.TriggerSetting{Trigger: t.trig, Value: t.Value})
	}
	return cfg, errs
}

// Ready reports everything that keeps a scan from starting now, or nil.
func (s *Session) Ready() error {
	if s.engine.Busy() {
		return engine.ErrAlreadyRunning
	}
	cfg, err := s.Config()
	errs := multierror.Append(err, cfg.Validate(), cfg.Ready())
	if _, err := settings.PrepareOutput(s.settings.Output, s.WallClock()); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// Start begins a scan recorded to a freshly prepared output file.
func (s *Session) Start() error {
	cfg, err := s.Config()
	if err != nil {
		return err
	}
	path, err := settings.PrepareOutput(s.settings.Output, s.WallClock())
	if err != nil {
		return err
	}
	cfg.OutputPath = path
	if err := s.engine.Start(cfg); err != nil {
		return err
	}
	s.lastOutput = path
	s.logger.Printf("recording scan to %s", path)
	return nil
}

// StartStop is the console's single start/stop button.
func (s *Session) StartStop() error {
	if s.engine.State().Active() {
		s.engine.RequestStop()
		return nil
	}
	return s.Start()
}

// LastOutput is the record file of the most recent scan.
func (s *Session) LastOutput() string {
	return s.lastOutput
}

// SaveResultAs copies the last record file elsewhere.
func (s *Session) SaveResultAs(path string) error {
	if s.lastOutput == "" {
		return fmt.Errorf("%w: nothing recorded yet", engine.ErrNotReady)
	}
	if s.engine.Busy() {
		return engine.ErrAlreadyRunning
	}
	return engine.CopyOutput(s.lastOutput, path)
}

func (s *Session) snapshot() {
	st := s.settings
	st.TwoD = s.twoD
	st.X, st.Y = nil, nil
	for _, a := range s.axes {
		sa := settings.AxisFromSpec(a.PV, a.Spec)
		if a.Group == Y {
			st.Y = append(st.Y, sa)
		} else {
			st.X = append(st.X, sa)
		}
	}
	st.Signals = nil
	for _, e := range s.signals {
		st.Signals = append(st.Signals, settings.Signal{Name: e.Name, Script: e.Script})
	}
	st.Triggers = nil
	for _, t := range s.triggers {
		st.Triggers = append(st.Triggers, settings.Trigger{PV: t.PV, Value: t.Value})
	}
}

// store brings the settings up to date with the session and saves them, if the session has a file.
func (s *Session) store() error {
	s.snapshot()
	if s.path == "" {
		return nil
	}
	return s.settings.Save(s.path)
}

// SetOutput changes where results are recorded.
func (s *Session) SetOutput(o settings.Output) error {
	s.settings.Output = o
	return s.store()
}

func (s *Session) Close() error {
	var errs error
	for _, e := range s.signals {
		if e.script != nil {
			if err := e.script.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs
}
