// Package settings is the console's persisted configuration, stored as TOML.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/celskeggs/scanmx/scan/axis"
	"github.com/celskeggs/scanmx/scan/engine"
)

// Duration is a time.Duration written as text ("250ms", "1.5s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Axis struct {
	PV     string  `toml:"pv"`
	Start  float64 `toml:"start"`
	End    float64 `toml:"end"`
	Points int     `toml:"points"`
	Mode   string  `toml:"mode"`
}

func (a Axis) Spec() (axis.Spec, error) {
	mode, err := axis.ParseMode(a.Mode)
	if err != nil {
		return axis.Spec{}, err
	}
	s := axis.Spec{Start: a.Start, End: a.End, Points: a.Points, Mode: mode}
	return s, s.Validate()
}

func AxisFromSpec(pv string, s axis.Spec) Axis {
	return Axis{PV: pv, Start: s.Start, End: s.End, Points: s.Points, Mode: s.Mode.String()}
}

// Signal names a live channel, or, with Script set, a script file to run at every point.
type Signal struct {
	Name   string `toml:"name"`
	Script bool   `toml:"script,omitempty"`
}

type Trigger struct {
	PV    string `toml:"pv"`
	Value string `toml:"value"`
}

type Output struct {
	Dir      string `toml:"dir"`
	Name     string `toml:"name"`
	AutoName bool   `toml:"auto_name"`
}

type Settings struct {
	TwoD          bool      `toml:"two_d"`
	X             []Axis    `toml:"x"`
	Y             []Axis    `toml:"y"`
	Signals       []Signal  `toml:"signal"`
	Triggers      []Trigger `toml:"trigger"`
	After         string    `toml:"after_scan"`
	RelaxDelay    Duration  `toml:"relax_delay"`
	SignalTimeout Duration  `toml:"signal_timeout"`
	StopOnLimit   bool      `toml:"stop_on_limit"`
	Output        Output    `toml:"output"`
	Shell         string    `toml:"shell"`
	Catalog       Catalog   `toml:"detector"`
	Sim           Sim       `toml:"sim"`
}

func Default() *Settings {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Settings{
		X:             []Axis{{PV: "sim:mx", Start: -1, End: 1, Points: 21, Mode: axis.Relative.String()}},
		Y:             []Axis{{PV: "sim:my", Start: -1, End: 1, Points: 11, Mode: axis.Relative.String()}},
		Signals:       []Signal{{Name: "sim:det"}},
		After:         engine.PriorPosition.String(),
		SignalTimeout: Duration{engine.DefaultSignalTimeout},
		Output:        Output{Dir: home, AutoName: true},
		Shell:         "/bin/sh",
		Catalog: Catalog{
			{Name: "sim:det"},
			{Name: "sim:count", Trigger: "sim:count.TRIG", TriggerValue: "1"},
		},
		Sim: DefaultSim(),
	}
}

// Load reads a settings file; keys it does not know are an error so that typos do not pass silently.
func Load(path string) (*Settings, error) {
	s := &Settings{}
	md, err := toml.DecodeFile(path, s)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", engine.ErrInvalidConfiguration, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		var keys []string
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: %s: unknown keys %s", engine.ErrInvalidConfiguration, path, strings.Join(keys, ", "))
	}
	if s.Shell == "" {
		s.Shell = "/bin/sh"
	}
	return s, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist yet.
func LoadOrDefault(path string) (*Settings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Save writes the settings through a temporary file, so a failed write leaves the old file intact.
func (s *Settings) Save(path string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if e := os.Remove(tmp.Name()); e != nil {
				err = multierror.Append(err, e)
			}
		}
	}()
	if err = toml.NewEncoder(tmp).Encode(s); err != nil {
		if e := tmp.Close(); e != nil {
			err = multierror.Append(err, e)
		}
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Validate checks everything that can be checked without hardware.
func (s *Settings) Validate() error {
	var errs error
	if len(s.X) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: no X axis", engine.ErrInvalidConfiguration))
	}
	if s.TwoD && len(s.Y) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: 2D scan without a Y axis", engine.ErrInvalidConfiguration))
	}
	for _, a := range s.axes() {
		if _, err := a.Spec(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("axis %s: %w", a.PV, err))
		}
	}
	if len(s.Signals) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: no signals", engine.ErrInvalidConfiguration))
	}
	if _, err := engine.ParseAfterScan(s.After); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}

func (s *Settings) axes() []Axis {
	all := append([]Axis(nil), s.X...)
	if s.TwoD {
		all = append(all, s.Y...)
	}
	return all
}

// Catalog lists the detectors the console knows about, and the trigger each one needs.
type Catalog []Detector

type Detector struct {
	Name         string `toml:"name"`
	Trigger      string `toml:"trigger,omitempty"`
	TriggerValue string `toml:"trigger_value,omitempty"`
}

func (c Catalog) Lookup(name string) (Detector, bool) {
	for _, d := range c {
		if d.Name == name {
			return d, true
		}
	}
	return Detector{}, false
}

func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, d := range c {
		names[i] = d.Name
	}
	return names
}
