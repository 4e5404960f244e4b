package engine

import (
	"bufio"
	"errors"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/celskeggs/scanmx/scan/axis"
	"github.com/celskeggs/scanmx/sim/component"
	"github.com/celskeggs/scanmx/sim/detector"
	"github.com/celskeggs/scanmx/sim/model"
	"github.com/celskeggs/scanmx/sim/motor"
)

type fixture struct {
	t   *testing.T
	sim *component.SimController
	e   *Engine
	out string
}

func newFixture(t *testing.T) *fixture {
	sim := component.MakeSimControllerSeeded(1)
	e := MakeEngine(sim, log.New(io.Discard, "", 0))
	e.WallClock = func() time.Time {
		return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	}
	return &fixture{
		t:   t,
		sim: sim,
		e:   e,
		out: filepath.Join(t.TempDir(), "scan.dat"),
	}
}

func (f *fixture) motor(pv string, cfg motor.Config) *motor.Motor {
	cfg.PV = pv
	if cfg.Velocity == 0 {
		cfg.Velocity = 10
	}
	return cfg.Construct(f.sim)
}

// sequence makes a detector that publishes the given values, one per trigger.
func (f *fixture) sequence(values ...float64) (*detector.Detector, TriggerSetting) {
	det := detector.Config{PV: "sim:det", Sequence: values}.Construct(f.sim)
	trig := detector.MakeTrigger(f.sim, "sim:det.TRIG", 10*time.Millisecond, det)
	return det, TriggerSetting{Trigger: trig, Value: "1"}
}

func (f *fixture) finish() {
	done := f.sim.RunUntil(model.TimeZero.Add(time.Hour), func() bool {
		return f.e.State() == Done
	})
	if !done {
		f.t.Fatalf("scan did not finish; state %v", f.e.State())
	}
}

func (f *fixture) lines() (comments, data []string) {
	file, err := os.Open(f.out)
	if err != nil {
		f.t.Fatal(err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "#") {
			comments = append(comments, scanner.Text())
		} else {
			data = append(data, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		f.t.Fatal(err)
	}
	return comments, data
}

func (f *fixture) allLines() []string {
	content, err := os.ReadFile(f.out)
	if err != nil {
		f.t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
}

func absolute(start, end float64, points int) axis.Spec {
	return axis.Spec{Start: start, End: end, Points: points, Mode: axis.Absolute}
}

func TestLineScan(t *testing.T) {
	f := newFixture(t)
	m := f.motor("sim:m1", motor.Config{Description: "stage"})
	det, trig := f.sequence(10, 20, 30)
	sig := NewSignal(1, det)
	err := f.e.Start(Config{
		X:          []Axis{{Device: m, Spec: absolute(0, 10, 3)}},
		Signals:    []*Signal{sig},
		Triggers:   []TriggerSetting{trig},
		OutputPath: f.out,
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.e.State() != Running {
		t.Fatalf("state after start is %v", f.e.State())
	}
	f.finish()

	comments, data := f.lines()
	want := []string{
		"1 0.000000e+00 1.000000e+01",
		"2 5.000000e+00 2.000000e+01",
		"3 1.000000e+01 3.000000e+01",
	}
	if len(data) != len(want) {
		t.Fatalf("got data lines %q", data)
	}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, data[i], want[i])
		}
	}
	if last := comments[len(comments)-1]; last != "# All done." {
		t.Errorf("trailer %q", last)
	}
	if comments[0] != "# ScanMX" {
		t.Errorf("header starts with %q", comments[0])
	}
	header := strings.Join(comments, "\n")
	for _, fragment := range []string{"# 1D scan", "# Number of data points: 3", `# X axis PV: "sim:m1"`,
		`# X axis Description: "stage"`, "# Data columns:\n# %Point %sim:m1 %sim:det", `# Triggers:`} {
		if !strings.Contains(header, fragment) {
			t.Errorf("header lacks %q", fragment)
		}
	}

	res := f.e.Result()
	if !res.Complete || res.Err != nil || res.Points != 3 || res.Total != 3 {
		t.Errorf("result %+v", res)
	}
	plot := sig.Plot()
	if plot.Visible() != 3 || plot.ValueAt(5, 0) != 20 {
		t.Errorf("plot shows %d points, value at 5 is %v", plot.Visible(), plot.ValueAt(5, 0))
	}
	if done, total := f.e.Progress(); done != 3 || total != 3 {
		t.Errorf("progress %d/%d", done, total)
	}
}

func TestCancelAfterFirstPoint(t *testing.T) {
	f := newFixture(t)
	mx := f.motor("sim:mx", motor.Config{})
	my := f.motor("sim:my", motor.Config{})
	det := detector.Config{PV: "sim:det", Period: 5 * time.Millisecond, Inputs: nil}.Construct(f.sim)
	var states []State
	f.e.Subscribe(ListenerFuncs{
		OnState: func(s State) {
			states = append(states, s)
		},
		OnPoint: func(r Row) {
			if r.Index == 0 {
				f.e.RequestStop()
			}
		},
	})
	err := f.e.Start(Config{
		X:          []Axis{{Device: mx, Spec: absolute(0, 1, 2)}},
		Y:          []Axis{{Device: my, Spec: absolute(0, 1, 2)}},
		Signals:    []*Signal{NewSignal(1, det)},
		OutputPath: f.out,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.finish()

	comments, data := f.lines()
	if len(data) != 1 {
		t.Fatalf("got data lines %q", data)
	}
	if last := comments[len(comments)-1]; last != "# Stopped unfinished." {
		t.Errorf("trailer %q", last)
	}
	res := f.e.Result()
	if res.Complete || !IsCancelled(res.Err) || res.Points != 1 {
		t.Errorf("result %+v", res)
	}
	wantStates := []State{Running, StopRequested, Done}
	if len(states) != len(wantStates) {
		t.Fatalf("states %v", states)
	}
	for i := range wantStates {
		if states[i] != wantStates[i] {
			t.Errorf("state %d: %v, want %v", i, states[i], wantStates[i])
		}
	}
}

func TestLimitHitIsAnnotated(t *testing.T) {
	f := newFixture(t)
	m := f.motor("sim:m1", motor.Config{LowLimit: -100, HighLimit: 10})
	det, trig := f.sequence(1, 2, 3)
	err := f.e.Start(Config{
		X:          []Axis{{Device: m, Spec: absolute(10, 20, 3)}},
		Signals:    []*Signal{NewSignal(1, det)},
		Triggers:   []TriggerSetting{trig},
		OutputPath: f.out,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.finish()

	lines := f.allLines()
	first := -1
	for i, l := range lines {
		if strings.HasPrefix(l, "1 ") {
			first = i
			break
		}
	}
	if first < 1 {
		t.Fatalf("no data line for point 1 in %q", lines)
	}
	if lines[first-1] != "# X axis sim:m1: limit hit." {
		t.Errorf("line before point 1 is %q", lines[first-1])
	}
	_, data := f.lines()
	if len(data) != 3 {
		t.Errorf("limit hit cut the scan short: %q", data)
	}
	res := f.e.Result()
	if len(res.Warnings) == 0 || !errors.Is(res.Warnings[0], ErrDeviceLimitHit) {
		t.Errorf("warnings %v", res.Warnings)
	}
	if !res.Complete {
		t.Error("scan should complete despite limit hits")
	}
}

func TestStopOnLimit(t *testing.T) {
	f := newFixture(t)
	m := f.motor("sim:m1", motor.Config{LowLimit: -100, HighLimit: 10})
	det, trig := f.sequence(1, 2, 3)
	err := f.e.Start(Config{
		X:           []Axis{{Device: m, Spec: absolute(10, 20, 3)}},
		Signals:     []*Signal{NewSignal(1, det)},
		Triggers:    []TriggerSetting{trig},
		StopOnLimit: true,
		OutputPath:  f.out,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.finish()
	_, data := f.lines()
	if len(data) != 1 {
		t.Errorf("got data lines %q", data)
	}
	if !IsCancelled(f.e.Result().Err) {
		t.Errorf("result error %v", f.e.Result().Err)
	}
}

func TestStartRejections(t *testing.T) {
	f := newFixture(t)
	m := f.motor("sim:m1", motor.Config{})
	det, _ := f.sequence(1)
	off := detector.Config{PV: "sim:off", Disconnected: true}.Construct(f.sim)
	unplugged := f.motor("sim:m2", motor.Config{Disconnected: true})

	cases := []struct {
		name string
		cfg  Config
		want error
	}{
		{"one point", Config{X: []Axis{{Device: m, Spec: absolute(0, 1, 1)}}, Signals: []*Signal{NewSignal(1, det)}}, ErrInvalidConfiguration},
		{"no signals", Config{X: []Axis{{Device: m, Spec: absolute(0, 1, 2)}}}, ErrInvalidConfiguration},
		{"no axes", Config{Signals: []*Signal{NewSignal(1, det)}}, ErrInvalidConfiguration},
		{"mismatched group", Config{
			X:       []Axis{{Device: m, Spec: absolute(0, 1, 2)}, {Device: unplugged, Spec: absolute(0, 1, 3)}},
			Signals: []*Signal{NewSignal(1, det)},
		}, ErrInvalidConfiguration},
		{"signal disconnected", Config{X: []Axis{{Device: m, Spec: absolute(0, 1, 2)}}, Signals: []*Signal{NewSignal(1, off)}}, ErrNotReady},
		{"axis disconnected", Config{X: []Axis{{Device: unplugged, Spec: absolute(0, 1, 2)}}, Signals: []*Signal{NewSignal(1, det)}}, ErrNotReady},
		{"unwritable output", Config{
			X:          []Axis{{Device: m, Spec: absolute(0, 1, 2)}},
			Signals:    []*Signal{NewSignal(1, det)},
			OutputPath: filepath.Join(t.TempDir(), "missing", "scan.dat"),
		}, ErrInvalidConfiguration},
	}
	for _, c := range cases {
		err := f.e.Start(c.cfg)
		if !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
		}
		if f.e.State() != Idle {
			t.Errorf("%s: state changed to %v", c.name, f.e.State())
		}
	}
}

func TestSoftLimitsRejectUnreachableRange(t *testing.T) {
	f := newFixture(t)
	m := f.motor("sim:m1", motor.Config{SoftLow: -5, SoftHigh: 5})
	det, _ := f.sequence(1)
	err := f.e.Start(Config{X: []Axis{{Device: m, Spec: absolute(0, 6, 3)}}, Signals: []*Signal{NewSignal(1, det)}})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("got %v", err)
	}
}

func TestSecondStartIsRejected(t *testing.T) {
	f := newFixture(t)
	m := f.motor("sim:m1", motor.Config{})
	det, trig := f.sequence(1, 2)
	cfg := Config{
		X:        []Axis{{Device: m, Spec: absolute(0, 1, 2)}},
		Signals:  []*Signal{NewSignal(1, det)},
		Triggers: []TriggerSetting{trig},
	}
	if err := f.e.Start(cfg); err != nil {
		t.Fatal(err)
	}
	if err := f.e.Start(cfg); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second start: %v", err)
	}
	f.finish()
	// Done is not terminal.
	if err := f.e.Start(cfg); err != nil {
		t.Errorf("restart: %v", err)
	}
	f.finish()
}

func TestAfterScanPolicies(t *testing.T) {
	for _, c := range []struct {
		after AfterScan
		want  float64
	}{
		{StayPut, 4},
		{StartPosition, 2},
		{PriorPosition, 3},
	} {
		f := newFixture(t)
		m := f.motor("sim:m1", motor.Config{Position: 3})
		det, trig := f.sequence(1, 2, 3)
		err := f.e.Start(Config{
			X:        []Axis{{Device: m, Spec: axis.Spec{Start: -1, End: 1, Points: 3, Mode: axis.Relative}}},
			Signals:  []*Signal{NewSignal(1, det)},
			Triggers: []TriggerSetting{trig},
			After:    c.after,
		})
		if err != nil {
			t.Fatal(err)
		}
		f.finish()
		if got := m.CurrentPosition(); got != c.want {
			t.Errorf("%v: motor ends at %v, want %v", c.after, got, c.want)
		}
		if m.Moving() {
			t.Errorf("%v: motor still moving when scan is done", c.after)
		}
	}
}

func TestRelaxDelayAfterEachRow(t *testing.T) {
	f := newFixture(t)
	mx := f.motor("sim:mx", motor.Config{Velocity: -1})
	my := f.motor("sim:my", motor.Config{Velocity: -1})
	det := detector.Config{PV: "sim:det", Period: time.Millisecond}.Construct(f.sim)
	err := f.e.Start(Config{
		X:          []Axis{{Device: mx, Spec: absolute(0, 1, 2)}},
		Y:          []Axis{{Device: my, Spec: absolute(0, 1, 3)}},
		Signals:    []*Signal{NewSignal(1, det)},
		RelaxDelay: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.finish()
	if elapsed := f.sim.Now().Since(model.TimeZero); elapsed < 3*time.Second {
		t.Errorf("three rows took only %v", elapsed)
	}
	if rows := f.e.Rows(); len(rows) != 6 || rows[5].Row != 2 || rows[5].Col != 1 {
		t.Errorf("rows %+v", rows)
	}
}

type fakeRunner struct {
	name     string
	launches bool
	status   int
	output   string
	runs     int
}

func (fr *fakeRunner) Name() string                     { return fr.name }
func (fr *fakeRunner) IsConnected() bool                { return true }
func (fr *fakeRunner) Subscribe(func()) (cancel func()) { return func() {} }
func (fr *fakeRunner) Launch() bool                     { fr.runs++; return fr.launches }
func (fr *fakeRunner) Finished() bool                   { return true }
func (fr *fakeRunner) BlockUntilFinished() int          { return fr.status }
func (fr *fakeRunner) CapturedOutput() string           { return fr.output }

func TestScriptSignals(t *testing.T) {
	f := newFixture(t)
	m := f.motor("sim:m1", motor.Config{})
	good := &fakeRunner{name: "good.sh", launches: true, output: "reading\n42.5\n"}
	failing := &fakeRunner{name: "fail.sh", launches: true, status: 1, output: "7"}
	broken := &fakeRunner{name: "broken.sh"}
	err := f.e.Start(Config{
		X:          []Axis{{Device: m, Spec: absolute(0, 1, 2)}},
		Signals:    []*Signal{NewSignal(1, good), NewSignal(2, failing), NewSignal(3, broken)},
		OutputPath: f.out,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.finish()
	rows := f.e.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows %+v", rows)
	}
	for _, r := range rows {
		if r.Values[0] != 42.5 || !math.IsNaN(r.Values[1]) || !math.IsNaN(r.Values[2]) {
			t.Errorf("values %v", r.Values)
		}
	}
	if good.runs != 2 {
		t.Errorf("script ran %d times", good.runs)
	}
	_, data := f.lines()
	if data[0] != "1 0.000000e+00 4.250000e+01 NaN NaN" {
		t.Errorf("data line %q", data[0])
	}
	for _, w := range f.e.Result().Warnings {
		if !errors.Is(w, ErrSignalUnavailable) {
			t.Errorf("unexpected warning %v", w)
		}
	}
}

func TestLiveSignalTimeoutKeepsLastValue(t *testing.T) {
	f := newFixture(t)
	m := f.motor("sim:m1", motor.Config{})
	det := detector.Config{PV: "sim:quiet", Sequence: []float64{7}}.Construct(f.sim)
	det.Publish()
	err := f.e.Start(Config{
		X:             []Axis{{Device: m, Spec: absolute(0, 1, 2)}},
		Signals:       []*Signal{NewSignal(1, det)},
		SignalTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.finish()
	for _, r := range f.e.Rows() {
		if r.Values[0] != 7 {
			t.Errorf("point %d: %v", r.Index, r.Values[0])
		}
	}
	if len(f.e.Result().Warnings) != 2 {
		t.Errorf("warnings %v", f.e.Result().Warnings)
	}
}

func TestLineAbscissaFollowsSettledPosition(t *testing.T) {
	f := newFixture(t)
	m := f.motor("sim:m1", motor.Config{Jitter: 0.1})
	det, trig := f.sequence(1, 2, 3)
	sig := NewSignal(1, det)
	err := f.e.Start(Config{
		X:        []Axis{{Device: m, Spec: absolute(0, 10, 3)}},
		Signals:  []*Signal{sig},
		Triggers: []TriggerSetting{trig},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.finish()
	xs := sig.Plot().XData()
	for i, r := range f.e.Rows() {
		if xs[i] != r.X[0] {
			t.Errorf("point %d plotted at %v, recorded at %v", i, xs[i], r.X[0])
		}
	}
}

func TestGoToPickedCell(t *testing.T) {
	f := newFixture(t)
	mx := f.motor("sim:mx", motor.Config{})
	my := f.motor("sim:my", motor.Config{})
	det := detector.Config{PV: "sim:det", Period: time.Millisecond}.Construct(f.sim)
	sig := NewSignal(1, det)
	if err := f.e.GoTo(0, 0); !errors.Is(err, ErrNotReady) {
		t.Errorf("go-to before any scan: %v", err)
	}
	err := f.e.Start(Config{
		X:       []Axis{{Device: mx, Spec: absolute(0, 4, 5)}},
		Y:       []Axis{{Device: my, Spec: absolute(10, 20, 3)}},
		Signals: []*Signal{sig},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.finish()
	if err := f.e.GoTo(5, 0); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("go-to outside grid: %v", err)
	}
	if err := f.e.GoToPoint(sig, 1.2, 14); err != nil {
		t.Fatal(err)
	}
	f.sim.RunUntil(f.sim.Now().Add(time.Minute), func() bool { return !f.e.Busy() })
	if mx.CurrentPosition() != 1 || my.CurrentPosition() != 15 {
		t.Errorf("moved to (%v, %v)", mx.CurrentPosition(), my.CurrentPosition())
	}
}

func TestDisconnectedChannelRecordsNaN(t *testing.T) {
	f := newFixture(t)
	m := f.motor("sim:m1", motor.Config{})
	det := detector.Config{PV: "sim:det", Period: 10 * time.Millisecond, Sequence: []float64{5}}.Construct(f.sim)
	f.e.Subscribe(ListenerFuncs{OnPoint: func(r Row) {
		if r.Index == 0 {
			det.SetConnected(false)
		}
	}})
	err := f.e.Start(Config{
		X:          []Axis{{Device: m, Spec: absolute(0, 2, 3)}},
		Signals:    []*Signal{NewSignal(1, det)},
		OutputPath: f.out,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.finish()
	rows := f.e.Rows()
	if len(rows) != 3 || rows[0].Values[0] != 5 {
		t.Fatalf("rows %+v", rows)
	}
	for _, r := range rows[1:] {
		if !math.IsNaN(r.Values[0]) {
			t.Errorf("point %d read %v from a disconnected channel", r.Index, r.Values[0])
		}
	}
	warnings := f.e.Result().Warnings
	if len(warnings) != 2 {
		t.Errorf("warnings %v", warnings)
	}
	for _, w := range warnings {
		if !errors.Is(w, ErrSignalUnavailable) {
			t.Errorf("unexpected warning %v", w)
		}
	}
	if !f.e.Result().Complete {
		t.Error("scan did not complete")
	}
	_, data := f.lines()
	if data[2] != "3 2.000000e+00 NaN" {
		t.Errorf("data line %q", data[2])
	}
	if all := f.allLines(); all[len(all)-1] != "# All done." {
		t.Errorf("trailer %q", all[len(all)-1])
	}
}

// creeping reports a slightly different position every time it is asked.
type creeping struct {
	*motor.Motor
	reads int
}

func (c *creeping) CurrentPosition() float64 {
	c.reads++
	return c.Motor.CurrentPosition() + 0.01*float64(c.reads)
}

func TestRelativeRangeUsesInitialPosition(t *testing.T) {
	f := newFixture(t)
	c := &creeping{Motor: f.motor("sim:m1", motor.Config{Position: 4})}
	axes, err := resolveGroup("X", []Axis{{Device: c, Spec: axis.Spec{Start: -1, End: 1, Points: 3}}})
	if err != nil {
		t.Fatal(err)
	}
	ra := axes[0]
	if ra.start != ra.initial-1 || ra.end != ra.initial+1 {
		t.Errorf("initial %v, range %v ... %v", ra.initial, ra.start, ra.end)
	}
	if c.reads != 1 {
		t.Errorf("position read %d times", c.reads)
	}
}

func TestLineScanSkipsRelaxDelay(t *testing.T) {
	f := newFixture(t)
	m := f.motor("sim:m1", motor.Config{Velocity: -1})
	det := detector.Config{PV: "sim:det", Period: time.Millisecond}.Construct(f.sim)
	err := f.e.Start(Config{
		X:          []Axis{{Device: m, Spec: absolute(0, 1, 3)}},
		Signals:    []*Signal{NewSignal(1, det)},
		RelaxDelay: 3 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.finish()
	if elapsed := f.sim.Now().Since(model.TimeZero); elapsed >= time.Second {
		t.Errorf("line scan waited %v", elapsed)
	}
	if len(f.e.Rows()) != 3 {
		t.Errorf("rows %+v", f.e.Rows())
	}
}
