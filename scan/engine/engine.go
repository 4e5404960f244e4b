// Package engine runs scans: it steps the axes through their grid, samples every signal at each point,
// records the results and keeps each signal's plot up to date.
package engine

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/celskeggs/scanmx/scan/axis"
	"github.com/celskeggs/scanmx/scan/device"
	"github.com/celskeggs/scanmx/scan/plotdata"
	"github.com/celskeggs/scanmx/scan/source"
	"github.com/celskeggs/scanmx/sim/component"
	"github.com/celskeggs/scanmx/sim/model"
)

type resolvedAxis struct {
	Axis
	initial    float64
	start, end float64
	grid       []float64
}

type plan struct {
	x, y             []resolvedAxis
	xPoints, yPoints int
	twoD             bool
}

func (p *plan) total() int {
	return p.xPoints * p.yPoints
}

func (p *plan) devices() []device.Device {
	var devs []device.Device
	for _, ra := range p.x {
		devs = append(devs, ra.Device)
	}
	for _, ra := range p.y {
		devs = append(devs, ra.Device)
	}
	return devs
}

// Engine owns at most one scan at a time. All of its methods must be called on the scheduler goroutine;
// use component.Pacer.Do to reach it from elsewhere.
type Engine struct {
	ctx        model.SimContext
	logger     *log.Logger
	stopEvents *component.EventDispatcher
	listeners  map[int]Listener
	nextListen int

	state    State
	cfg      Config
	plan     *plan
	rows     []Row
	progress int
	stopFlag bool
	result   Result
	routine  *component.TwixtIO

	// WallClock stamps the record header.
	WallClock func() time.Time
}

// MakeEngine builds an idle engine; a nil logger means log.Default().
func MakeEngine(ctx model.SimContext, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		ctx:        ctx,
		logger:     logger,
		stopEvents: component.MakeEventDispatcher(ctx, "scan.engine.Engine/Stop"),
		listeners:  map[int]Listener{},
		WallClock:  time.Now,
	}
}

func (e *Engine) logf(format string, args ...interface{}) {
	e.logger.Printf("%v [scan] "+format, append([]interface{}{e.ctx.Now()}, args...)...)
}

func (e *Engine) State() State {
	return e.state
}

// Progress reports how many points have been recorded out of the scan's total.
func (e *Engine) Progress() (done, total int) {
	if e.plan == nil {
		return e.progress, 0
	}
	return e.progress, e.plan.total()
}

// Result describes the last finished scan.
func (e *Engine) Result() Result {
	return e.result
}

// Rows is the in-memory data table of the current or last scan.
func (e *Engine) Rows() []Row {
	return append([]Row(nil), e.rows...)
}

// Signals lists the signals of the current or last scan, in column order.
func (e *Engine) Signals() []*Signal {
	return append([]*Signal(nil), e.cfg.Signals...)
}

// Busy reports whether a scan or a go-to move is still in progress.
func (e *Engine) Busy() bool {
	return e.state.Active() || (e.routine != nil && !e.routine.Halted())
}

func (e *Engine) Subscribe(l Listener) (cancel func()) {
	id := e.nextListen
	e.nextListen++
	e.listeners[id] = l
	return func() {
		delete(e.listeners, id)
	}
}

func (e *Engine) setState(s State) {
	e.state = s
	for _, l := range e.sortedListeners() {
		l.StateChanged(s)
	}
}

func (e *Engine) sortedListeners() []Listener {
	out := make([]Listener, 0, len(e.listeners))
	for id := 0; id < e.nextListen; id++ {
		if l, ok := e.listeners[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

func validateGroup(label string, axes []Axis) error {
	var errs error
	for i, a := range axes {
		if a.Device == nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: %s axis %d has no device", ErrInvalidConfiguration, label, i+1))
			continue
		}
		if err := a.Spec.Validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s axis %s: %w", label, a.Device.Identifier(), err))
		}
		if a.Spec.Points != axes[0].Spec.Points {
			errs = multierror.Append(errs, fmt.Errorf("%w: %s axis %s has %d points, but the group has %d",
				ErrInvalidConfiguration, label, a.Device.Identifier(), a.Spec.Points, axes[0].Spec.Points))
		}
	}
	return errs
}

// Validate checks a configuration without touching any device.
func (c Config) Validate() error {
	var errs error
	if len(c.X) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: no X axis", ErrInvalidConfiguration))
	}
	if err := validateGroup("X", c.X); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := validateGroup("Y", c.Y); err != nil {
		errs = multierror.Append(errs, err)
	}
	if len(c.Signals) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: no signals", ErrInvalidConfiguration))
	}
	for _, s := range c.Signals {
		if err := checkSource(s.Source()); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, t := range c.Triggers {
		if t.Trigger == nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: trigger without a channel", ErrInvalidConfiguration))
		}
	}
	return errs
}

// Ready reports every disconnected participant, or nil once the scan could start.
func (c Config) Ready() error {
	var errs error
	for _, a := range append(append([]Axis(nil), c.X...), c.Y...) {
		if a.Device != nil && !a.Device.IsConnected() {
			errs = multierror.Append(errs, fmt.Errorf("%w: axis %s is disconnected", ErrNotReady, a.Device.Identifier()))
		}
	}
	for _, s := range c.Signals {
		if !s.Source().IsConnected() {
			errs = multierror.Append(errs, fmt.Errorf("%w: signal %s is disconnected", ErrNotReady, s.Name()))
		}
	}
	for _, t := range c.Triggers {
		if t.Trigger != nil && !t.Trigger.IsConnected() {
			errs = multierror.Append(errs, fmt.Errorf("%w: trigger %s is disconnected", ErrNotReady, t.Trigger.Identifier()))
		}
	}
	return errs
}

func resolveGroup(label string, axes []Axis) ([]resolvedAxis, error) {
	var errs error
	var out []resolvedAxis
	for _, a := range axes {
		initial := a.Device.CurrentPosition()
		start, end, err := a.Spec.Resolve(axis.Fixed(initial))
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, target := range []float64{start, end} {
			if !device.WithinLimits(a.Device, target) {
				errs = multierror.Append(errs, fmt.Errorf("%w: %s axis %s cannot reach %v",
					ErrInvalidConfiguration, label, a.Device.Identifier(), target))
			}
		}
		out = append(out, resolvedAxis{
			Axis:    a,
			initial: initial,
			start:   start,
			end:     end,
			grid:    axis.Grid(start, end, a.Spec.Points),
		})
	}
	return out, errs
}

func makePlan(c Config) (*plan, error) {
	x, errX := resolveGroup("X", c.X)
	y, errY := resolveGroup("Y", c.Y)
	if err := multierror.Append(errX, errY).ErrorOrNil(); err != nil {
		return nil, err
	}
	p := &plan{x: x, y: y, xPoints: x[0].Spec.Points, yPoints: 1, twoD: len(y) > 0}
	if p.twoD {
		p.yPoints = y[0].Spec.Points
	}
	return p, nil
}

func (p *plan) newPlot() *plotdata.Plot {
	if !p.twoD {
		return plotdata.NewLine(p.x[0].grid)
	}
	return plotdata.NewMap(plotdata.Raster{
		XStart: p.x[0].start,
		XEnd:   p.x[0].end,
		YStart: p.y[0].start,
		YEnd:   p.y[0].end,
		Width:  p.xPoints,
		Height: p.yPoints,
	})
}

// Start checks the configuration, writes the record header and begins the scan on the next scheduler
// pass. Nothing changes if it returns an error.
func (e *Engine) Start(cfg Config) error {
	if e.Busy() {
		return ErrAlreadyRunning
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Ready(); err != nil {
		return err
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = DefaultSignalTimeout
	}
	p, err := makePlan(cfg)
	if err != nil {
		return err
	}
	rec, err := createRecorder(cfg.OutputPath)
	if err != nil {
		return err
	}

	id := uuid.New()
	for _, s := range cfg.Signals {
		s.reset(p.newPlot())
	}
	rec.header(headerInfo{id: id, started: e.WallClock(), plan: p, signals: cfg.Signals, trigs: cfg.Triggers})

	e.cfg = cfg
	e.plan = p
	e.rows = nil
	e.progress = 0
	e.stopFlag = false
	e.result = Result{ScanID: id, Output: cfg.OutputPath, Total: p.total()}
	e.setState(Running)
	e.logf("starting %d-point scan %s", p.total(), id)
	e.routine = component.BuildTwixt(e.ctx, "scan.engine.Engine/Scan", nil, func(ti *component.TwixtIO) {
		e.run(ti, rec)
	})
	return nil
}

// RequestStop asks a running scan to end at its next checkpoint. Moving axes are stopped at once; the
// scan still waits for them to report standstill.
func (e *Engine) RequestStop() {
	if e.state != Running {
		return
	}
	e.stopFlag = true
	for _, d := range e.plan.devices() {
		d.Stop()
	}
	e.setState(StopRequested)
	e.stopEvents.DispatchLater()
}

func (e *Engine) warn(err error) {
	e.logf("%v", err)
	e.result.Warnings = append(e.result.Warnings, err)
}

func moveGroup(ti *component.TwixtIO, axes []resolvedAxis, targets func(resolvedAxis) float64) {
	var devs []device.Device
	for _, ra := range axes {
		ra.Device.MoveTo(targets(ra))
		devs = append(devs, ra.Device)
	}
	device.WaitUntilStopped(ti, devs...)
}

// settle moves one axis group to a grid index, annotates limit hits, and returns where the axes landed.
func (e *Engine) settle(ti *component.TwixtIO, rec *recorder, label string, axes []resolvedAxis, i int) []float64 {
	moveGroup(ti, axes, func(ra resolvedAxis) float64 { return ra.grid[i] })
	positions := make([]float64, len(axes))
	for j, ra := range axes {
		if device.LimitActive(ra.Device) {
			rec.limitHit(label, ra.Device.Identifier())
			e.warn(fmt.Errorf("%w: %s axis %s at %v", ErrDeviceLimitHit, label, ra.Device.Identifier(), ra.Device.CurrentPosition()))
			if e.cfg.StopOnLimit {
				e.RequestStop()
			}
		}
		positions[j] = ra.Device.CurrentPosition()
	}
	return positions
}

func (e *Engine) relax(ti *component.TwixtIO) {
	if e.cfg.RelaxDelay <= 0 {
		return
	}
	deadline := e.ctx.Now().Add(e.cfg.RelaxDelay)
	for !e.stopFlag && e.ctx.Now().Before(deadline) {
		ti.YieldWaitUntil(deadline, e.stopEvents)
	}
}

func (e *Engine) fireTriggers() {
	for _, t := range e.cfg.Triggers {
		if err := t.Trigger.Fire(t.Value); err != nil {
			e.warn(fmt.Errorf("%w: trigger %s: %v", ErrSignalUnavailable, t.Trigger.Identifier(), err))
		}
	}
}

func (e *Engine) measure(ti *component.TwixtIO, row *Row) {
	for _, s := range e.cfg.Signals {
		s.beforeGet()
	}
	e.fireTriggers()
	row.Values = make([]float64, len(e.cfg.Signals))
	for k, s := range e.cfg.Signals {
		v, err := s.acquire(ti, e.cfg.SignalTimeout)
		if err != nil {
			e.warn(fmt.Errorf("point %d: %w", row.Index+1, err))
		}
		row.Values[k] = v
		if s.store(row.Index, v) {
			row.Rescaled = true
		}
		ti.Pause()
	}
}

func (e *Engine) run(ti *component.TwixtIO, rec *recorder) {
	p := e.plan
	yPos := []float64(nil)
scan:
	for r := 0; r < p.yPoints; r++ {
		if p.twoD {
			yPos = e.settle(ti, rec, "Y", p.y, r)
			e.relax(ti)
		}
		if e.stopFlag {
			break
		}
		for c := 0; c < p.xPoints; c++ {
			row := Row{Index: r*p.xPoints + c, Col: c, Row: r}
			row.X = e.settle(ti, rec, "X", p.x, c)
			row.Y = yPos
			if !p.twoD {
				for _, s := range e.cfg.Signals {
					s.plot.SetAbscissa(c, row.X[0])
				}
			}
			e.measure(ti, &row)
			rec.data(row)
			e.rows = append(e.rows, row)
			e.progress++
			for _, l := range e.sortedListeners() {
				l.PointRecorded(row)
			}
			if e.stopFlag {
				break scan
			}
		}
	}
	stopped := e.stopFlag
	rec.trailer(stopped)
	var errs error
	if stopped {
		errs = multierror.Append(errs, ErrUserCancelled)
	}
	if err := rec.close(); err != nil {
		e.logf("writing %s: %v", e.cfg.OutputPath, err)
		errs = multierror.Append(errs, err)
	}

	e.afterScan(ti)

	e.result.Points = e.progress
	e.result.Complete = !stopped
	e.result.Err = errs
	e.logf("scan %s finished: %d of %d points", e.result.ScanID, e.progress, p.total())
	e.setState(Done)
}

func (e *Engine) afterScan(ti *component.TwixtIO) {
	var target func(resolvedAxis) float64
	switch e.cfg.After {
	case StartPosition:
		target = func(ra resolvedAxis) float64 { return ra.start }
	case PriorPosition:
		target = func(ra resolvedAxis) float64 { return ra.initial }
	default:
		return
	}
	moveGroup(ti, append(append([]resolvedAxis(nil), e.plan.x...), e.plan.y...), target)
}

// GoTo moves every axis of the last scan to the grid position of one cell, as picked on its plot.
func (e *Engine) GoTo(col, row int) error {
	if e.Busy() {
		return ErrAlreadyRunning
	}
	if e.plan == nil {
		return fmt.Errorf("%w: no scan to take positions from", ErrNotReady)
	}
	if col < 0 || col >= e.plan.xPoints || row < 0 || row >= e.plan.yPoints {
		return fmt.Errorf("%w: cell (%d, %d) is outside the %dx%d grid", ErrInvalidConfiguration, col, row, e.plan.xPoints, e.plan.yPoints)
	}
	p := e.plan
	for _, d := range p.devices() {
		if !d.IsConnected() {
			return fmt.Errorf("%w: axis %s is disconnected", ErrNotReady, d.Identifier())
		}
	}
	e.logf("going to cell (%d, %d)", col, row)
	e.routine = component.BuildTwixt(e.ctx, "scan.engine.Engine/GoTo", nil, func(ti *component.TwixtIO) {
		for _, ra := range p.x {
			ra.Device.MoveTo(ra.grid[col])
		}
		for _, ra := range p.y {
			ra.Device.MoveTo(ra.grid[row])
		}
		device.WaitUntilStopped(ti, p.devices()...)
	})
	return nil
}

// GoToPoint is GoTo for a plot coordinate.
func (e *Engine) GoToPoint(s *Signal, x, y float64) error {
	if s.Plot() == nil {
		return fmt.Errorf("%w: signal %s has not been scanned", ErrNotReady, s.Name())
	}
	index, ok := s.Plot().IndexAt(x, y)
	if !ok || e.plan == nil {
		return fmt.Errorf("%w: (%v, %v) is outside the scanned area", ErrInvalidConfiguration, x, y)
	}
	return e.GoTo(index%e.plan.xPoints, index/e.plan.xPoints)
}

// IsCancelled reports whether err records a scan stopped by the user.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrUserCancelled)
}

var _ source.Waiter = &component.TwixtIO{}
