package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/celskeggs/scanmx/scan/axis"
	"github.com/celskeggs/scanmx/scan/source"
	"github.com/celskeggs/scanmx/sim/component"
	"github.com/celskeggs/scanmx/sim/model"
)

// Shape maps the positions of the detector's inputs to a noiseless reading.
type Shape func(positions []float64) float64

// Gaussian is a unit peak centred on the origin with the given width in every dimension.
func Gaussian(width float64) Shape {
	return func(positions []float64) float64 {
		r2 := 0.0
		for _, p := range positions {
			r2 += p * p
		}
		return math.Exp(-r2 / (2 * width * width))
	}
}

type Config struct {
	PV string
	// Period between spontaneous updates; zero means the detector only updates when triggered.
	Period time.Duration
	// Noise is the standard deviation of gaussian noise added to each reading.
	Noise  float64
	Inputs []axis.Positioner
	Shape  Shape
	// Sequence, when set, replaces Shape: successive updates publish successive entries, repeating the last.
	Sequence     []float64
	Disconnected bool
}

type Detector struct {
	*component.EventDispatcher
	ctx       model.SimContext
	cfg       Config
	connected bool
	value     float64
	updated   bool
	published int
}

var _ source.LiveChannel = &Detector{}

func (c Config) Construct(ctx model.SimContext) *Detector {
	if c.Shape == nil {
		c.Shape = Gaussian(1)
	}
	d := &Detector{
		EventDispatcher: component.MakeEventDispatcher(ctx, "sim.detector.Detector/"+c.PV),
		ctx:             ctx,
		cfg:             c,
		connected:       !c.Disconnected,
		value:           math.NaN(),
	}
	if c.Period > 0 {
		d.schedule()
	}
	return d
}

func (d *Detector) schedule() {
	d.ctx.SetTimer(d.ctx.Now().Add(d.cfg.Period), "sim.detector.Detector/Period", func() {
		d.Publish()
		d.schedule()
	})
}

func (d *Detector) reading() float64 {
	if len(d.cfg.Sequence) > 0 {
		i := d.published
		if i >= len(d.cfg.Sequence) {
			i = len(d.cfg.Sequence) - 1
		}
		return d.cfg.Sequence[i]
	}
	positions := make([]float64, len(d.cfg.Inputs))
	for i, in := range d.cfg.Inputs {
		positions[i] = in.CurrentPosition()
	}
	v := d.cfg.Shape(positions)
	if d.cfg.Noise > 0 {
		v += d.ctx.Rand().NormFloat64() * d.cfg.Noise
	}
	return v
}

// Publish takes a fresh reading now.
func (d *Detector) Publish() {
	if !d.connected {
		return
	}
	d.value = d.reading()
	d.published++
	d.updated = true
	d.DispatchLater()
}

func (d *Detector) Name() string {
	return d.cfg.PV
}

func (d *Detector) IsConnected() bool {
	return d.connected
}

func (d *Detector) SetConnected(connected bool) {
	if d.connected != connected {
		d.connected = connected
		d.DispatchLater()
	}
}

func (d *Detector) ArmNextUpdate() {
	d.updated = false
}

func (d *Detector) Updated() bool {
	return d.updated
}

func (d *Detector) LastKnownValue() float64 {
	return d.value
}

func (d *Detector) Published() int {
	return d.published
}

// Trigger makes a detector publish a reading a fixed delay after it is fired.
type Trigger struct {
	PV       string
	Delay    time.Duration
	Detector *Detector

	ctx   model.SimContext
	fired []string
}

var _ source.Trigger = &Trigger{}

func MakeTrigger(ctx model.SimContext, pv string, delay time.Duration, det *Detector) *Trigger {
	return &Trigger{PV: pv, Delay: delay, Detector: det, ctx: ctx}
}

func (t *Trigger) Identifier() string {
	return t.PV
}

func (t *Trigger) IsConnected() bool {
	return t.Detector != nil && t.Detector.IsConnected()
}

func (t *Trigger) Fire(value string) error {
	if !t.IsConnected() {
		return fmt.Errorf("trigger %s is not connected", t.PV)
	}
	t.fired = append(t.fired, value)
	t.ctx.SetTimer(t.ctx.Now().Add(t.Delay), "sim.detector.Trigger/Fire", t.Detector.Publish)
	return nil
}

// Fired lists the values written so far.
func (t *Trigger) Fired() []string {
	return t.fired
}
