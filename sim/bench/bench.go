// Package bench assembles simulated motors and detectors from their settings and looks them up by PV.
package bench

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/celskeggs/scanmx/scan/axis"
	"github.com/celskeggs/scanmx/scan/device"
	"github.com/celskeggs/scanmx/scan/settings"
	"github.com/celskeggs/scanmx/scan/source"
	"github.com/celskeggs/scanmx/sim/detector"
	"github.com/celskeggs/scanmx/sim/model"
	"github.com/celskeggs/scanmx/sim/motor"
)

type Bench struct {
	motors    map[string]*motor.Motor
	detectors map[string]*detector.Detector
	triggers  map[string]*detector.Trigger
	order     []string
}

func Build(ctx model.SimContext, cfg settings.Sim) (*Bench, error) {
	b := &Bench{
		motors:    map[string]*motor.Motor{},
		detectors: map[string]*detector.Detector{},
		triggers:  map[string]*detector.Trigger{},
	}
	var errs error
	claim := func(pv string) bool {
		if pv == "" {
			errs = multierror.Append(errs, fmt.Errorf("simulated hardware without a PV"))
			return false
		}
		if b.has(pv) {
			errs = multierror.Append(errs, fmt.Errorf("duplicate simulated PV %q", pv))
			return false
		}
		b.order = append(b.order, pv)
		return true
	}
	for _, m := range cfg.Motors {
		if !claim(m.PV) {
			continue
		}
		b.motors[m.PV] = motor.Config{
			PV:           m.PV,
			Description:  m.Description,
			Position:     m.Position,
			Velocity:     m.Velocity,
			LowLimit:     m.LowLimit,
			HighLimit:    m.HighLimit,
			SoftLow:      m.SoftLow,
			SoftHigh:     m.SoftHigh,
			Jitter:       m.Jitter,
			Disconnected: m.Disconnected,
		}.Construct(ctx)
	}
	for _, d := range cfg.Detectors {
		if !claim(d.PV) {
			continue
		}
		var inputs []axis.Positioner
		for _, in := range d.Inputs {
			m, ok := b.motors[in]
			if !ok {
				errs = multierror.Append(errs, fmt.Errorf("detector %s reads unknown motor %q", d.PV, in))
				continue
			}
			inputs = append(inputs, m)
		}
		width := d.Width
		if width <= 0 {
			width = 1
		}
		det := detector.Config{
			PV:           d.PV,
			Period:       d.Period.Duration,
			Noise:        d.Noise,
			Inputs:       inputs,
			Shape:        detector.Gaussian(width),
			Sequence:     d.Sequence,
			Disconnected: d.Disconnected,
		}.Construct(ctx)
		b.detectors[d.PV] = det
		if d.Trigger != "" && claim(d.Trigger) {
			b.triggers[d.Trigger] = detector.MakeTrigger(ctx, d.Trigger, d.TriggerDelay.Duration, det)
		}
	}
	if errs != nil {
		return nil, errs
	}
	return b, nil
}

func (b *Bench) has(pv string) bool {
	_, m := b.motors[pv]
	_, d := b.detectors[pv]
	_, t := b.triggers[pv]
	return m || d || t
}

// PVs lists every simulated channel in the order it was configured.
func (b *Bench) PVs() []string {
	return append([]string(nil), b.order...)
}

func (b *Bench) Device(pv string) (device.Device, error) {
	if m, ok := b.motors[pv]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("no simulated motor %q", pv)
}

func (b *Bench) Channel(pv string) (source.LiveChannel, error) {
	if d, ok := b.detectors[pv]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("no simulated detector %q", pv)
}

func (b *Bench) Trigger(pv string) (source.Trigger, error) {
	if t, ok := b.triggers[pv]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("no simulated trigger %q", pv)
}

func (b *Bench) Motor(pv string) *motor.Motor {
	return b.motors[pv]
}

func (b *Bench) Detector(pv string) *detector.Detector {
	return b.detectors[pv]
}
