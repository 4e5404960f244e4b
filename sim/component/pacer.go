package component

import (
	"context"
	"time"

	"github.com/celskeggs/scanmx/sim/model"
)

// Pacer drives a SimController against the wall clock, so that scans on real (or realistically slow
// simulated) hardware proceed in real time. It is the only goroutine allowed to touch the controller
// while Run is active; other goroutines hand work to it with Do.
type Pacer struct {
	sc     *SimController
	inject chan func()
	// Rate is virtual seconds per wall-clock second.
	Rate float64
}

func MakePacer(sc *SimController) *Pacer {
	return &Pacer{
		sc:     sc,
		inject: make(chan func(), 64),
		Rate:   1,
	}
}

func (p *Pacer) Controller() *SimController {
	return p.sc
}

// Do queues fn to run on the scheduler goroutine.
func (p *Pacer) Do(fn func()) {
	p.inject <- fn
}

// DoWait is Do, but returns only once fn has run.
func (p *Pacer) DoWait(fn func()) {
	done := make(chan marker)
	p.Do(func() {
		defer close(done)
		fn()
	})
	<-done
}

func (p *Pacer) wallToVirtual(d time.Duration) time.Duration {
	return time.Duration(float64(d) * p.Rate)
}

func (p *Pacer) virtualToWall(d time.Duration) time.Duration {
	return time.Duration(float64(d) / p.Rate)
}

func (p *Pacer) Run(ctx context.Context) error {
	if p.Rate <= 0 {
		p.Rate = 1
	}
	wallStart := time.Now()
	virtualStart := p.sc.Now()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		target := virtualStart.Add(p.wallToVirtual(time.Since(wallStart)))
		if target.Before(p.sc.Now()) {
			target = p.sc.Now()
		}
		next := p.sc.Advance(target)
		wait := time.Hour
		if next.TimeExists() {
			wait = p.virtualToWall(next.Since(model.Earliest(next, p.sc.Now())))
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-p.inject:
			fn()
		case <-p.sc.inbox.wake:
		case <-timer.C:
		}
	}
}
