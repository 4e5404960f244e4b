// Package source defines the readable values a scan samples at each point.
package source

import (
	"time"

	"github.com/celskeggs/scanmx/sim/model"
)

// Source is anything that yields a number per scan point: a live channel or an external script.
type Source interface {
	Name() string
	IsConnected() bool
}

// LiveChannel is a continuously updating value. ArmNextUpdate clears Updated until the next fresh value
// arrives; subscribers are notified when it does.
type LiveChannel interface {
	Source
	model.EventSource
	ArmNextUpdate()
	Updated() bool
	LastKnownValue() float64
}

// Runner is evaluated on demand by running it to completion. Subscribers are notified once a launch has
// finished.
type Runner interface {
	Source
	model.EventSource
	Launch() bool
	Finished() bool
	BlockUntilFinished() (exitStatus int)
	CapturedOutput() string
}

// Trigger is written once per scan point, after signals are armed and before they are read.
type Trigger interface {
	Identifier() string
	IsConnected() bool
	Fire(value string) error
}

type Waiter interface {
	Context() model.SimContext
	YieldWait(events ...model.EventSource)
	YieldWaitUntil(deadline model.VirtualTime, events ...model.EventSource)
}

// BlockUntilNextUpdate waits for a value newer than the last ArmNextUpdate. On timeout it reports false
// and returns the last known value.
func BlockUntilNextUpdate(w Waiter, ch LiveChannel, timeout time.Duration) (float64, bool) {
	deadline := w.Context().Now().Add(timeout)
	for !ch.Updated() && w.Context().Now().Before(deadline) {
		w.YieldWaitUntil(deadline, ch)
	}
	return ch.LastKnownValue(), ch.Updated()
}
