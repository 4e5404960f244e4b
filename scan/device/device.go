// Package device defines the positioner contract the scan engine drives.
package device

import (
	"github.com/celskeggs/scanmx/sim/model"
)

// Device is an opaque positioner. Subscribers are notified (later, never synchronously) whenever motion,
// limit or connection status may have changed.
type Device interface {
	model.EventSource
	Identifier() string
	Description() string
	IsConnected() bool
	CurrentPosition() float64
	// MoveTo starts a move and returns immediately.
	MoveTo(target float64)
	Moving() bool
	Stop()
	LowLimitActive() bool
	HighLimitActive() bool
}

// Bounded devices report the user range they accept.
type Bounded interface {
	SoftLimits() (low, high float64)
}

type MoveMode int

const (
	Blocking MoveMode = iota
	FireAndForget
)

// Yielder is what a waiting routine needs from the scheduler.
type Yielder interface {
	YieldWait(events ...model.EventSource)
}

func LimitActive(d Device) bool {
	return d.LowLimitActive() || d.HighLimitActive()
}

// Move commands one device. In Blocking mode it returns once the device has stopped.
func Move(y Yielder, mode MoveMode, d Device, target float64) {
	d.MoveTo(target)
	if mode == Blocking {
		WaitUntilStopped(y, d)
	}
}

// WaitUntilStopped joins a batch of moves. It cannot be interrupted: a stop request reaches the devices
// themselves, and this returns once they report standstill.
func WaitUntilStopped(y Yielder, devices ...Device) {
	for _, d := range devices {
		for d.Moving() {
			y.YieldWait(d)
		}
	}
}

// WithinLimits reports whether a bounded device accepts target. Unbounded devices accept anything.
func WithinLimits(d Device, target float64) bool {
	b, ok := d.(Bounded)
	if !ok {
		return true
	}
	low, high := b.SoftLimits()
	if low == high {
		// an empty user range conventionally means "no limits configured"
		return true
	}
	return target >= low && target <= high
}
