package model

import (
	"fmt"
	"time"
)

// VirtualTime counts nanoseconds since the scheduler was created. Negative values mean "no time".
type VirtualTime int64

const (
	TimeNever VirtualTime = -1
	TimeZero  VirtualTime = 0
)

func (t VirtualTime) String() string {
	if !t.TimeExists() {
		return "[never]"
	}
	ns := int64(t)
	return fmt.Sprintf("[%d.%06ds]", ns/int64(time.Second), (ns%int64(time.Second))/int64(time.Microsecond))
}

func (t VirtualTime) TimeExists() bool {
	return t >= 0
}

func (t VirtualTime) mustExist(t2 VirtualTime) {
	if !t.TimeExists() || !t2.TimeExists() {
		panic("times don't exist")
	}
}

func (t VirtualTime) Before(t2 VirtualTime) bool {
	t.mustExist(t2)
	return t < t2
}

func (t VirtualTime) AtOrBefore(t2 VirtualTime) bool {
	t.mustExist(t2)
	return t <= t2
}

func (t VirtualTime) After(t2 VirtualTime) bool {
	t.mustExist(t2)
	return t > t2
}

func (t VirtualTime) Add(d time.Duration) VirtualTime {
	if !t.TimeExists() {
		return t
	}
	t2 := t + VirtualTime(d.Nanoseconds())
	if (d > 0 && t2 < t) || (d < 0 && t2 > t) {
		panic("times wrapped around")
	}
	if !t2.TimeExists() {
		return TimeZero
	}
	return t2
}

// Since panics if base is later than t; callers always measure forward.
func (t VirtualTime) Since(base VirtualTime) time.Duration {
	t.mustExist(base)
	if base > t {
		panic("cannot compute negative duration in since")
	}
	return time.Duration(t - base)
}

func (t VirtualTime) Seconds() float64 {
	return t.Since(TimeZero).Seconds()
}

// Earliest returns the sooner of two times, where a nonexistent time loses to any real one.
func Earliest(a, b VirtualTime) VirtualTime {
	switch {
	case !a.TimeExists():
		return b
	case !b.TimeExists():
		return a
	case a < b:
		return a
	default:
		return b
	}
}
