package model

import "math/rand"

// SimContext is the scheduler every scan component runs on. All callbacks are invoked on the scheduler's
// goroutine, one at a time.
type SimContext interface {
	Now() VirtualTime
	SetTimer(expireAt VirtualTime, name string, callback func()) (cancel func())
	Later(name string, callback func()) (cancel func())
	Rand() *rand.Rand
	// Async runs work on its own goroutine, then calls done on the scheduler's goroutine. Work must not
	// touch anything owned by the scheduler.
	Async(name string, work func(), done func())
}

// EventSource notifies subscribers that something about the source may have changed.
// Sources must deliver notifications through SimContext.Later rather than synchronously, so that a
// coroutine which triggered the change is never re-entered from inside its own call.
type EventSource interface {
	Subscribe(callback func()) (cancel func())
}
