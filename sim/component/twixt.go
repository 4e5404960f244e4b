package component

import (
	"github.com/celskeggs/scanmx/sim/model"
)

type marker struct{}

// TwixtIO lets an imperative routine run as a coroutine of the scheduler. The routine owns the scheduler
// goroutine between yields; every Yield* call hands control back until something re-enters it.
//
// Re-entry may be spurious (any subscribed event wakes the routine), so callers always yield in a loop
// that re-checks their own condition.
type TwixtIO struct {
	ctx    model.SimContext
	name   string
	waitCh chan marker
	doneCh chan marker
	runOk  bool
	halted bool
}

func (ti *TwixtIO) enter() {
	if ti.halted {
		return
	}
	if ti.runOk {
		panic("twixt routine re-entered from inside itself; events must be dispatched later")
	}
	ti.runOk = true
	ti.waitCh <- marker{}
	<-ti.doneCh
	if !ti.runOk {
		panic("should have been running")
	}
	ti.runOk = false
}

func (ti *TwixtIO) Context() model.SimContext {
	return ti.ctx
}

func (ti *TwixtIO) Yield() {
	if !ti.runOk {
		panic("should be running")
	}
	ti.doneCh <- marker{}
	<-ti.waitCh
	if !ti.runOk {
		panic("should be running")
	}
}

func subscribeAll(events []model.EventSource, cb func()) (cancel func()) {
	var cancels []func()
	for _, e := range events {
		cancels = append(cancels, e.Subscribe(cb))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (ti *TwixtIO) YieldWait(events ...model.EventSource) {
	cancel := subscribeAll(events, ti.enter)
	defer cancel()

	ti.Yield()
}

func (ti *TwixtIO) YieldUntil(time model.VirtualTime) {
	cancel := ti.ctx.SetTimer(time, ti.name+"/Until", ti.enter)
	defer cancel()

	ti.Yield()
}

// YieldWaitUntil returns on the first event from any source, or at the deadline, whichever comes first.
func (ti *TwixtIO) YieldWaitUntil(deadline model.VirtualTime, events ...model.EventSource) {
	cancelEvents := subscribeAll(events, ti.enter)
	defer cancelEvents()
	cancelTimer := ti.ctx.SetTimer(deadline, ti.name+"/Until", ti.enter)
	defer cancelTimer()

	ti.Yield()
}

// Pause lets every other callback due at the current instant run before the routine continues.
func (ti *TwixtIO) Pause() {
	ti.YieldUntil(ti.ctx.Now())
}

type TwixtFunc func(*TwixtIO)

// BuildTwixt runs main as a coroutine, starting on the next scheduler pass. The returned TwixtIO reports
// Halted once main has returned.
func BuildTwixt(ctx model.SimContext, name string, events []model.EventSource, main TwixtFunc) *TwixtIO {
	ti := &TwixtIO{
		ctx:    ctx,
		name:   name,
		waitCh: make(chan marker),
		doneCh: make(chan marker),
	}
	go func() {
		<-ti.waitCh
		defer func() {
			ti.halted = true
			ti.doneCh <- marker{}
		}()
		main(ti)
	}()
	ctx.Later(name+"/Enter", ti.enter)
	_ = subscribeAll(events, ti.enter)
	return ti
}

// Halted is only meaningful on the scheduler goroutine.
func (ti *TwixtIO) Halted() bool {
	return ti.halted
}
