package component

import (
	"container/heap"
	"math/rand"
	"sync"
	"time"

	"github.com/celskeggs/scanmx/sim/model"
)

type simTimer struct {
	expireAt model.VirtualTime
	seq      uint64
	name     string
	callback func()
	index    int
}

type timerQueue []*simTimer

func (tq timerQueue) Len() int {
	return len(tq)
}

func (tq timerQueue) Less(i, j int) bool {
	if tq[i].expireAt == tq[j].expireAt {
		// timers set for the same instant fire in the order they were set
		return tq[i].seq < tq[j].seq
	}
	return tq[i].expireAt.Before(tq[j].expireAt)
}

func (tq timerQueue) Swap(i, j int) {
	tq[i], tq[j] = tq[j], tq[i]
	tq[i].index = i
	tq[j].index = j
}

func (tq *timerQueue) Push(x interface{}) {
	timer := x.(*simTimer)
	timer.index = len(*tq)
	*tq = append(*tq, timer)
}

func (tq *timerQueue) Pop() interface{} {
	tqa := *tq
	timer := tqa[len(tqa)-1]
	timer.index = -1
	*tq = tqa[0 : len(tqa)-1]
	return timer
}

// inbox carries completions from other goroutines back to the scheduler.
type inbox struct {
	mu      sync.Mutex
	pending []func()
	wake    chan marker
}

func (ib *inbox) post(fn func()) {
	ib.mu.Lock()
	ib.pending = append(ib.pending, fn)
	ib.mu.Unlock()
	select {
	case ib.wake <- marker{}:
	default:
	}
}

func (ib *inbox) take() []func() {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	fns := ib.pending
	ib.pending = nil
	return fns
}

// SimController is the scan scheduler: a virtual clock plus a queue of timers. Nothing happens unless
// Advance is called, which makes every scan deterministic under test and lets Pacer tie it to the wall clock.
type SimController struct {
	currentTime model.VirtualTime
	rand        *rand.Rand
	nextSeq     uint64

	timers timerQueue

	inbox       inbox
	outstanding int
}

var _ model.SimContext = &SimController{}

func (sc *SimController) Now() model.VirtualTime {
	return sc.currentTime
}

func (sc *SimController) SetTimer(expireAt model.VirtualTime, name string, callback func()) (cancel func()) {
	if !expireAt.TimeExists() {
		panic("attempt to set timer at nonexistent time")
	}
	if expireAt.Before(sc.currentTime) {
		expireAt = sc.currentTime
	}
	timer := &simTimer{
		expireAt: expireAt,
		seq:      sc.nextSeq,
		name:     name,
		callback: callback,
		index:    -1,
	}
	sc.nextSeq += 1
	heap.Push(&sc.timers, timer)
	if timer.index == -1 {
		panic("should have a real index now")
	}
	return func() {
		if timer.index != -1 {
			heap.Remove(&sc.timers, timer.index)
			if timer.index != -1 {
				panic("should have been removed!")
			}
		}
	}
}

func (sc *SimController) Later(name string, callback func()) (cancel func()) {
	return sc.SetTimer(sc.Now(), name, callback)
}

func (sc *SimController) Rand() *rand.Rand {
	return sc.rand
}

func (sc *SimController) Async(name string, work func(), done func()) {
	sc.outstanding += 1
	go func() {
		work()
		sc.inbox.post(done)
	}()
}

// Outstanding counts Async calls whose done callback has not run yet.
func (sc *SimController) Outstanding() int {
	return sc.outstanding
}

func (sc *SimController) drainInbox() {
	for _, done := range sc.inbox.take() {
		sc.outstanding -= 1
		done()
	}
}

// NextTimer reports when the next timer expires, or TimeNever if nothing is scheduled.
func (sc *SimController) NextTimer() model.VirtualTime {
	if len(sc.timers) > 0 {
		return sc.timers[0].expireAt
	}
	return model.TimeNever
}

func (sc *SimController) Pending() int {
	return len(sc.timers)
}

func (sc *SimController) runCurrentTimers() {
	sc.drainInbox()
	for len(sc.timers) > 0 && sc.NextTimer().AtOrBefore(sc.Now()) {
		timer := heap.Pop(&sc.timers).(*simTimer)
		if timer.index != -1 {
			panic("invalid timer index")
		}
		timer.callback()
	}
}

// Advance moves the clock forward to advanceTo, running every timer that expires on the way, and returns
// the expiry time of the next remaining timer.
func (sc *SimController) Advance(advanceTo model.VirtualTime) (nextTimer model.VirtualTime) {
	sc.runCurrentTimers()
	for sc.Now().Before(advanceTo) {
		timeStepTo := sc.NextTimer()
		if timeStepTo.TimeExists() && timeStepTo.AtOrBefore(advanceTo) {
			sc.currentTime = timeStepTo
		} else {
			sc.currentTime = advanceTo
		}
		sc.runCurrentTimers()
	}
	return sc.NextTimer()
}

// AdvanceBy is Advance relative to the current time.
func (sc *SimController) AdvanceBy(d time.Duration) model.VirtualTime {
	return sc.Advance(sc.Now().Add(d))
}

// RunUntil advances timer by timer until done reports true or the clock passes limit. It reports whether
// done was satisfied. While Async work is outstanding and no timer is due before limit, it waits for that
// work without moving the clock.
func (sc *SimController) RunUntil(limit model.VirtualTime, done func() bool) bool {
	sc.runCurrentTimers()
	for !done() {
		next := sc.NextTimer()
		if !next.TimeExists() || next.After(limit) {
			if sc.outstanding > 0 {
				<-sc.inbox.wake
				sc.runCurrentTimers()
				continue
			}
			sc.Advance(limit)
			return done()
		}
		sc.Advance(next)
	}
	return true
}

func MakeSimControllerRandomized() *SimController {
	return MakeSimControllerSeeded(time.Now().UnixNano())
}

func MakeSimControllerSeeded(seed int64) *SimController {
	return &SimController{
		currentTime: model.TimeZero,
		rand:        rand.New(rand.NewSource(seed)),
		inbox:       inbox{wake: make(chan marker, 1)},
	}
}
