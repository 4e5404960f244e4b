package component

import (
	"fmt"

	"github.com/celskeggs/scanmx/sim/model"
)

type subscriber struct {
	id       uint64
	callback func()
}

// EventDispatcher fans a single notification out to subscribers, in subscription order.
type EventDispatcher struct {
	ctx          model.SimContext
	laterName    string
	subscribers  []subscriber
	nextID       uint64
	pendingLater bool
}

var _ model.EventSource = &EventDispatcher{}

func MakeEventDispatcher(ctx model.SimContext, name string) *EventDispatcher {
	return &EventDispatcher{
		ctx:       ctx,
		laterName: fmt.Sprintf("%s/DispatchLater", name),
	}
}

func (ed *EventDispatcher) Subscribe(callback func()) (cancel func()) {
	id := ed.nextID
	ed.nextID += 1
	ed.subscribers = append(ed.subscribers, subscriber{id: id, callback: callback})
	return func() {
		for i, s := range ed.subscribers {
			if s.id == id {
				ed.subscribers = append(ed.subscribers[:i:i], ed.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (ed *EventDispatcher) Subscribers() int {
	return len(ed.subscribers)
}

// Dispatch runs every subscriber now. Subscribers added or removed during dispatch take effect next time.
func (ed *EventDispatcher) Dispatch() {
	snapshot := append([]subscriber(nil), ed.subscribers...)
	for _, s := range snapshot {
		s.callback()
	}
}

// DispatchLater coalesces any number of calls into one Dispatch on the next scheduler pass.
func (ed *EventDispatcher) DispatchLater() {
	if ed.pendingLater {
		return
	}
	ed.pendingLater = true
	ed.ctx.Later(ed.laterName, func() {
		ed.pendingLater = false
		ed.Dispatch()
	})
}
