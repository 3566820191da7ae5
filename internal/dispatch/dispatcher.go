// Package dispatch fans inbound envelopes out to typed subscribers.
package dispatch

import (
	"log/slog"
	"sync"

	"agentwire/internal/protocol"
)

// Handler receives one envelope. Handlers run synchronously on the dispatch
// goroutine, so dispatch order is wire order.
type Handler func(protocol.Envelope)

// Subscription identifies one registered handler so it can be removed.
type Subscription struct {
	kind protocol.EventKind
	id   uint64
}

// Dispatcher routes envelopes to per-kind subscriber lists plus a wildcard
// list. Handlers for a kind run in registration order; wildcard handlers run
// after the kind-specific ones.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[protocol.EventKind][]entry
}

type entry struct {
	id      uint64
	handler Handler
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{subs: make(map[protocol.EventKind][]entry)}
}

// Subscribe registers a handler for one kind, or for every envelope when kind
// is protocol.KindAll.
func (d *Dispatcher) Subscribe(kind protocol.EventKind, h Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.subs[kind] = append(d.subs[kind], entry{id: d.nextID, handler: h})
	return &Subscription{kind: kind, id: d.nextID}
}

// Unsubscribe removes a previously registered handler. Unknown subscriptions
// are ignored.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.subs[sub.kind]
	for i, e := range entries {
		if e.id == sub.id {
			d.subs[sub.kind] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Dispatch delivers one envelope to its kind subscribers and then to the
// wildcard subscribers. The caller is expected to invoke Dispatch in wire
// order; no reordering or coalescing happens here.
func (d *Dispatcher) Dispatch(env protocol.Envelope) {
	d.mu.RLock()
	kindSubs := append([]entry(nil), d.subs[env.Type]...)
	allSubs := append([]entry(nil), d.subs[protocol.KindAll]...)
	d.mu.RUnlock()

	if len(kindSubs) == 0 && len(allSubs) == 0 {
		slog.Debug("No subscribers for envelope", "kind", env.Type)
	}
	for _, e := range kindSubs {
		e.handler(env)
	}
	for _, e := range allSubs {
		e.handler(env)
	}
}
