package eventbus

import (
	"sync"

	"github.com/nellylemmy/talktime-meeting-engine/meeting"
)

// Outbox is a durable queue of events written before publish is
// attempted, so a crash between a successful store write and a
// successful bus publish never loses the event: a dedicated flusher
// later drains whatever is still pending.
//
// This in-memory implementation stands in for an outbox row written in
// the same transaction as the state change; a persistent Store-backed
// Outbox would satisfy the same interface.
type Outbox struct {
	mu      sync.Mutex
	pending map[string]meeting.Event // dedupe key -> event, insertion order tracked separately
	order   []string
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{pending: make(map[string]meeting.Event)}
}

// Enqueue records e as pending delivery. Idempotent on the event's
// dedupe key.
func (o *Outbox) Enqueue(e meeting.Event) {
	key := e.DedupeKey()
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.pending[key]; !exists {
		o.pending[key] = e
		o.order = append(o.order, key)
	}
}

// Ack removes e from the outbox once every subscriber has confirmed
// delivery.
func (o *Outbox) Ack(e meeting.Event) {
	key := e.DedupeKey()
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.pending[key]; !exists {
		return
	}
	delete(o.pending, key)
	for i, k := range o.order {
		if k == key {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// Pending returns every still-undelivered event, oldest first. Called
// by the flusher on each FlushInterval tick.
func (o *Outbox) Pending() []meeting.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]meeting.Event, 0, len(o.order))
	for _, k := range o.order {
		out = append(out, o.pending[k])
	}
	return out
}

// Len reports the number of undelivered events, for /metrics.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}
