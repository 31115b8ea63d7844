package downloads

import (
	"spool/internal/identity"
	"spool/internal/transfer"
)

// EventKind classifies projection changes.
type EventKind string

const (
	// EventUpdated reports a record created or mutated.
	EventUpdated EventKind = "updated"
	// EventRemoved reports a record dropped from the projection.
	EventRemoved EventKind = "removed"
	// EventDeleted reports the outcome of a disk-level deletion.
	EventDeleted EventKind = "deleted"
)

// Event is published to subscribers on every projection change.
type Event struct {
	Kind     EventKind
	Key      identity.GlobalKey
	Record   transfer.Record
	Deletion *transfer.DeletionProgress
}

// Subscribe registers an event channel. The returned cancel function
// unsubscribes and closes the channel. Slow subscribers lose events rather
// than stall the consumer.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	ch := make(chan Event, buffer)
	o.subs[id] = ch
	o.subMu.Unlock()

	cancel := func() {
		o.subMu.Lock()
		if existing, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(existing)
		}
		o.subMu.Unlock()
	}
	return ch, cancel
}

func (o *Orchestrator) publish(event Event) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
