/*
events.go - Ledger events and the ordered notification queue

PURPOSE:
  Every successful mutation emits exactly one event. Observers (the API
  layer, the reminder scheduler, metrics) consume events from a single
  ordered queue drained by one goroutine - ad-hoc pub/sub that can
  double-fire or interleave is exactly the re-entrant regeneration bug
  this design replaces.

EVENT CONTENT:
  Deleted events carry the full removed record, not just its id: balance
  reversal needs the transaction's value. BulkAdded is one event for the
  whole batch so downstream work happens once per batch, not once per row.

SEE ALSO:
  - ledger.go: The only emitter
  - coordinator.go: Applies balance deltas from these events
*/
package ledger

import (
	"log"
	"sync"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

type EventKind string

const (
	EventAdded     EventKind = "added"
	EventUpdated   EventKind = "updated"
	EventDeleted   EventKind = "deleted"
	EventBulkAdded EventKind = "bulk_added"

	EventSeriesCreated EventKind = "series_created"
	EventSeriesUpdated EventKind = "series_updated"
	EventSeriesStopped EventKind = "series_stopped"
	EventSeriesDeleted EventKind = "series_deleted"

	EventRecalculated EventKind = "recalculated"
)

// Event describes one applied mutation.
type Event struct {
	Kind EventKind

	// Added/Updated: the new record. Deleted: the full removed record.
	Transaction *Transaction

	// Updated only: the record that was reverted.
	Previous *Transaction

	// BulkAdded: the whole batch.
	Batch []Transaction

	// Series events.
	Series *RecurringSeries

	// Series events: next charge date, when the series still generates.
	NextCharge *Date
}

// Observer receives applied events in submission order.
type Observer interface {
	OnLedgerEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnLedgerEvent(e Event) { f(e) }

// =============================================================================
// NOTIFIER - One ordered queue, one consumer
// =============================================================================

// notifier fans events out to observers from a single drain goroutine.
// Publish order is delivery order; observers never see interleaving.
type notifier struct {
	mu        sync.Mutex
	observers []Observer
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
}

const eventQueueDepth = 256

func newNotifier() *notifier {
	n := &notifier{
		queue: make(chan Event, eventQueueDepth),
		done:  make(chan struct{}),
	}
	go n.drain()
	return n
}

func (n *notifier) subscribe(o Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, o)
}

func (n *notifier) publish(e Event) {
	select {
	case n.queue <- e:
	case <-n.done:
	}
}

func (n *notifier) drain() {
	for {
		select {
		case e := <-n.queue:
			n.dispatch(e)
		case <-n.done:
			// Flush what is already queued, then stop.
			for {
				select {
				case e := <-n.queue:
					n.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

func (n *notifier) dispatch(e Event) {
	n.mu.Lock()
	observers := make([]Observer, len(n.observers))
	copy(observers, n.observers)
	n.mu.Unlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[Ledger] observer panic on %s event: %v", e.Kind, r)
				}
			}()
			o.OnLedgerEvent(e)
		}()
	}
}

func (n *notifier) close() {
	n.closeOnce.Do(func() { close(n.done) })
}
