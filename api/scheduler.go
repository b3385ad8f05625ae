/*
scheduler.go - Automated projection scheduler

PURPOSE:
  Periodically matures future-dated transactions and materializes
  recurring-series occurrences up to the configured horizon, so planned
  transactions exist ahead of time without manual triggering.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick advances the ledger clock, then runs projection
  - Series lifecycle events fan out to a ReminderNotifier so upcoming
    charges can be surfaced to users

CONFIGURATION:
  - CheckInterval: How often to tick (default: 1 hour)
  - Horizon: How far ahead to materialize
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewProjectionScheduler(ldgr, horizon)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/series.go: MaterializeOccurrences
  - ledger/events.go: Event stream the reminder hook rides on
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/ledger-engine/ledger"
)

// ReminderNotifier receives upcoming-charge notifications for series
// whose schedule changed. Implementations push to whatever channel the
// deployment uses; the default drops them.
type ReminderNotifier interface {
	UpcomingCharge(series ledger.RecurringSeries, nextCharge ledger.Date)
	ChargesCancelled(series ledger.RecurringSeries)
}

// NoopReminder is the default ReminderNotifier.
type NoopReminder struct{}

func (NoopReminder) UpcomingCharge(ledger.RecurringSeries, ledger.Date) {}
func (NoopReminder) ChargesCancelled(ledger.RecurringSeries)           {}

// ProjectionScheduler matures future transactions and materializes
// recurring occurrences on a timer.
type ProjectionScheduler struct {
	Ledger        *ledger.Ledger
	Horizon       ledger.Horizon
	CheckInterval time.Duration
	Enabled       bool
	Reminders     ReminderNotifier

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewProjectionScheduler creates a new scheduler.
func NewProjectionScheduler(l *ledger.Ledger, horizon ledger.Horizon) *ProjectionScheduler {
	return &ProjectionScheduler{
		Ledger:        l,
		Horizon:       horizon,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Reminders:     NoopReminder{},
		stop:          make(chan bool),
	}
}

// Start begins the scheduler and hooks reminders into the event stream.
func (ps *ProjectionScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ps.Ledger.Subscribe(ledger.ObserverFunc(ps.onEvent))

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.wg.Add(1)

	go ps.run()

	log.Printf("[Scheduler] Started with check interval: %v", ps.CheckInterval)
}

// Stop stops the scheduler.
func (ps *ProjectionScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ps *ProjectionScheduler) run() {
	defer ps.wg.Done()

	// Run immediately on start
	ps.tick()

	for {
		select {
		case <-ps.ticker.C:
			ps.tick()
		case <-ps.stop:
			return
		}
	}
}

func (ps *ProjectionScheduler) tick() {
	ctx := context.Background()
	now := ledger.Today()

	// Transactions dated in the past since the last tick start counting.
	ps.Ledger.AdvanceTo(now)

	n, err := ps.Ledger.MaterializeOccurrences(ctx, ps.Horizon)
	if err != nil {
		log.Printf("[Scheduler] Materialization failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Scheduler] Materialized %d occurrences as of %s", n, now)
	}
}

// RunNow triggers an immediate tick (for testing/admin).
func (ps *ProjectionScheduler) RunNow() {
	ps.tick()
}

// onEvent forwards series lifecycle changes to the reminder boundary.
func (ps *ProjectionScheduler) onEvent(e ledger.Event) {
	if e.Series == nil {
		return
	}
	switch e.Kind {
	case ledger.EventSeriesCreated, ledger.EventSeriesUpdated:
		if e.NextCharge != nil {
			ps.Reminders.UpcomingCharge(*e.Series, *e.NextCharge)
		}
	case ledger.EventSeriesStopped, ledger.EventSeriesDeleted:
		ps.Reminders.ChargesCancelled(*e.Series)
	}
}
