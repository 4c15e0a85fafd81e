// Package jobs holds the delayed reservation jobs: expiration of unconfirmed bookings,
// reminders before the slot, and the maintenance sweep that catches missed expirations.
//
// Every handler re-reads current state before acting, so at-least-once delivery is safe.
package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/faults"
	"github.com/imrishuroy/go-table-reservations/internal/reservations"
	"github.com/imrishuroy/go-table-reservations/internal/slot"
	"github.com/imrishuroy/go-table-reservations/internal/tasks"
)

// Enqueuer schedules a task for a reservation.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind tasks.Kind, reservationID string, eta time.Time) (string, error)
}

// Invalidator drops cached availability for a slot.
type Invalidator interface {
	Invalidate(ctx context.Context, s slot.Slot) error
}

// Register binds every job to its task kind.
func Register(reg *tasks.Registry, e *Expirer, r *Reminder, s *Sweeper) {
	reg.Register(tasks.KindExpire, tasks.ExpirePolicy, e.Handle)
	reg.Register(tasks.KindRemind, tasks.RemindPolicy, r.Handle)
	reg.Register(tasks.KindSweep, tasks.SweepPolicy, s.Handle)
}

// classify turns store errors into the retry taxonomy. Not-found is reported separately.
func classify(err error) error {
	if faults.IsTransient(err) {
		return faults.Transient(err)
	}
	return err
}

func notFound(err error) bool {
	return errors.Is(err, reservations.ErrNotFound)
}

func logFor(logs *zap.Logger, id string) *zap.Logger {
	return logs.With(zap.String("reservation_id", id))
}
