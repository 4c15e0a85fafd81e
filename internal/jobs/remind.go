package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/faults"
	"github.com/imrishuroy/go-table-reservations/internal/metrics"
	"github.com/imrishuroy/go-table-reservations/internal/notify"
	"github.com/imrishuroy/go-table-reservations/internal/reservations"
	"github.com/imrishuroy/go-table-reservations/internal/tasks"
)

// Reminder notifies customers ahead of confirmed reservations.
type Reminder struct {
	store    *reservations.Store
	queue    Enqueuer
	notifier notify.Notifier
	logs     *zap.Logger
	metrics  metrics.Collector
	nowFunc  func() time.Time
}

func NewReminder(store *reservations.Store, queue Enqueuer, notifier notify.Notifier, logs *zap.Logger, m metrics.Collector) *Reminder {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Reminder{store: store, queue: queue, notifier: notifier, logs: logs, metrics: m, nowFunc: time.Now}
}

// SetClock replaces time.Now.
func (r *Reminder) SetClock(now func() time.Time) { r.nowFunc = now }

// ReminderETA returns when a reminder for a slot starting at slotStart should fire. A
// reminder whose lead time has already passed fires now; none is due once the slot began.
func ReminderETA(now, slotStart time.Time, lead time.Duration) (time.Time, bool) {
	if !slotStart.After(now) {
		return time.Time{}, false
	}
	eta := slotStart.Add(-lead)
	if eta.Before(now) {
		eta = now
	}
	return eta, true
}

// Schedule enqueues a reminder lead before slotStart.
func (r *Reminder) Schedule(ctx context.Context, reservationID string, slotStart time.Time, lead time.Duration) error {
	logs := logFor(r.logs, reservationID)
	eta, ok := ReminderETA(r.nowFunc(), slotStart, lead)
	if !ok {
		logs.Info("slot already started, no reminder scheduled")
		return nil
	}
	id, err := r.queue.Enqueue(ctx, tasks.KindRemind, reservationID, eta)
	if err != nil {
		return err
	}
	logs.Debug("reminder scheduled", zap.String("task_id", id), zap.Time("eta", eta))
	return nil
}

// Execute sends the reminder only if the reservation is still confirmed. Delivery failure
// never touches reservation state; transient failures are returned for retry.
func (r *Reminder) Execute(ctx context.Context, reservationID string) error {
	logs := logFor(r.logs, reservationID)

	res, err := r.store.Get(ctx, reservationID)
	if notFound(err) {
		logs.Warn("reservation to remind not found")
		return nil
	}
	if err != nil {
		return classify(err)
	}
	if res.Status != reservations.StatusConfirmed {
		logs.Info("reservation not confirmed, reminder skipped", zap.String("status", string(res.Status)))
		return nil
	}

	if err := r.notifier.Notify(ctx, notify.EventReminder, res); err != nil {
		logs.Error("reminder delivery failed", zap.Bool("transient", faults.IsTransient(err)), zap.Error(err))
		return err
	}
	r.metrics.Incr(ctx, metrics.ReminderSent)
	logs.Info("reminder sent")
	return nil
}

func (r *Reminder) Handle(ctx context.Context, t tasks.Task) error {
	return r.Execute(ctx, t.ReservationID)
}
