package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/metrics"
	"github.com/imrishuroy/go-table-reservations/internal/reservations"
	"github.com/imrishuroy/go-table-reservations/internal/tasks"
)

// Expirer moves pending reservations to expired once their hold lapses.
type Expirer struct {
	store   *reservations.Store
	queue   Enqueuer
	cache   Invalidator
	logs    *zap.Logger
	metrics metrics.Collector
}

func NewExpirer(store *reservations.Store, queue Enqueuer, cache Invalidator, logs *zap.Logger, m metrics.Collector) *Expirer {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Expirer{store: store, queue: queue, cache: cache, logs: logs, metrics: m}
}

// Schedule enqueues the expiration of reservationID at eta.
func (e *Expirer) Schedule(ctx context.Context, reservationID string, eta time.Time) error {
	id, err := e.queue.Enqueue(ctx, tasks.KindExpire, reservationID, eta)
	if err != nil {
		return err
	}
	logFor(e.logs, reservationID).Debug("expiration scheduled", zap.String("task_id", id), zap.Time("eta", eta))
	return nil
}

// Execute expires reservationID if it is still pending and past its expiresAt. A missing
// reservation is logged and ignored; transient store errors are returned for retry.
func (e *Expirer) Execute(ctx context.Context, reservationID string) error {
	_, err := e.expire(ctx, reservationID)
	return err
}

func (e *Expirer) Handle(ctx context.Context, t tasks.Task) error {
	return e.Execute(ctx, t.ReservationID)
}

func (e *Expirer) expire(ctx context.Context, reservationID string) (bool, error) {
	logs := logFor(e.logs, reservationID)

	r, changed, err := e.store.Expire(ctx, reservationID)
	if notFound(err) {
		logs.Warn("reservation to expire not found")
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	if !changed {
		logs.Debug("reservation does not need to expire", zap.String("status", string(r.Status)))
		return false, nil
	}

	logs.Info("reservation expired")
	e.metrics.Incr(ctx, metrics.ReservationExpired)
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, r.Slot()); err != nil {
			logs.Warn("cache invalidate after expiry failed", zap.Error(err))
		}
	}
	return true, nil
}
