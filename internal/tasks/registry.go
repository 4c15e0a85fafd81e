package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/faults"
	"github.com/imrishuroy/go-table-reservations/internal/metrics"
)

// Handler executes one task. Return a faults.Transient error to have it retried under the
// kind's policy; any other error terminates the task.
type Handler func(ctx context.Context, t Task) error

// Requeuer puts a task back on the queue.
type Requeuer interface {
	Requeue(ctx context.Context, t Task, at time.Time) (string, error)
}

type route struct {
	policy  Policy
	handler Handler
}

// Registry maps task kinds to handlers. Build it once at startup.
type Registry struct {
	routes  map[Kind]route
	queue   Requeuer
	logs    *zap.Logger
	metrics metrics.Collector
	nowFunc func() time.Time
}

func NewRegistry(queue Requeuer, logs *zap.Logger, m metrics.Collector) *Registry {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Registry{
		routes:  map[Kind]route{},
		queue:   queue,
		logs:    logs,
		metrics: m,
		nowFunc: time.Now,
	}
}

// SetClock replaces time.Now.
func (r *Registry) SetClock(now func() time.Time) { r.nowFunc = now }

// Register binds kind to h. Registering a kind twice is a programming error and panics.
func (r *Registry) Register(kind Kind, p Policy, h Handler) {
	if _, dup := r.routes[kind]; dup {
		panic(fmt.Sprintf("tasks: kind %s registered twice", kind))
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	r.routes[kind] = route{policy: p, handler: h}
}

// Kinds lists registered kinds.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.routes))
	for k := range r.routes {
		out = append(out, k)
	}
	return out
}

// Dispatch runs t. A nil return means the message can be deleted: the task succeeded, was
// re-enqueued, or was dropped for good. A non-nil return means nothing was recorded and the
// message should be redelivered.
func (r *Registry) Dispatch(ctx context.Context, t Task) error {
	logs := r.logs.With(
		zap.String("task_id", t.ID),
		zap.String("task_kind", string(t.Kind)),
		zap.String("reservation_id", t.ReservationID),
		zap.Int("attempt", t.Attempt))

	rt, ok := r.routes[t.Kind]
	if !ok {
		logs.Error("unknown task kind, dropping")
		r.metrics.Incr(ctx, metrics.TaskDropped)
		return nil
	}

	now := r.nowFunc()
	if t.ETA.After(now) {
		if _, err := r.queue.Requeue(ctx, t, t.ETA); err != nil {
			return err
		}
		logs.Debug("task not due yet, re-enqueued", zap.Duration("remaining", t.ETA.Sub(now)))
		return nil
	}

	err := rt.handler(ctx, t)
	switch {
	case err == nil:
		return nil
	case faults.IsPermanent(err) || !faults.IsTransient(err):
		logs.Error("task failed permanently, dropping", zap.Error(err))
		r.metrics.Incr(ctx, metrics.TaskDropped)
		return nil
	case t.Attempt >= rt.policy.MaxAttempts:
		logs.Error("task retries exhausted, dropping", zap.Int("max_attempts", rt.policy.MaxAttempts), zap.Error(err))
		r.metrics.Incr(ctx, metrics.TaskDropped)
		return nil
	}

	delay := rt.policy.Backoff(t.Attempt)
	next := t
	next.Attempt++
	next.ETA = now.Add(delay)
	if _, rerr := r.queue.Requeue(ctx, next, next.ETA); rerr != nil {
		logs.Error("task retry could not be enqueued", zap.Error(rerr))
		return err
	}
	logs.Warn("task failed, retry scheduled", zap.Duration("delay", delay), zap.Error(err))
	r.metrics.Incr(ctx, metrics.TaskRetried)
	return nil
}
