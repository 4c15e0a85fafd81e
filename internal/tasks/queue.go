package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/aws"
)

// Queue enqueues tasks on SQS.
type Queue struct {
	publisher *aws.Publisher
	logs      *zap.Logger
	nowFunc   func() time.Time
}

func NewQueue(sqsClient aws.SQSAPI, queueURL string, logs *zap.Logger) *Queue {
	return &Queue{
		publisher: aws.NewPublisher(sqsClient, queueURL),
		logs:      logs,
		nowFunc:   time.Now,
	}
}

// SetClock replaces time.Now.
func (q *Queue) SetClock(now func() time.Time) { q.nowFunc = now }

// Enqueue schedules a first attempt of kind for reservationID at eta and returns the task id.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, reservationID string, eta time.Time) (string, error) {
	return q.send(ctx, Task{
		Kind:          kind,
		ReservationID: reservationID,
		ETA:           eta.UTC(),
		Attempt:       1,
	}, eta)
}

// Requeue sends t again to be delivered at at. The attempt counter is carried as is.
func (q *Queue) Requeue(ctx context.Context, t Task, at time.Time) (string, error) {
	return q.send(ctx, t, at)
}

func (q *Queue) send(ctx context.Context, t Task, at time.Time) (string, error) {
	now := q.nowFunc()
	t.EnqueuedAt = now.UTC()
	body, err := json.Marshal(t)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal task")
	}
	id, err := q.publisher.Send(ctx, string(body), at.Sub(now), map[string]string{
		"task_kind":      string(t.Kind),
		"reservation_id": t.ReservationID,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to enqueue %s", t)
	}
	q.logs.Debug("task enqueued",
		zap.String("task_id", id),
		zap.String("task_kind", string(t.Kind)),
		zap.String("reservation_id", t.ReservationID),
		zap.Time("eta", t.ETA),
		zap.Int("attempt", t.Attempt))
	return id, nil
}
