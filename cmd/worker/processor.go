package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/tasks"
)

// Dispatcher runs a decoded task. See tasks.Registry.
type Dispatcher interface {
	Dispatch(ctx context.Context, t tasks.Task) error
}

// Processor handles SQS batches of reservation tasks.
type Processor struct {
	dispatcher Dispatcher
	logs       *zap.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(d Dispatcher, logs *zap.Logger) *Processor {
	return &Processor{dispatcher: d, logs: logs}
}

// Handle processes each message in the batch and reports the ones SQS should redeliver.
// Retries with backoff are handled by the registry re-enqueueing; a batch item failure is
// only reported when the registry could not record the outcome.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logs.Error("worker error, message will be redelivered",
				zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	t, err := tasks.Decode(rec.MessageId, rec.Body)
	if err != nil {
		// redelivery cannot fix a malformed body
		p.logs.Error("invalid task body, dropping", zap.String("message_id", rec.MessageId), zap.Error(err))
		return nil
	}
	p.logs.Debug("received task",
		zap.String("task_id", t.ID),
		zap.String("task_kind", string(t.Kind)),
		zap.String("reservation_id", t.ReservationID),
		zap.Int("attempt", t.Attempt))
	return p.dispatcher.Dispatch(ctx, t)
}
