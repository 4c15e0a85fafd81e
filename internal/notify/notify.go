// Package notify hands reservation events to the notification service. Rendering and
// delivery happen downstream; this side only publishes the request.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/aws"
	"github.com/imrishuroy/go-table-reservations/internal/faults"
	"github.com/imrishuroy/go-table-reservations/internal/reservations"
)

// Event is the kind of message the customer should receive.
type Event string

const (
	EventCreated   Event = "reservation_created"
	EventConfirmed Event = "reservation_confirmed"
	EventCancelled Event = "reservation_cancelled"
	EventReminder  Event = "reservation_reminder"
)

// Notifier delivers an event about a reservation. Errors marked faults.Permanent must not
// be retried.
type Notifier interface {
	Notify(ctx context.Context, ev Event, r *reservations.Reservation) error
}

// Request is the body published to the notifications queue.
type Request struct {
	Event         Event     `json:"event"`
	ReservationID string    `json:"reservation_id"`
	CustomerID    string    `json:"customer_id"`
	RestaurantID  string    `json:"restaurant_id"`
	TableID       string    `json:"table_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	PartySize     int       `json:"party_size"`
	Status        string    `json:"status"`
	RequestedAt   time.Time `json:"requested_at"`
}

// SQSNotifier publishes notification requests to a queue.
type SQSNotifier struct {
	publisher *aws.Publisher
	logs      *zap.Logger
	nowFunc   func() time.Time
}

func NewSQSNotifier(sqsClient aws.SQSAPI, queueURL string, logs *zap.Logger) *SQSNotifier {
	return &SQSNotifier{
		publisher: aws.NewPublisher(sqsClient, queueURL),
		logs:      logs,
		nowFunc:   time.Now,
	}
}

func (n *SQSNotifier) Notify(ctx context.Context, ev Event, r *reservations.Reservation) error {
	body, err := json.Marshal(Request{
		Event:         ev,
		ReservationID: r.ID,
		CustomerID:    r.CustomerID,
		RestaurantID:  r.RestaurantID,
		TableID:       r.TableID,
		Date:          r.Date,
		Time:          r.Time,
		PartySize:     r.PartySize,
		Status:        string(r.Status),
		RequestedAt:   n.nowFunc().UTC(),
	})
	if err != nil {
		return faults.Permanent(errors.Wrap(err, "failed to marshal notification"))
	}
	id, err := n.publisher.Send(ctx, string(body), 0, map[string]string{
		"event":          string(ev),
		"reservation_id": r.ID,
	})
	if err != nil {
		if faults.IsTransient(err) {
			return faults.Transient(err)
		}
		return faults.Permanent(err)
	}
	n.logs.Debug("notification requested",
		zap.String("event", string(ev)),
		zap.String("reservation_id", r.ID),
		zap.String("message_id", id))
	return nil
}

// LogNotifier writes events to the log. Used for local runs without a notifications queue.
type LogNotifier struct {
	Logs *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event, r *reservations.Reservation) error {
	n.Logs.Info("notification",
		zap.String("event", string(ev)),
		zap.String("reservation_id", r.ID),
		zap.String("customer_id", r.CustomerID),
		zap.String("date", r.Date),
		zap.String("time", r.Time))
	return nil
}

// New picks the SQS notifier when queueURL is set and the log notifier otherwise.
func New(sqsClient aws.SQSAPI, queueURL string, logs *zap.Logger) Notifier {
	if queueURL == "" || sqsClient == nil {
		return LogNotifier{Logs: logs}
	}
	return NewSQSNotifier(sqsClient, queueURL, logs)
}
