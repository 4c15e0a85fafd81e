// Package tasks carries delayed work over SQS with per-kind retry policies.
//
// SQS holds a message back for at most 15 minutes, so a task whose ETA is further out is
// delivered early and re-enqueued with the remaining delay until it is due.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Kind names a task handler.
type Kind string

const (
	KindExpire Kind = "reservations.expire"
	KindRemind Kind = "reservations.remind"
	KindSweep  Kind = "reservations.sweep"
)

// Task is the message body on the tasks queue.
type Task struct {
	ID            string    `json:"-"`
	Kind          Kind      `json:"kind"`
	ReservationID string    `json:"reservation_id,omitempty"`
	ETA           time.Time `json:"eta"`
	Attempt       int       `json:"attempt"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

func (t Task) String() string {
	return fmt.Sprintf("%s(%s)#%d", t.Kind, t.ReservationID, t.Attempt)
}

// Decode parses a message body.
func Decode(id, body string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return Task{}, errors.Wrap(err, "invalid task body")
	}
	if t.Kind == "" {
		return Task{}, errors.New("task body has no kind")
	}
	if t.Attempt < 1 {
		t.Attempt = 1
	}
	t.ID = id
	return t, nil
}

// Policy bounds retries of one task kind.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff returns the delay before retrying after the given failed attempt: BaseDelay doubled
// per prior attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Default policies per kind.
var (
	ExpirePolicy = Policy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Minute}
	RemindPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: 10 * time.Minute}
	SweepPolicy  = Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
)
