package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/aws/awstest"
)

func TestQueue_EnqueueRoundTrip(t *testing.T) {
	sqs := &awstest.SQS{}
	q := NewQueue(sqs, "https://sqs.local/tasks", zap.NewNop())
	q.SetClock(func() time.Time { return t0 })

	id, err := q.Enqueue(context.Background(), KindExpire, "r1", t0.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	sent := sqs.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int32(900), sent[0].DelaySeconds)
	assert.Equal(t, "reservations.expire", sent[0].Attributes["task_kind"])
	assert.Equal(t, "r1", sent[0].Attributes["reservation_id"])

	task, err := Decode(sent[0].ID, sent[0].Body)
	require.NoError(t, err)
	assert.Equal(t, KindExpire, task.Kind)
	assert.Equal(t, "r1", task.ReservationID)
	assert.Equal(t, 1, task.Attempt)
	assert.True(t, task.ETA.Equal(t0.Add(15*time.Minute)))
	assert.Equal(t, "msg-1", task.ID)
}

func TestQueue_LongETAIsCapped(t *testing.T) {
	sqs := &awstest.SQS{}
	q := NewQueue(sqs, "https://sqs.local/tasks", zap.NewNop())
	q.SetClock(func() time.Time { return t0 })

	_, err := q.Enqueue(context.Background(), KindRemind, "r1", t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int32(900), sqs.Sent()[0].DelaySeconds)

	_, err = q.Enqueue(context.Background(), KindRemind, "r2", t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int32(0), sqs.Sent()[1].DelaySeconds)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("m", "not json")
	assert.Error(t, err)
	_, err = Decode("m", `{"reservation_id":"r1"}`)
	assert.Error(t, err)

	task, err := Decode("m", `{"kind":"reservations.sweep"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, task.Attempt)
}
