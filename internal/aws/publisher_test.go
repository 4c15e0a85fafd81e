package aws

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type recordingSQS struct {
	inputs []*sqs.SendMessageInput
}

func (r *recordingSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	r.inputs = append(r.inputs, params)
	return &sqs.SendMessageOutput{MessageId: awsString("msg-1")}, nil
}

func TestPublisherSend_ClampsDelayAndSetsAttributes(t *testing.T) {
	rec := &recordingSQS{}
	p := NewPublisher(rec, "https://sqs.local/tasks")

	id, err := p.Send(context.Background(), `{"kind":"reservations.expire"}`, time.Hour, map[string]string{
		"task_kind":      "reservations.expire",
		"correlation_id": "",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("expected message id msg-1, got %q", id)
	}
	in := rec.inputs[0]
	if in.DelaySeconds != 900 {
		t.Fatalf("expected delay clamped to 900, got %d", in.DelaySeconds)
	}
	if _, ok := in.MessageAttributes["correlation_id"]; ok {
		t.Fatalf("empty attributes must be skipped")
	}
	if got := *in.MessageAttributes["task_kind"].StringValue; got != "reservations.expire" {
		t.Fatalf("unexpected task_kind attribute %q", got)
	}
}

func TestDelaySeconds_RoundsUp(t *testing.T) {
	cases := map[time.Duration]int32{
		-time.Second:            0,
		0:                       0,
		1500 * time.Millisecond: 2,
		10 * time.Second:        10,
		20 * time.Minute:        900,
	}
	for in, want := range cases {
		if got := delaySeconds(in); got != want {
			t.Errorf("delaySeconds(%s) = %d, want %d", in, got, want)
		}
	}
}
