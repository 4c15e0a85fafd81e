package awstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Message is a message captured by the SQS fake.
type Message struct {
	ID           string
	QueueURL     string
	Body         string
	DelaySeconds int32
	Attributes   map[string]string
}

// SQS records sent messages instead of delivering them. Sends on a done context fail.
type SQS struct {
	mu   sync.Mutex
	seq  int
	sent []Message

	// Err, when set, is returned by every SendMessage call.
	Err error
}

func (q *SQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("SendMessage: %w", err)
	}
	q.seq++
	msg := Message{
		ID:           fmt.Sprintf("msg-%d", q.seq),
		Body:         deref(in.MessageBody),
		QueueURL:     deref(in.QueueUrl),
		DelaySeconds: in.DelaySeconds,
		Attributes:   map[string]string{},
	}
	for k, v := range in.MessageAttributes {
		msg.Attributes[k] = deref(v.StringValue)
	}
	q.sent = append(q.sent, msg)
	return &sqs.SendMessageOutput{MessageId: &msg.ID}, nil
}

// Sent returns a copy of every message sent so far.
func (q *SQS) Sent() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.sent...)
}

// Reset forgets captured messages.
func (q *SQS) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
