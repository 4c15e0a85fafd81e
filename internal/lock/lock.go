// Package lock implements TTL-based mutual exclusion on top of DynamoDB conditional writes.
//
// Every operation is one conditional request, so ownership is checked and acted on in a
// single atomic step. A crashed holder never wedges a key: once expires_at passes, the next
// Acquire overwrites the stale item, and DynamoDB TTL eventually garbage collects it.
package lock

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/aws"
)

const (
	condAcquire = "attribute_not_exists(lock_key) OR expires_at <= :now"
	condOwned   = "#owner = :owner AND expires_at > :now"
)

// Lock is the item stored per held key.
type Lock struct {
	Key        string `dynamodbav:"lock_key"`
	Owner      string `dynamodbav:"owner"`
	ExpiresAt  int64  `dynamodbav:"expires_at"` // unix millis
	AcquiredAt int64  `dynamodbav:"acquired_at"`
	TTL        int64  `dynamodbav:"ttl"` // unix seconds, DynamoDB TTL attribute
}

// Expired reports whether the lease has lapsed at now.
func (l *Lock) Expired(now time.Time) bool {
	return l.ExpiresAt <= now.UnixMilli()
}

// Service talks to the locks table.
type Service struct {
	client    aws.DynamoDBAPI
	tableName string
	logs      *zap.Logger
	nowFunc   func() time.Time
	backoff   retry.BackoffDelayer
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.nowFunc = now }
}

// WithBackoff replaces the exponential jitter backoff used between acquire attempts.
func WithBackoff(b retry.BackoffDelayer) Option {
	return func(s *Service) { s.backoff = b }
}

// WithSleep replaces the context-aware sleep used between acquire attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

// NewService returns a Service. maxBackoff caps the jittered delay between acquire attempts.
func NewService(client aws.DynamoDBAPI, tableName string, maxBackoff time.Duration, logs *zap.Logger, opts ...Option) *Service {
	s := &Service{
		client:    client,
		tableName: tableName,
		logs:      logs,
		nowFunc:   time.Now,
		backoff:   retry.NewExponentialJitterBackoff(maxBackoff),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOwnerToken returns a fresh random owner token.
func NewOwnerToken() string {
	return uuid.NewString()
}

// Acquire creates key for owner with the given ttl unless a live lease exists.
// It returns false when someone else holds the key.
func (s *Service) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := s.nowFunc()
	expires := now.Add(ttl)
	item, err := attributevalue.MarshalMap(Lock{
		Key:        key,
		Owner:      owner,
		ExpiresAt:  expires.UnixMilli(),
		AcquiredAt: now.UnixMilli(),
		TTL:        expires.Add(time.Minute).Unix(),
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal lock item")
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 &s.tableName,
		Item:                      item,
		ConditionExpression:       awsString(condAcquire),
		ExpressionAttributeValues: map[string]types.AttributeValue{":now": millis(now)},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to acquire lock %s", key)
	}
	return true, nil
}

// Release deletes key only if owner still holds a live lease. It returns false when the lease
// expired or belongs to someone else; nothing is deleted in that case.
func (s *Service) Release(ctx context.Context, key, owner string) (bool, error) {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:                 &s.tableName,
		Key:                       keyAttr(key),
		ConditionExpression:       awsString(condOwned),
		ExpressionAttributeNames:  map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: ownedValues(owner, s.nowFunc()),
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to release lock %s", key)
	}
	return true, nil
}

// Extend resets the expiry of a lease held by owner to now+ttl.
func (s *Service) Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := s.nowFunc()
	expires := now.Add(ttl)
	values := ownedValues(owner, now)
	values[":exp"] = millis(expires)
	values[":ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires.Add(time.Minute).Unix(), 10)}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyAttr(key),
		UpdateExpression:          awsString("SET expires_at = :exp, #ttl = :ttl"),
		ConditionExpression:       awsString(condOwned),
		ExpressionAttributeNames:  map[string]string{"#owner": "owner", "#ttl": "ttl"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to extend lock %s", key)
	}
	return true, nil
}

// Inspect returns the stored item for key, live or lapsed, or nil if there is none.
func (s *Service) Inspect(ctx context.Context, key string) (*Lock, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyAttr(key),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get lock %s", key)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var l Lock
	if err := attributevalue.UnmarshalMap(out.Item, &l); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal lock item")
	}
	return &l, nil
}

// ForceRelease deletes key regardless of owner. Operator use only.
func (s *Service) ForceRelease(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       keyAttr(key),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to force release lock %s", key)
	}
	s.logs.Warn("lock force released", zap.String("lock_key", key))
	return nil
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"lock_key": &types.AttributeValueMemberS{Value: key},
	}
}

func ownedValues(owner string, now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":owner": &types.AttributeValueMemberS{Value: owner},
		":now":   millis(now),
	}
}

func millis(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if stderrors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return stderrors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func awsString(s string) *string { return &s }
func boolPtr(b bool) *bool       { return &b }
