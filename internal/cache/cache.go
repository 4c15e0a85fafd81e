// Package cache is an advisory, read-through cache of slot availability kept in DynamoDB.
// It is never the deciding factor for accepting a booking; the reservation store is.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/aws"
	"github.com/imrishuroy/go-table-reservations/internal/metrics"
	"github.com/imrishuroy/go-table-reservations/internal/slot"
)

type entry struct {
	Key       string `dynamodbav:"cache_key"`
	Available bool   `dynamodbav:"available"`
	ExpiresAt int64  `dynamodbav:"expires_at"` // unix millis
	TTL       int64  `dynamodbav:"ttl"`        // unix seconds, DynamoDB TTL attribute
}

// Loader computes availability from the source of truth.
type Loader func(ctx context.Context) (bool, error)

// TTLs holds the asymmetric entry lifetimes: a free slot is cached longer than a taken one
// so a stale "taken" answer does not linger.
type TTLs struct {
	Available time.Duration
	Taken     time.Duration
}

type Cache struct {
	client    aws.DynamoDBAPI
	tableName string
	ttls      TTLs
	logs      *zap.Logger
	metrics   metrics.Collector
	nowFunc   func() time.Time
}

// New returns a Cache backed by tableName.
func New(client aws.DynamoDBAPI, tableName string, ttls TTLs, logs *zap.Logger, m metrics.Collector) *Cache {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Cache{
		client:    client,
		tableName: tableName,
		ttls:      ttls,
		logs:      logs,
		metrics:   m,
		nowFunc:   time.Now,
	}
}

// Get returns the cached availability of s, or calls load and caches its answer on a miss.
// Cache read and write failures are logged and fall back to load.
func (c *Cache) Get(ctx context.Context, s slot.Slot, load Loader) (bool, error) {
	if v, ok := c.lookup(ctx, s); ok {
		c.metrics.Incr(ctx, metrics.CacheHit)
		return v, nil
	}
	c.metrics.Incr(ctx, metrics.CacheMiss)

	available, err := load(ctx)
	if err != nil {
		return false, err
	}
	if err := c.populate(ctx, s, available); err != nil {
		c.logs.Warn("cache populate failed", zap.String("slot", s.Key()), zap.Error(err))
	}
	return available, nil
}

// populate stores a loaded answer unless a live entry appeared while loading. A booking
// that commits during the load writes its own entry, and that one is fresher.
func (c *Cache) populate(ctx context.Context, s slot.Slot, available bool) error {
	in, err := c.putInput(s, available)
	if err != nil {
		return err
	}
	in.ConditionExpression = strPtr("attribute_not_exists(cache_key) OR expires_at <= :now")
	in.ExpressionAttributeValues = map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(c.nowFunc().UnixMilli(), 10)},
	}
	_, err = c.client.PutItem(ctx, in)
	var cfe *types.ConditionalCheckFailedException
	switch {
	case errors.As(err, &cfe):
		c.logs.Debug("cache populate lost to a newer entry", zap.String("slot", s.Key()))
		return nil
	case err != nil:
		return errors.Wrapf(err, "failed to populate cache entry %s", s.CacheKey())
	}
	return nil
}

func (c *Cache) lookup(ctx context.Context, s slot.Slot) (bool, bool) {
	out, err := c.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &c.tableName,
		Key:            keyAttr(s),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		c.logs.Warn("cache read failed", zap.String("slot", s.Key()), zap.Error(err))
		return false, false
	}
	if len(out.Item) == 0 {
		return false, false
	}
	var e entry
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		c.logs.Warn("cache entry unreadable", zap.String("slot", s.Key()), zap.Error(err))
		return false, false
	}
	if e.ExpiresAt <= c.nowFunc().UnixMilli() {
		return false, false
	}
	return e.Available, true
}

// Set stores the availability of s with the TTL matching the answer.
func (c *Cache) Set(ctx context.Context, s slot.Slot, available bool) error {
	in, err := c.putInput(s, available)
	if err != nil {
		return err
	}
	if _, err := c.client.PutItem(ctx, in); err != nil {
		return errors.Wrapf(err, "failed to put cache entry %s", s.CacheKey())
	}
	return nil
}

func (c *Cache) putInput(s slot.Slot, available bool) (*dyn.PutItemInput, error) {
	ttl := c.ttls.Taken
	if available {
		ttl = c.ttls.Available
	}
	expires := c.nowFunc().Add(ttl)
	item, err := attributevalue.MarshalMap(entry{
		Key:       s.CacheKey(),
		Available: available,
		ExpiresAt: expires.UnixMilli(),
		TTL:       expires.Unix() + 1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal cache entry")
	}
	return &dyn.PutItemInput{TableName: &c.tableName, Item: item}, nil
}

// Invalidate drops the entry for s so the next Get reads the store.
func (c *Cache) Invalidate(ctx context.Context, s slot.Slot) error {
	if _, err := c.client.DeleteItem(ctx, &dyn.DeleteItemInput{TableName: &c.tableName, Key: keyAttr(s)}); err != nil {
		return errors.Wrapf(err, "failed to invalidate cache entry %s", s.CacheKey())
	}
	return nil
}

func keyAttr(s slot.Slot) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"cache_key": &types.AttributeValueMemberS{Value: s.CacheKey()},
	}
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }
