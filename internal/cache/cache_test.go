package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/aws/awstest"
	"github.com/imrishuroy/go-table-reservations/internal/metrics"
	"github.com/imrishuroy/go-table-reservations/internal/slot"
)

const table = "availability"

type fixture struct {
	cache *Cache
	db    *awstest.Dynamo
	rec   *metrics.Recorder
	now   time.Time
	slot  slot.Slot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:  awstest.NewDynamo(map[string]string{table: "cache_key"}),
		rec: metrics.NewRecorder(),
		now: time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	f.cache = New(f.db, table, TTLs{Available: 5 * time.Minute, Taken: 30 * time.Second}, zap.NewNop(), f.rec)
	f.cache.nowFunc = func() time.Time { return f.now }
	s, err := slot.New("5", "2025-09-15", "19:00", time.UTC)
	require.NoError(t, err)
	f.slot = s
	return f
}

// storeState is a stand-in for the reservation store.
type storeState struct {
	taken bool
	calls int
}

func (s *storeState) load(context.Context) (bool, error) {
	s.calls++
	return !s.taken, nil
}

func TestGet_ReadThroughThenHit(t *testing.T) {
	f := newFixture(t)
	store := &storeState{}
	ctx := context.Background()

	v, err := f.cache.Get(ctx, f.slot, store.load)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = f.cache.Get(ctx, f.slot, store.load)
	require.NoError(t, err)
	assert.True(t, v)

	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 1, f.rec.Count(metrics.CacheMiss))
	assert.Equal(t, 1, f.rec.Count(metrics.CacheHit))
}

func TestInvalidate_NextGetReflectsStore(t *testing.T) {
	f := newFixture(t)
	store := &storeState{}
	ctx := context.Background()

	v, err := f.cache.Get(ctx, f.slot, store.load)
	require.NoError(t, err)
	require.True(t, v)

	// the slot is booked; the cached "available" answer is now stale
	store.taken = true
	require.NoError(t, f.cache.Invalidate(ctx, f.slot))

	v, err = f.cache.Get(ctx, f.slot, store.load)
	require.NoError(t, err)
	assert.False(t, v)
	assert.Equal(t, 2, store.calls)
}

func TestGet_PopulateLosesToConcurrentBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// the store answers "free", then a booking commits and records the slot as taken
	// before the read-through write lands
	v, err := f.cache.Get(ctx, f.slot, func(ctx context.Context) (bool, error) {
		require.NoError(t, f.cache.Set(ctx, f.slot, false))
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, v)

	item := f.db.Item(table, f.slot.CacheKey())
	require.NotNil(t, item)
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: false}, item["available"])

	store := &storeState{}
	v, err = f.cache.Get(ctx, f.slot, store.load)
	require.NoError(t, err)
	assert.False(t, v)
	assert.Zero(t, store.calls)
}

func TestSet_AsymmetricTTL(t *testing.T) {
	f := newFixture(t)
	store := &storeState{taken: true}
	ctx := context.Background()

	require.NoError(t, f.cache.Set(ctx, f.slot, false))
	item := f.db.Item(table, f.slot.CacheKey())
	require.NotNil(t, item)
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: false}, item["available"])

	// taken entries lapse after 30s
	f.now = f.now.Add(31 * time.Second)
	_, err := f.cache.Get(ctx, f.slot, store.load)
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)

	// available entries last five minutes
	require.NoError(t, f.cache.Set(ctx, f.slot, true))
	f.now = f.now.Add(4 * time.Minute)
	v, err := f.cache.Get(ctx, f.slot, store.load)
	require.NoError(t, err)
	assert.True(t, v)
	assert.Equal(t, 1, store.calls)

	f.now = f.now.Add(2 * time.Minute)
	v, err = f.cache.Get(ctx, f.slot, store.load)
	require.NoError(t, err)
	assert.False(t, v)
	assert.Equal(t, 2, store.calls)
}

func TestGet_CacheFailureFallsBackToLoader(t *testing.T) {
	f := newFixture(t)
	f.db.Fail = func(string, string) error { return errors.New("dynamodb unavailable") }
	store := &storeState{taken: true}

	v, err := f.cache.Get(context.Background(), f.slot, store.load)
	require.NoError(t, err)
	assert.False(t, v)
	assert.Equal(t, 1, store.calls)
}

func TestGet_LoaderErrorPropagates(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("store down")

	_, err := f.cache.Get(context.Background(), f.slot, func(context.Context) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.db.Len(table))
}
