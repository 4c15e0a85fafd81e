package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/aws/awstest"
)

const table = "locks"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixedBackoff time.Duration

func (b fixedBackoff) BackoffDelay(int, error) (time.Duration, error) { return time.Duration(b), nil }

func newTestService(t *testing.T) (*Service, *awstest.Dynamo, *clock) {
	t.Helper()
	db := awstest.NewDynamo(map[string]string{table: "lock_key"})
	clk := &clock{now: time.Date(2025, 9, 15, 18, 0, 0, 0, time.UTC)}
	svc := NewService(db, table, time.Second, zap.NewNop(),
		WithClock(clk.Now),
		WithBackoff(fixedBackoff(100*time.Millisecond)),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			clk.Advance(d)
			return ctx.Err()
		}),
	)
	return svc, db, clk
}

func TestAcquire_ExclusiveUntilReleased(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	ok, err := svc.Acquire(ctx, "table_lock:5", "A", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.Acquire(ctx, "table_lock:5", "B", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a live lock")

	released, err := svc.Release(ctx, "table_lock:5", "A")
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = svc.Acquire(ctx, "table_lock:5", "B", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOwnership_OtherTokenCannotReleaseOrExtend(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	ok, err := svc.Acquire(ctx, "k", "A", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	before := db.Item(table, "k")

	released, err := svc.Release(ctx, "k", "B")
	require.NoError(t, err)
	assert.False(t, released)

	extended, err := svc.Extend(ctx, "k", "B", time.Hour)
	require.NoError(t, err)
	assert.False(t, extended)

	assert.Equal(t, before, db.Item(table, "k"), "lock item must be untouched")

	l, err := svc.Inspect(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "A", l.Owner)
}

func TestExtend_ByOwnerPushesExpiry(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "k", "A", 30*time.Second)
	require.NoError(t, err)

	clk.Advance(25 * time.Second)
	extended, err := svc.Extend(ctx, "k", "A", 10*time.Second)
	require.NoError(t, err)
	require.True(t, extended)

	// past the original 30s but inside the extension
	clk.Advance(8 * time.Second)
	ok, err := svc.Acquire(ctx, "k", "B", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	l, err := svc.Inspect(ctx, "k")
	require.NoError(t, err)
	assert.False(t, l.Expired(clk.Now()))
}

func TestCrashedHolder_ExpiresAfterTTL(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	ok, err := svc.Acquire(ctx, "table_lock:5:2025-09-15T23:00Z", "crashed", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(30*time.Second - time.Millisecond)
	ok, err = svc.Acquire(ctx, "table_lock:5:2025-09-15T23:00Z", "next", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lease still live one millisecond before expiry")

	clk.Advance(time.Millisecond)
	ok, err = svc.Acquire(ctx, "table_lock:5:2025-09-15T23:00Z", "next", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lease must be acquirable exactly at expiry")

	// the crashed holder can no longer release or extend
	released, err := svc.Release(ctx, "table_lock:5:2025-09-15T23:00Z", "crashed")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestRelease_ExpiredLeaseIsNoop(t *testing.T) {
	svc, db, clk := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "k", "A", time.Second)
	require.NoError(t, err)
	clk.Advance(2 * time.Second)

	released, err := svc.Release(ctx, "k", "A")
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, 1, db.Len(table))
}

func TestForceRelease(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "k", "A", time.Minute)
	require.NoError(t, err)
	require.NoError(t, svc.ForceRelease(ctx, "k"))
	assert.Equal(t, 0, db.Len(table))

	l, err := svc.Inspect(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestAcquireWithRetry_WaitsForRelease(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "k", "A", 250*time.Millisecond)
	require.NoError(t, err)

	err = svc.AcquireWithRetry(ctx, "k", "B", 30*time.Second, Policy{Attempts: 5, Wait: 10 * time.Second})
	require.NoError(t, err)

	l, err := svc.Inspect(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "B", l.Owner)
	assert.False(t, l.Expired(clk.Now()))
}

func TestAcquireWithRetry_ExhaustsAttempts(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "k", "A", time.Minute)
	require.NoError(t, err)

	err = svc.AcquireWithRetry(ctx, "k", "B", 30*time.Second, Policy{Attempts: 3, Wait: 10 * time.Second})
	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Equal(t, 3, acqErr.Attempts)
	assert.Equal(t, 3, db.Calls["PutItem"]-1)
}

func TestAcquireWithRetry_WallClockBudget(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.backoff = fixedBackoff(4 * time.Second)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "k", "A", time.Hour)
	require.NoError(t, err)

	err = svc.AcquireWithRetry(ctx, "k", "B", 30*time.Second, Policy{Attempts: 10, Wait: 10 * time.Second})
	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Less(t, acqErr.Attempts, 10)
	assert.LessOrEqual(t, acqErr.Elapsed, 10*time.Second)
}

func TestAcquireWithRetry_TransientErrorsConsumeAttempts(t *testing.T) {
	svc, db, _ := newTestService(t)
	fails := 2
	db.Fail = func(op, _ string) error {
		if op == "PutItem" && fails > 0 {
			fails--
			return &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}
		}
		return nil
	}

	err := svc.AcquireWithRetry(context.Background(), "k", "A", 30*time.Second, Policy{Attempts: 5, Wait: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, db.Calls["PutItem"])
}

func TestAcquireWithRetry_PermanentErrorAborts(t *testing.T) {
	svc, db, _ := newTestService(t)
	db.Fail = func(string, string) error {
		return &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}
	}

	err := svc.AcquireWithRetry(context.Background(), "k", "A", 30*time.Second, Policy{Attempts: 5})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAcquired)
	assert.Equal(t, 1, db.Calls["PutItem"])
}

func TestAcquireWithRetry_ConcurrentCallersSingleWinner(t *testing.T) {
	db := awstest.NewDynamo(map[string]string{table: "lock_key"})
	svc := NewService(db, table, time.Millisecond, zap.NewNop(), WithBackoff(fixedBackoff(time.Millisecond)))

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			if err := svc.AcquireWithRetry(context.Background(), "k", owner, time.Minute, Policy{Attempts: 2}); err == nil {
				mu.Lock()
				winners = append(winners, owner)
				mu.Unlock()
			}
		}(NewOwnerToken())
	}
	wg.Wait()
	assert.Len(t, winners, 1)
}
