package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/faults"
	"github.com/imrishuroy/go-table-reservations/internal/metrics"
	"github.com/imrishuroy/go-table-reservations/internal/notify"
	"github.com/imrishuroy/go-table-reservations/internal/reservations"
	"github.com/imrishuroy/go-table-reservations/internal/slot"
	"github.com/imrishuroy/go-table-reservations/internal/tasks"
)

var t0 = time.Date(2025, 9, 1, 13, 0, 0, 0, time.UTC)

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

type scheduled struct {
	kind tasks.Kind
	id   string
	eta  time.Time
}

type fakeQueue struct {
	mu   sync.Mutex
	sent []scheduled
}

func (f *fakeQueue) Enqueue(_ context.Context, kind tasks.Kind, id string, eta time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, scheduled{kind: kind, id: id, eta: eta})
	return "task", nil
}

type sent struct {
	ev notify.Event
	id string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, ev notify.Event, r *reservations.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{ev: ev, id: r.ID})
	return nil
}

type fakeCache struct {
	dropped []string
}

func (f *fakeCache) Invalidate(_ context.Context, s slot.Slot) error {
	f.dropped = append(f.dropped, s.CacheKey())
	return nil
}

type fixture struct {
	store    *reservations.Store
	clock    *clock
	queue    *fakeQueue
	notifier *fakeNotifier
	cache    *fakeCache
	metrics  *metrics.Recorder
	expirer  *Expirer
	reminder *Reminder
	sweeper  *Sweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := reservations.NewMemoryRepository()
	require.NoError(t, repo.PutRestaurant(ctx, &reservations.Restaurant{ID: "r1", Name: "Casa", Timezone: "UTC", OpeningTime: "10:00", ClosingTime: "22:00", AdvanceBookingDays: 90}))
	require.NoError(t, repo.PutTable(ctx, &reservations.Table{ID: "5", RestaurantID: "r1", Number: 5, Capacity: 4, Active: true}))

	f := &fixture{
		clock:    &clock{now: t0},
		queue:    &fakeQueue{},
		notifier: &fakeNotifier{},
		cache:    &fakeCache{},
		metrics:  metrics.NewRecorder(),
	}
	f.store = reservations.NewStore(repo, reservations.DefaultRules, 15*time.Minute, zap.NewNop())
	f.store.SetClock(f.clock.Now)
	f.expirer = NewExpirer(f.store, f.queue, f.cache, zap.NewNop(), f.metrics)
	f.reminder = NewReminder(f.store, f.queue, f.notifier, zap.NewNop(), f.metrics)
	f.reminder.SetClock(f.clock.Now)
	f.sweeper = NewSweeper(f.store, f.expirer, 10, zap.NewNop())
	return f
}

func (f *fixture) book(t *testing.T, date, at string) *reservations.Reservation {
	t.Helper()
	ctx := context.Background()
	d, err := f.store.Prepare(ctx, reservations.NewReservation{TableID: "5", CustomerID: "c1", Date: date, Time: at, PartySize: 2})
	require.NoError(t, err)
	r, err := f.store.Create(ctx, d)
	require.NoError(t, err)
	return r
}

func TestExpirer_ExpiresLapsedPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, "2025-09-15", "19:00")

	require.NoError(t, f.expirer.Schedule(ctx, r.ID, *r.ExpiresAt))
	require.Len(t, f.queue.sent, 1)
	assert.Equal(t, tasks.KindExpire, f.queue.sent[0].kind)
	assert.Equal(t, t0.Add(15*time.Minute), f.queue.sent[0].eta)

	f.clock.Advance(15 * time.Minute)
	require.NoError(t, f.expirer.Execute(ctx, r.ID))

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, reservations.StatusExpired, got.Status)
	assert.Equal(t, 1, f.metrics.Count(metrics.ReservationExpired))
	assert.Equal(t, []string{r.Slot().CacheKey()}, f.cache.dropped)

	// A duplicate delivery changes nothing.
	require.NoError(t, f.expirer.Execute(ctx, r.ID))
	assert.Equal(t, 1, f.metrics.Count(metrics.ReservationExpired))
	assert.Len(t, f.cache.dropped, 1)
}

func TestExpirer_EarlyDeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, "2025-09-15", "19:00")

	f.clock.Advance(14 * time.Minute)
	require.NoError(t, f.expirer.Execute(context.Background(), r.ID))

	got, err := f.store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reservations.StatusPending, got.Status)
}

func TestExpirer_ConfirmedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, "2025-09-15", "19:00")
	_, err := f.store.Transition(ctx, r.ID, reservations.StatusConfirmed)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.expirer.Execute(ctx, r.ID))

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, reservations.StatusConfirmed, got.Status)
	assert.Empty(t, f.cache.dropped)
}

func TestExpirer_MissingReservation(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.expirer.Execute(context.Background(), "nope"))
}

func TestReminderETA(t *testing.T) {
	slotStart := t0.Add(48 * time.Hour)

	eta, ok := ReminderETA(t0, slotStart, 24*time.Hour)
	assert.True(t, ok)
	assert.Equal(t, t0.Add(24*time.Hour), eta)

	eta, ok = ReminderETA(t0, t0.Add(2*time.Hour), 24*time.Hour)
	assert.True(t, ok)
	assert.Equal(t, t0, eta)

	_, ok = ReminderETA(t0, t0, 24*time.Hour)
	assert.False(t, ok)
}

func TestReminder_ConfirmedThenCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, "2025-09-15", "19:00")
	r, err := f.store.Transition(ctx, r.ID, reservations.StatusConfirmed)
	require.NoError(t, err)

	require.NoError(t, f.reminder.Schedule(ctx, r.ID, r.SlotStart, 24*time.Hour))
	require.Len(t, f.queue.sent, 1)
	assert.Equal(t, tasks.KindRemind, f.queue.sent[0].kind)
	assert.Equal(t, r.SlotStart.Add(-24*time.Hour), f.queue.sent[0].eta)

	_, err = f.store.Transition(ctx, r.ID, reservations.StatusCancelled)
	require.NoError(t, err)

	require.NoError(t, f.reminder.Execute(ctx, r.ID))
	assert.Empty(t, f.notifier.sent)
	assert.Zero(t, f.metrics.Count(metrics.ReminderSent))
}

func TestReminder_SendsForConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, "2025-09-15", "19:00")
	_, err := f.store.Transition(ctx, r.ID, reservations.StatusConfirmed)
	require.NoError(t, err)

	require.NoError(t, f.reminder.Execute(ctx, r.ID))
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notify.EventReminder, f.notifier.sent[0].ev)
	assert.Equal(t, 1, f.metrics.Count(metrics.ReminderSent))
}

func TestReminder_DeliveryFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, "2025-09-15", "19:00")
	_, err := f.store.Transition(ctx, r.ID, reservations.StatusConfirmed)
	require.NoError(t, err)
	f.notifier.err = faults.Transient(errors.New("queue unavailable"))

	err = f.reminder.Execute(ctx, r.ID)
	require.Error(t, err)
	assert.True(t, faults.IsTransient(err))

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, reservations.StatusConfirmed, got.Status)
}

func TestReminder_SlotAlreadyStarted(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reminder.Schedule(context.Background(), "r1", t0.Add(-time.Minute), time.Hour))
	assert.Empty(t, f.queue.sent)
}

func TestSweeper_ExpiresOverdueOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := f.book(t, "2025-09-15", "19:00")
	confirmed := f.book(t, "2025-09-15", "20:00")
	_, err := f.store.Transition(ctx, confirmed.ID, reservations.StatusConfirmed)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	late := f.book(t, "2025-09-15", "21:00")

	f.clock.Advance(6 * time.Minute)
	n, err := f.sweeper.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[string]reservations.Status{
		early.ID:     reservations.StatusExpired,
		confirmed.ID: reservations.StatusConfirmed,
		late.ID:      reservations.StatusPending,
	} {
		got, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	n, err = f.sweeper.Execute(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegister_RoutesKinds(t *testing.T) {
	f := newFixture(t)
	reg := tasks.NewRegistry(nil, zap.NewNop(), f.metrics)
	Register(reg, f.expirer, f.reminder, f.sweeper)
	assert.ElementsMatch(t, []tasks.Kind{tasks.KindExpire, tasks.KindRemind, tasks.KindSweep}, reg.Kinds())

	r := f.book(t, "2025-09-15", "19:00")
	f.clock.Advance(20 * time.Minute)
	reg.SetClock(f.clock.Now)
	task := tasks.Task{Kind: tasks.KindExpire, ReservationID: r.ID, ETA: f.clock.Now(), Attempt: 1}
	require.NoError(t, reg.Dispatch(context.Background(), task))

	got, err := f.store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reservations.StatusExpired, got.Status)
}
