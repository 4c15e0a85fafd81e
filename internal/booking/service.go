// Package booking orchestrates reservation creation and the transitions that carry side
// effects: lock acquisition, cache maintenance, follow-up job scheduling and notifications.
package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/cache"
	"github.com/imrishuroy/go-table-reservations/internal/lock"
	"github.com/imrishuroy/go-table-reservations/internal/metrics"
	"github.com/imrishuroy/go-table-reservations/internal/notify"
	"github.com/imrishuroy/go-table-reservations/internal/reservations"
	"github.com/imrishuroy/go-table-reservations/internal/slot"
)

const (
	releaseTimeout = 5 * time.Second
	notifyTimeout  = 10 * time.Second

	// followUpTimeout bounds the work that runs after a state change is durable.
	followUpTimeout = 10 * time.Second
)

// Locker is the subset of the lock service used while booking.
type Locker interface {
	AcquireWithRetry(ctx context.Context, key, owner string, ttl time.Duration, p lock.Policy) error
	Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) (bool, error)
}

// AvailabilityCache is the advisory availability cache.
type AvailabilityCache interface {
	Get(ctx context.Context, s slot.Slot, load cache.Loader) (bool, error)
	Set(ctx context.Context, s slot.Slot, available bool) error
	Invalidate(ctx context.Context, s slot.Slot) error
}

type ExpirationScheduler interface {
	Schedule(ctx context.Context, reservationID string, eta time.Time) error
}

type ReminderScheduler interface {
	Schedule(ctx context.Context, reservationID string, slotStart time.Time, lead time.Duration) error
}

// Options tunes the orchestrator.
type Options struct {
	LockTTL      time.Duration
	ExtendTTL    time.Duration
	LockPolicy   lock.Policy
	Timeout      time.Duration // whole-request budget for Create
	ReminderLead time.Duration
}

// DefaultOptions mirrors the configuration defaults.
var DefaultOptions = Options{
	LockTTL:      30 * time.Second,
	ExtendTTL:    10 * time.Second,
	LockPolicy:   lock.Policy{Attempts: 5, Wait: 10 * time.Second},
	Timeout:      20 * time.Second,
	ReminderLead: 24 * time.Hour,
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Store    *reservations.Store
	Locks    Locker
	Cache    AvailabilityCache
	Expirer  ExpirationScheduler
	Reminder ReminderScheduler
	Notifier notify.Notifier
	Logs     *zap.Logger
	Metrics  metrics.Collector
}

type Service struct {
	store    *reservations.Store
	locks    Locker
	cache    AvailabilityCache
	expirer  ExpirationScheduler
	reminder ReminderScheduler
	notifier notify.Notifier
	opts     Options
	logs     *zap.Logger
	metrics  metrics.Collector

	pending sync.WaitGroup
}

func NewService(d Deps, opts Options) *Service {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Logs == nil {
		d.Logs = zap.NewNop()
	}
	return &Service{
		store:    d.Store,
		locks:    d.Locks,
		cache:    d.Cache,
		expirer:  d.Expirer,
		reminder: d.Reminder,
		notifier: d.Notifier,
		opts:     opts,
		logs:     d.Logs,
		metrics:  d.Metrics,
	}
}

// Wait blocks until every in-flight notification has finished.
func (s *Service) Wait() { s.pending.Wait() }

// Create books a slot. The slot lock is held from before the store's conflict check until
// the reservation is durable; the store's uniqueness guarantee is what actually decides.
//
// Errors: *reservations.ValidationError, reservations.ErrTableNotFound,
// *lock.AcquisitionError, reservations.ErrSlotConflict, or an infrastructure error.
func (s *Service) Create(ctx context.Context, in reservations.NewReservation) (*reservations.Reservation, error) {
	start := time.Now()
	mctx := context.WithoutCancel(ctx)
	defer func() { s.metrics.Timing(mctx, metrics.BookingLatency, time.Since(start)) }()

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	draft, err := s.store.Prepare(ctx, in)
	if err != nil {
		if errors.Is(err, reservations.ErrValidation) {
			s.metrics.Incr(mctx, metrics.BookingInvalid)
		}
		return nil, err
	}

	key := draft.Slot.LockKey()
	owner := lock.NewOwnerToken()
	logs := s.logs.With(zap.String("slot", draft.Slot.Key()), zap.String("lock_key", key))

	if err := s.locks.AcquireWithRetry(ctx, key, owner, s.opts.LockTTL, s.opts.LockPolicy); err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			s.metrics.Incr(mctx, metrics.BookingLockExhausted)
			logs.Warn("slot lock not acquired", zap.Error(err))
		}
		return nil, err
	}
	defer s.release(ctx, key, owner, logs)

	if err := s.cache.Invalidate(ctx, draft.Slot); err != nil {
		logs.Warn("cache invalidate before booking failed", zap.Error(err))
	}

	r, err := s.store.Create(ctx, draft)
	if err != nil {
		switch {
		case errors.Is(err, reservations.ErrSlotConflict):
			s.metrics.Incr(mctx, metrics.BookingConflict)
			logs.Info("slot already booked")
		case errors.Is(err, reservations.ErrValidation):
			s.metrics.Incr(mctx, metrics.BookingInvalid)
		}
		return nil, err
	}
	logs = logs.With(zap.String("reservation_id", r.ID))

	// The reservation is committed: a caller that goes away now must not cost the hold
	// its expiration job.
	after, cancel := s.followUp(ctx)
	defer cancel()

	if ok, err := s.locks.Extend(after, key, owner, s.opts.ExtendTTL); err != nil || !ok {
		logs.Warn("slot lock extend failed", zap.Bool("held", ok), zap.Error(err))
	}

	if err := s.expirer.Schedule(after, r.ID, *r.ExpiresAt); err != nil {
		s.metrics.Incr(mctx, metrics.ScheduleFailed)
		logs.Error("expiration not scheduled, sweep will reconcile", zap.Error(err))
	}
	s.notifyAsync(notify.EventCreated, r)

	if err := s.cache.Set(after, draft.Slot, false); err != nil {
		logs.Warn("cache set after booking failed", zap.Error(err))
	}

	s.metrics.Incr(mctx, metrics.BookingSuccess)
	return r, nil
}

// followUp returns a context for side effects of a committed change. It keeps the
// caller's values but not its cancellation or deadline.
func (s *Service) followUp(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), followUpTimeout)
}

// release runs on a context detached from the request so an exhausted budget does not
// leave the lock to expire on its own.
func (s *Service) release(parent context.Context, key, owner string, logs *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), releaseTimeout)
	defer cancel()
	released, err := s.locks.Release(ctx, key, owner)
	switch {
	case err != nil:
		logs.Warn("slot lock release failed", zap.Error(err))
	case !released:
		logs.Warn("slot lock expired before release")
	}
}

func (s *Service) notifyAsync(ev notify.Event, r *reservations.Reservation) {
	if s.notifier == nil {
		return
	}
	snapshot := *r
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, ev, &snapshot); err != nil {
			s.logs.Warn("notification failed",
				zap.String("reservation_id", snapshot.ID),
				zap.String("event", string(ev)),
				zap.Error(err))
		}
	}()
}

func (s *Service) Get(ctx context.Context, id string) (*reservations.Reservation, error) {
	return s.store.Get(ctx, id)
}

// Confirm confirms a pending reservation and schedules its reminder.
func (s *Service) Confirm(ctx context.Context, id string) (*reservations.Reservation, error) {
	r, err := s.store.Transition(ctx, id, reservations.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	if s.reminder != nil {
		after, cancel := s.followUp(ctx)
		defer cancel()
		if err := s.reminder.Schedule(after, r.ID, r.SlotStart, s.opts.ReminderLead); err != nil {
			s.metrics.Incr(after, metrics.ScheduleFailed)
			s.logs.Error("reminder not scheduled", zap.String("reservation_id", r.ID), zap.Error(err))
		}
	}
	s.notifyAsync(notify.EventConfirmed, r)
	return r, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (*reservations.Reservation, error) {
	r, err := s.finish(ctx, id, reservations.StatusCancelled)
	if err != nil {
		return nil, err
	}
	s.notifyAsync(notify.EventCancelled, r)
	return r, nil
}

func (s *Service) Complete(ctx context.Context, id string) (*reservations.Reservation, error) {
	return s.finish(ctx, id, reservations.StatusCompleted)
}

func (s *Service) NoShow(ctx context.Context, id string) (*reservations.Reservation, error) {
	return s.finish(ctx, id, reservations.StatusNoShow)
}

// finish applies a terminal transition and drops the cached availability of the slot.
func (s *Service) finish(ctx context.Context, id string, next reservations.Status) (*reservations.Reservation, error) {
	r, err := s.store.Transition(ctx, id, next)
	if err != nil {
		return nil, err
	}
	after, cancel := s.followUp(ctx)
	defer cancel()
	if err := s.cache.Invalidate(after, r.Slot()); err != nil {
		s.logs.Warn("cache invalidate after transition failed", zap.String("reservation_id", id), zap.Error(err))
	}
	return r, nil
}

// Availability reports whether a slot is free, answering from the cache when it can.
func (s *Service) Availability(ctx context.Context, tableID, date, clock string) (bool, error) {
	_, rest, err := s.store.Table(ctx, tableID)
	if err != nil {
		return false, err
	}
	loc, err := rest.Location()
	if err != nil {
		return false, err
	}
	sl, err := slot.New(tableID, date, clock, loc)
	if err != nil {
		var pe *slot.ParseError
		if errors.As(err, &pe) {
			return false, &reservations.ValidationError{Fields: map[string]string{pe.Field: "invalid format"}}
		}
		return false, err
	}
	return s.cache.Get(ctx, sl, func(ctx context.Context) (bool, error) {
		taken, err := s.store.SlotTaken(ctx, sl)
		return !taken, err
	})
}
