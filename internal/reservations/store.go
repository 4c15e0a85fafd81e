// Package reservations owns the reservation entity, its state machine and its durable store.
//
// The store never schedules follow-up work. Callers that need expiration or reminder jobs
// schedule them explicitly after a successful Create or Transition.
package reservations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/slot"
)

// Draft is a validated booking request bound to its table, restaurant and slot.
type Draft struct {
	Input      NewReservation
	Table      *Table
	Restaurant *Restaurant
	Slot       slot.Slot
}

// Store applies business rules and the state machine on top of a Repository.
type Store struct {
	repo           Repository
	rules          Rules
	pendingTimeout time.Duration
	logs           *zap.Logger
	nowFunc        func() time.Time
}

// NewStore returns a Store. pendingTimeout bounds how long a reservation may stay pending.
func NewStore(repo Repository, rules Rules, pendingTimeout time.Duration, logs *zap.Logger) *Store {
	return &Store{
		repo:           repo,
		rules:          rules,
		pendingTimeout: pendingTimeout,
		logs:           logs,
		nowFunc:        time.Now,
	}
}

// SetClock replaces time.Now. Intended for tests and simulations.
func (s *Store) SetClock(now func() time.Time) { s.nowFunc = now }

// Now is the store's clock.
func (s *Store) Now() time.Time { return s.nowFunc() }

// Prepare loads the table and restaurant for in and validates business rules.
func (s *Store) Prepare(ctx context.Context, in NewReservation) (*Draft, error) {
	t, rest, err := s.repo.GetTable(ctx, in.TableID)
	if err != nil {
		return nil, err
	}
	sl, err := s.rules.Check(s.nowFunc(), rest, t, in)
	if err != nil {
		return nil, err
	}
	return &Draft{Input: in, Table: t, Restaurant: rest, Slot: sl}, nil
}

// Create re-validates d and inserts it as pending with expiresAt = now + pending timeout.
// A slot that already holds an active reservation yields ErrSlotConflict.
func (s *Store) Create(ctx context.Context, d *Draft) (*Reservation, error) {
	now := s.nowFunc()
	sl, err := s.rules.Check(now, d.Restaurant, d.Table, d.Input)
	if err != nil {
		return nil, err
	}
	loc, _ := d.Restaurant.Location()
	local := sl.Local(loc)
	expires := now.Add(s.pendingTimeout)

	r := &Reservation{
		ID:              uuid.NewString(),
		RestaurantID:    d.Restaurant.ID,
		CustomerID:      d.Input.CustomerID,
		TableID:         d.Table.ID,
		Date:            local.Format(slot.DateLayout),
		Time:            local.Format(slot.TimeLayout),
		SlotStart:       sl.Start,
		PartySize:       d.Input.PartySize,
		Status:          StatusPending,
		SpecialRequests: d.Input.SpecialRequests,
		ExpiresAt:       &expires,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, r); err != nil {
		return nil, err
	}
	s.logs.Info("reservation created",
		zap.String("reservation_id", r.ID),
		zap.String("slot", sl.Key()),
		zap.Time("expires_at", expires))
	return r, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Reservation, error) {
	return s.repo.Get(ctx, id)
}

// SlotTaken reports whether sl holds an active reservation.
func (s *Store) SlotTaken(ctx context.Context, sl slot.Slot) (bool, error) {
	return s.repo.ActiveExists(ctx, sl.TableID, sl.Start)
}

// Table returns a table with its restaurant.
func (s *Store) Table(ctx context.Context, tableID string) (*Table, *Restaurant, error) {
	return s.repo.GetTable(ctx, tableID)
}

// Transition moves a reservation to next under its row lock. Transitions outside the
// table yield *InvalidTransitionError.
//
// A pending hold whose expiresAt has passed cannot be confirmed even if its expiration job
// has not run yet: it is expired in place and the confirm fails as a transition out of
// expired.
func (s *Store) Transition(ctx context.Context, id string, next Status) (*Reservation, error) {
	var lapsed bool
	r, _, err := s.repo.Mutate(ctx, id, func(r *Reservation) (bool, error) {
		if !r.Status.CanTransition(next) {
			return false, &InvalidTransitionError{From: r.Status, To: next}
		}
		now := s.nowFunc()
		if next == StatusConfirmed && r.Status == StatusPending && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
			lapsed = true
			next = StatusExpired
		}
		r.Status = next
		r.ExpiresAt = nil
		r.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed {
		s.logs.Info("confirm of lapsed hold, reservation expired", zap.String("reservation_id", id))
		return nil, &InvalidTransitionError{From: StatusExpired, To: StatusConfirmed}
	}
	s.logs.Info("reservation transitioned", zap.String("reservation_id", id), zap.String("status", string(next)))
	return r, nil
}

// Expire moves a pending reservation whose expiresAt has passed to expired. Anything else
// is left alone and reported as changed=false, so repeated calls are harmless.
func (s *Store) Expire(ctx context.Context, id string) (*Reservation, bool, error) {
	return s.repo.Mutate(ctx, id, func(r *Reservation) (bool, error) {
		now := s.nowFunc()
		if r.Status != StatusPending || r.ExpiresAt == nil || now.Before(*r.ExpiresAt) {
			return false, nil
		}
		r.Status = StatusExpired
		r.ExpiresAt = nil
		r.UpdatedAt = now
		return true, nil
	})
}

// DuePending lists pending reservations whose expiresAt has passed.
func (s *Store) DuePending(ctx context.Context, limit int) ([]string, error) {
	return s.repo.ListExpiredPending(ctx, s.nowFunc(), limit)
}

// IsConflict reports whether err means the slot is already taken.
func IsConflict(err error) bool { return errors.Is(err, ErrSlotConflict) }
