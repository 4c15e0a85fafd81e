package reservations

import (
	"context"
	"time"
)

// MutateFunc edits a reservation read under its row lock. Returning changed=false skips the write.
type MutateFunc func(r *Reservation) (changed bool, err error)

// Repository is the durable store. Implementations must enforce at most one active
// reservation per (table, slot start) and serialize Mutate calls on the same row.
type Repository interface {
	// Insert writes r unless its slot already has an active reservation (ErrSlotConflict).
	Insert(ctx context.Context, r *Reservation) error
	Get(ctx context.Context, id string) (*Reservation, error)
	Mutate(ctx context.Context, id string, fn MutateFunc) (*Reservation, bool, error)
	ActiveExists(ctx context.Context, tableID string, slotStart time.Time) (bool, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error)
	GetTable(ctx context.Context, tableID string) (*Table, *Restaurant, error)
	PutRestaurant(ctx context.Context, r *Restaurant) error
	PutTable(ctx context.Context, t *Table) error
}
