package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/imrishuroy/go-table-reservations/internal/db"
)

const activeSlotIndex = "reservations_active_slot_uniq"

const selectReservation = `
SELECT id, restaurant_id, customer_id, table_id, to_char(slot_date, 'YYYY-MM-DD'), slot_time,
       slot_start, party_size, status, special_requests, expires_at, created_at, updated_at
FROM reservations`

// PostgresRepository stores reservations in Postgres. The partial unique index
// reservations_active_slot_uniq is the final authority on slot occupancy.
type PostgresRepository struct {
	db *db.DB
}

func NewPostgresRepository(d *db.DB) *PostgresRepository {
	return &PostgresRepository{db: d}
}

func scanReservation(row db.Row) (*Reservation, error) {
	var (
		r      Reservation
		status string
	)
	err := row.Scan(&r.ID, &r.RestaurantID, &r.CustomerID, &r.TableID, &r.Date, &r.Time,
		&r.SlotStart, &r.PartySize, &status, &r.SpecialRequests, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.SlotStart = r.SlotStart.UTC()
	return &r, nil
}

// Insert serializes writers on the slot with a transaction-scoped advisory lock, re-checks
// for an active reservation under FOR UPDATE, then inserts. A unique violation from a
// writer that bypassed the advisory lock still maps to ErrSlotConflict.
func (p *PostgresRepository) Insert(ctx context.Context, r *Reservation) error {
	err := p.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, r.Slot().Key()); err != nil {
			return fmt.Errorf("slot advisory lock: %w", err)
		}

		var existing string
		err := tx.QueryRow(ctx, `
SELECT id FROM reservations
WHERE table_id = $1 AND slot_start = $2 AND status IN ('pending', 'confirmed')
FOR UPDATE`, r.TableID, r.SlotStart).Scan(&existing)
		switch {
		case err == nil:
			return ErrSlotConflict
		case !db.IsNotFound(err):
			return fmt.Errorf("check active reservation: %w", err)
		}

		_, err = tx.Exec(ctx, `
INSERT INTO reservations (id, restaurant_id, customer_id, table_id, slot_date, slot_time, slot_start,
                          party_size, status, special_requests, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, $11, $12, $13)`,
			r.ID, r.RestaurantID, r.CustomerID, r.TableID, r.Date, r.Time, r.SlotStart,
			r.PartySize, string(r.Status), r.SpecialRequests, r.ExpiresAt, r.CreatedAt, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
	if db.IsUniqueViolation(err, activeSlotIndex) {
		return ErrSlotConflict
	}
	return err
}

func (p *PostgresRepository) Get(ctx context.Context, id string) (*Reservation, error) {
	r, err := scanReservation(p.db.QueryRow(ctx, selectReservation+` WHERE id = $1`, id))
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// Mutate locks the row with FOR UPDATE for the duration of fn.
func (p *PostgresRepository) Mutate(ctx context.Context, id string, fn MutateFunc) (*Reservation, bool, error) {
	var (
		out     *Reservation
		changed bool
	)
	err := p.db.InTx(ctx, func(tx pgx.Tx) error {
		r, err := scanReservation(tx.QueryRow(ctx, selectReservation+` WHERE id = $1 FOR UPDATE`, id))
		if db.IsNotFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock reservation: %w", err)
		}
		out = r
		next := r.clone()
		ok, err := fn(next)
		if err != nil || !ok {
			return err
		}
		_, err = tx.Exec(ctx, `
UPDATE reservations SET status = $2, expires_at = $3, updated_at = $4 WHERE id = $1`,
			id, string(next.Status), next.ExpiresAt, next.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		out, changed = next, true
		return nil
	})
	return out, changed, err
}

func (p *PostgresRepository) ActiveExists(ctx context.Context, tableID string, slotStart time.Time) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM reservations
              WHERE table_id = $1 AND slot_start = $2 AND status IN ('pending', 'confirmed'))`,
		tableID, slotStart).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("active reservation exists: %w", err)
	}
	return exists, nil
}

func (p *PostgresRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := p.db.Query(ctx, `
SELECT id FROM reservations
WHERE status = 'pending' AND expires_at <= $1
ORDER BY expires_at
LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired pending: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresRepository) GetTable(ctx context.Context, tableID string) (*Table, *Restaurant, error) {
	var (
		t    Table
		rest Restaurant
	)
	err := p.db.QueryRow(ctx, `
SELECT t.id, t.restaurant_id, t.number, t.capacity, t.is_active,
       r.id, r.name, r.timezone, to_char(r.opening_time, 'HH24:MI'), to_char(r.closing_time, 'HH24:MI'),
       r.advance_booking_days
FROM dining_tables t JOIN restaurants r ON r.id = t.restaurant_id
WHERE t.id = $1`, tableID).Scan(&t.ID, &t.RestaurantID, &t.Number, &t.Capacity, &t.Active,
		&rest.ID, &rest.Name, &rest.Timezone, &rest.OpeningTime, &rest.ClosingTime, &rest.AdvanceBookingDays)
	if db.IsNotFound(err) {
		return nil, nil, ErrTableNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get table: %w", err)
	}
	return &t, &rest, nil
}

func (p *PostgresRepository) PutRestaurant(ctx context.Context, r *Restaurant) error {
	err := p.db.Exec(ctx, `
INSERT INTO restaurants (id, name, timezone, opening_time, closing_time, advance_booking_days)
VALUES ($1, $2, $3, $4::time, $5::time, $6)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, timezone = EXCLUDED.timezone,
    opening_time = EXCLUDED.opening_time, closing_time = EXCLUDED.closing_time,
    advance_booking_days = EXCLUDED.advance_booking_days`,
		r.ID, r.Name, r.Timezone, r.OpeningTime, r.ClosingTime, r.AdvanceBookingDays)
	if err != nil {
		return fmt.Errorf("put restaurant: %w", err)
	}
	return nil
}

func (p *PostgresRepository) PutTable(ctx context.Context, t *Table) error {
	err := p.db.Exec(ctx, `
INSERT INTO dining_tables (id, restaurant_id, number, capacity, is_active)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET number = EXCLUDED.number, capacity = EXCLUDED.capacity,
    is_active = EXCLUDED.is_active`,
		t.ID, t.RestaurantID, t.Number, t.Capacity, t.Active)
	if err != nil {
		return fmt.Errorf("put table: %w", err)
	}
	return nil
}
