package reservations

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps everything in process. A single mutex stands in for both the row
// locks and the partial unique index. Used by tests and STORE_DRIVER=memory.
type MemoryRepository struct {
	mu           sync.Mutex
	reservations map[string]*Reservation
	tables       map[string]*Table
	restaurants  map[string]*Restaurant
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		reservations: map[string]*Reservation{},
		tables:       map[string]*Table{},
		restaurants:  map[string]*Restaurant{},
	}
}

func (m *MemoryRepository) Insert(_ context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[r.ID]; ok {
		return ErrSlotConflict
	}
	if m.activeExists(r.TableID, r.SlotStart) {
		return ErrSlotConflict
	}
	m.reservations[r.ID] = r.clone()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (m *MemoryRepository) Mutate(_ context.Context, id string, fn MutateFunc) (*Reservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.reservations[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	next := current.clone()
	changed, err := fn(next)
	if err != nil {
		return current.clone(), false, err
	}
	if !changed {
		return current.clone(), false, nil
	}
	m.reservations[id] = next.clone()
	return next, true, nil
}

func (m *MemoryRepository) ActiveExists(_ context.Context, tableID string, slotStart time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeExists(tableID, slotStart), nil
}

func (m *MemoryRepository) activeExists(tableID string, slotStart time.Time) bool {
	for _, r := range m.reservations {
		if r.TableID == tableID && r.SlotStart.Equal(slotStart) && r.Status.Active() {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*Reservation
	for _, r := range m.reservations {
		if r.Status == StatusPending && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(*due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, r := range due {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (m *MemoryRepository) GetTable(_ context.Context, tableID string) (*Table, *Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[tableID]
	if !ok {
		return nil, nil, ErrTableNotFound
	}
	rest, ok := m.restaurants[t.RestaurantID]
	if !ok {
		return nil, nil, ErrTableNotFound
	}
	tc, rc := *t, *rest
	return &tc, &rc, nil
}

func (m *MemoryRepository) PutRestaurant(_ context.Context, r *Restaurant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.restaurants[r.ID] = &c
	return nil
}

func (m *MemoryRepository) PutTable(_ context.Context, t *Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	m.tables[t.ID] = &c
	return nil
}
