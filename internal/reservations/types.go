package reservations

import (
	"time"

	"github.com/imrishuroy/go-table-reservations/internal/slot"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
	StatusExpired   Status = "expired"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusExpired},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Active statuses occupy their slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow, StatusExpired:
		return true
	}
	return false
}

// Reservation is one booking of a slot. Date and Time are restaurant-local; SlotStart is the
// canonical UTC instant the slot key is derived from.
type Reservation struct {
	ID              string     `json:"id"`
	RestaurantID    string     `json:"restaurant_id"`
	CustomerID      string     `json:"customer_id"`
	TableID         string     `json:"table_id"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	SlotStart       time.Time  `json:"slot_start"`
	PartySize       int        `json:"party_size"`
	Status          Status     `json:"status"`
	SpecialRequests string     `json:"special_requests,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"` // only while pending
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Slot returns the canonical slot the reservation occupies.
func (r *Reservation) Slot() slot.Slot {
	return slot.FromStart(r.TableID, r.SlotStart)
}

func (r *Reservation) clone() *Reservation {
	c := *r
	if r.ExpiresAt != nil {
		e := *r.ExpiresAt
		c.ExpiresAt = &e
	}
	return &c
}

// Restaurant carries the booking rules that vary per venue.
type Restaurant struct {
	ID                 string
	Name               string
	Timezone           string
	OpeningTime        string // HH:MM local
	ClosingTime        string // HH:MM local
	AdvanceBookingDays int
}

// Location resolves the restaurant's timezone, defaulting to UTC when unset.
func (r *Restaurant) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.Timezone)
}

// Table is a bookable table.
type Table struct {
	ID           string
	RestaurantID string
	Number       int
	Capacity     int
	Active       bool
}

// NewReservation is the caller-supplied part of a booking.
type NewReservation struct {
	TableID         string
	CustomerID      string
	Date            string
	Time            string
	PartySize       int
	SpecialRequests string
}
