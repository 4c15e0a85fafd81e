package validation

import "github.com/imrishuroy/go-table-reservations/internal/reservations"

// CreateReservationRequest is the payload for POST /reservations
type CreateReservationRequest struct {
	TableID         string `json:"table_id" validate:"required"`
	CustomerID      string `json:"customer_id" validate:"required"`
	Date            string `json:"date" validate:"required,date"`        // YYYY-MM-DD, restaurant local
	Time            string `json:"time" validate:"required,clock"`       // HH:MM or HH:MM:SS, restaurant local
	PartySize       int    `json:"party_size" validate:"required,min=1"` // upper bound comes from the booking rules
	SpecialRequests string `json:"special_requests,omitempty" validate:"max=1000"`
}

// Reservation converts the payload for the reservation store.
func (r CreateReservationRequest) Reservation() reservations.NewReservation {
	return reservations.NewReservation{
		TableID:         r.TableID,
		CustomerID:      r.CustomerID,
		Date:            r.Date,
		Time:            r.Time,
		PartySize:       r.PartySize,
		SpecialRequests: r.SpecialRequests,
	}
}

// AvailabilityQuery is the query string of GET /availability
type AvailabilityQuery struct {
	TableID string `form:"table_id" json:"table_id" validate:"required"`
	Date    string `form:"date" json:"date" validate:"required,date"`
	Time    string `form:"time" json:"time" validate:"required,clock"`
}
