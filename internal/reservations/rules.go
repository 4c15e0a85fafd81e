package reservations

import (
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-table-reservations/internal/slot"
)

// Rules are the business constraints checked before any write.
type Rules struct {
	MinPartySize int
	MaxPartySize int
	// AdvanceBookingDays applies when the restaurant does not set its own limit.
	AdvanceBookingDays int
}

// DefaultRules match the venue defaults: parties of 1 to 12, up to 90 days ahead.
var DefaultRules = Rules{MinPartySize: 1, MaxPartySize: 12, AdvanceBookingDays: 90}

// Check validates in against the restaurant and table at instant now and returns the slot it
// would occupy. All violations are reported together.
func (r Rules) Check(now time.Time, rest *Restaurant, t *Table, in NewReservation) (slot.Slot, error) {
	verr := &ValidationError{}

	loc, err := rest.Location()
	if err != nil {
		return slot.Slot{}, fmt.Errorf("restaurant %s timezone: %w", rest.ID, err)
	}

	if !t.Active {
		verr.add("table_id", "table is not accepting reservations")
	}

	switch {
	case in.PartySize < r.MinPartySize:
		verr.add("party_size", fmt.Sprintf("party size must be at least %d", r.MinPartySize))
	case in.PartySize > r.MaxPartySize:
		verr.add("party_size", fmt.Sprintf("party size must be at most %d", r.MaxPartySize))
	case in.PartySize > t.Capacity:
		verr.add("party_size", fmt.Sprintf("table %d seats at most %d", t.Number, t.Capacity))
	}

	s, err := slot.New(t.ID, in.Date, in.Time, loc)
	if err != nil {
		var pe *slot.ParseError
		if errors.As(err, &pe) {
			verr.add(pe.Field, pe.Error())
			return slot.Slot{}, verr
		}
		return slot.Slot{}, err
	}

	local := s.Local(loc)
	today := midnight(now.In(loc))
	day := midnight(local)
	advance := rest.AdvanceBookingDays
	if advance <= 0 {
		advance = r.AdvanceBookingDays
	}

	switch {
	case day.Before(today):
		verr.add("date", "cannot book a past date")
	case day.After(today.AddDate(0, 0, advance)):
		verr.add("date", fmt.Sprintf("cannot book more than %d days ahead", advance))
	case !s.Start.After(now):
		verr.add("time", "slot has already started")
	}

	if opens, closes, ok := hours(rest); ok {
		minute := local.Hour()*60 + local.Minute()
		if minute < opens || minute > closes {
			verr.add("time", fmt.Sprintf("reservations are taken between %s and %s", rest.OpeningTime, rest.ClosingTime))
		}
	}

	if err := verr.orNil(); err != nil {
		return slot.Slot{}, err
	}
	return s, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// hours returns opening and closing as minutes after midnight.
func hours(rest *Restaurant) (int, int, bool) {
	opens, err1 := time.Parse(slot.TimeLayout, rest.OpeningTime)
	closes, err2 := time.Parse(slot.TimeLayout, rest.ClosingTime)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return opens.Hour()*60 + opens.Minute(), closes.Hour()*60 + closes.Minute(), true
}
