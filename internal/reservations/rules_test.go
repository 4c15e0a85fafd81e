package reservations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleFixture(t *testing.T) (time.Time, *Restaurant, *Table) {
	t.Helper()
	rest := &Restaurant{ID: "r1", Timezone: "America/New_York", OpeningTime: "10:00", ClosingTime: "22:00", AdvanceBookingDays: 90}
	table := &Table{ID: "5", RestaurantID: "r1", Number: 5, Capacity: 4, Active: true}
	// 2025-09-01 09:00 in New York
	now := time.Date(2025, 9, 1, 13, 0, 0, 0, time.UTC)
	return now, rest, table
}

func TestRules_Accepts(t *testing.T) {
	now, rest, table := ruleFixture(t)

	s, err := DefaultRules.Check(now, rest, table, NewReservation{TableID: "5", Date: "2025-09-15", Time: "19:00", PartySize: 4})
	require.NoError(t, err)
	assert.Equal(t, "slot:5:2025-09-15T23:00Z", s.Key())

	// opening and closing minutes are inclusive
	_, err = DefaultRules.Check(now, rest, table, NewReservation{Date: "2025-09-15", Time: "22:00", PartySize: 1})
	require.NoError(t, err)
	_, err = DefaultRules.Check(now, rest, table, NewReservation{Date: "2025-09-01", Time: "10:00", PartySize: 1})
	require.NoError(t, err)
}

func TestRules_Violations(t *testing.T) {
	now, rest, table := ruleFixture(t)

	cases := []struct {
		name  string
		in    NewReservation
		field string
	}{
		{"past date", NewReservation{Date: "2025-08-31", Time: "19:00", PartySize: 2}, "date"},
		{"too far ahead", NewReservation{Date: "2025-12-01", Time: "19:00", PartySize: 2}, "date"},
		{"before opening", NewReservation{Date: "2025-09-15", Time: "09:30", PartySize: 2}, "time"},
		{"after closing", NewReservation{Date: "2025-09-15", Time: "22:30", PartySize: 2}, "time"},
		{"already started", NewReservation{Date: "2025-09-01", Time: "08:00", PartySize: 2}, "time"},
		{"empty party", NewReservation{Date: "2025-09-15", Time: "19:00", PartySize: 0}, "party_size"},
		{"huge party", NewReservation{Date: "2025-09-15", Time: "19:00", PartySize: 13}, "party_size"},
		{"over capacity", NewReservation{Date: "2025-09-15", Time: "19:00", PartySize: 5}, "party_size"},
		{"bad time", NewReservation{Date: "2025-09-15", Time: "7pm", PartySize: 2}, "time"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DefaultRules.Check(now, rest, table, tc.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
}

func TestRules_InactiveTable(t *testing.T) {
	now, rest, table := ruleFixture(t)
	table.Active = false

	_, err := DefaultRules.Check(now, rest, table, NewReservation{Date: "2025-09-15", Time: "19:00", PartySize: 2})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "table_id")
}

func TestRules_FallsBackToDefaultAdvance(t *testing.T) {
	now, rest, table := ruleFixture(t)
	rest.AdvanceBookingDays = 0

	_, err := Rules{MinPartySize: 1, MaxPartySize: 12, AdvanceBookingDays: 7}.Check(now, rest, table,
		NewReservation{Date: "2025-09-15", Time: "19:00", PartySize: 2})
	require.ErrorIs(t, err, ErrValidation)
}
