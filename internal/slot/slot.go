// Package slot defines the canonical identity of a bookable (table, date, time) unit.
//
// The restaurant-local date and time are converted to a UTC instant truncated to the minute,
// and every key derived from a Slot uses that instant. The lock service, the availability
// cache and the reservation store therefore agree on one representation regardless of how
// the caller formatted the input or which zone the process runs in.
package slot

import (
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
	keyLayout  = "2006-01-02T15:04Z"
)

// ParseError reports a date or time that could not be interpreted.
type ParseError struct {
	Field string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// Slot is a single bookable unit.
type Slot struct {
	TableID string
	Start   time.Time // UTC, minute precision
}

// New builds a Slot from a restaurant-local date (YYYY-MM-DD) and time (HH:MM or HH:MM:SS).
func New(tableID, date, clock string, loc *time.Location) (Slot, error) {
	if strings.TrimSpace(tableID) == "" {
		return Slot{}, &ParseError{Field: "table_id", Value: tableID}
	}
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return Slot{}, &ParseError{Field: "date", Value: date}
	}
	c, err := parseClock(strings.TrimSpace(clock))
	if err != nil {
		return Slot{}, &ParseError{Field: "time", Value: clock}
	}
	local := time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, loc)
	return FromStart(tableID, local), nil
}

// FromStart rebuilds a Slot from a stored instant.
func FromStart(tableID string, start time.Time) Slot {
	return Slot{TableID: tableID, Start: start.UTC().Truncate(time.Minute)}
}

func parseClock(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse("15:04:05", s)
}

func (s Slot) suffix() string {
	return s.TableID + ":" + s.Start.Format(keyLayout)
}

// Key is the canonical identifier, e.g. slot:5:2025-09-15T23:00Z.
func (s Slot) Key() string { return "slot:" + s.suffix() }

// LockKey names the distributed lock guarding the slot.
func (s Slot) LockKey() string { return "table_lock:" + s.suffix() }

// CacheKey names the availability cache entry for the slot.
func (s Slot) CacheKey() string { return "availability:" + s.suffix() }

// Local returns the slot start in loc.
func (s Slot) Local(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return s.Start.In(loc)
}

func (s Slot) String() string { return s.Key() }
