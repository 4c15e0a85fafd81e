package reservations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_TransitionTable(t *testing.T) {
	all := []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow, StatusExpired}
	allowed := map[Status]map[Status]bool{
		StatusPending:   {StatusConfirmed: true, StatusCancelled: true, StatusExpired: true},
		StatusConfirmed: {StatusCompleted: true, StatusCancelled: true, StatusNoShow: true},
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[from][to], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestStatus_Classes(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusConfirmed.Active())
	assert.False(t, StatusExpired.Active())

	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShow, StatusExpired} {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, StatusPending.Terminal())
	assert.False(t, Status("bogus").Terminal())
	assert.False(t, Status("bogus").Valid())
}

func TestErrors_Match(t *testing.T) {
	assert.ErrorIs(t, &ValidationError{Fields: map[string]string{"date": "past"}}, ErrValidation)
	assert.ErrorIs(t, &InvalidTransitionError{From: StatusExpired, To: StatusConfirmed}, ErrInvalidTransition)
	assert.Equal(t, "validation failed: date: past; time: closed",
		(&ValidationError{Fields: map[string]string{"time": "closed", "date": "past"}}).Error())
}
