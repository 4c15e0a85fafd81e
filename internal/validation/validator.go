package validation

import (
	"reflect"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-table-reservations/internal/slot"
)

// New returns a configured validator with the reservation field validators registered.
// Errors are keyed by json field name.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("date", validateDate)
	_ = v.RegisterValidation("clock", validateClock)

	return v
}

func validateDate(fl validatorv10.FieldLevel) bool {
	_, err := time.Parse(slot.DateLayout, fl.Field().String())
	return err == nil
}

// validateClock accepts HH:MM and HH:MM:SS.
func validateClock(fl validatorv10.FieldLevel) bool {
	s := fl.Field().String()
	if _, err := time.Parse(slot.TimeLayout, s); err == nil {
		return true
	}
	_, err := time.Parse("15:04:05", s)
	return err == nil
}
