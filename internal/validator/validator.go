package validator

import (
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

type Validator struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate reports whether raw is a single well-formed JSON value.
// Empty input is not.
func (v *Validator) Validate(raw []byte) bool {
	if err := validation.Validate(string(raw), validation.Required, is.JSON); err != nil {
		v.logger.Debug("Invalid request format",
			slog.Int("size", len(raw)),
			slog.String("reason", err.Error()))
		return false
	}
	return true
}
