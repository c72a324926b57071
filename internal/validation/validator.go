// Package validation wraps struct-tag validation for request payloads.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Validator wraps the go-playground validator.
type Validator struct {
	validate *validator.Validate
}

// New creates a validator instance. It is safe for concurrent use.
func New() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateStruct validates a struct using its validate tags.
func (v *Validator) ValidateStruct(s any) error {
	return v.validate.Struct(s)
}

// FormatValidationErrors converts validation errors to one message per field,
// keyed by the lowercased field name.
func FormatValidationErrors(err error) map[string]string {
	out := make(map[string]string)

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return out
	}

	for _, e := range validationErrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			out[field] = fmt.Sprintf("%s is required", e.Field())
		case "required_without_all":
			out[field] = fmt.Sprintf("%s is required when no translation is given", e.Field())
		case "max":
			out[field] = fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param())
		case "oneof":
			out[field] = fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param())
		default:
			out[field] = fmt.Sprintf("%s is invalid", e.Field())
		}
	}

	return out
}

// ValidateID checks that a path identifier is a UUID.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid ID format")
	}
	return nil
}
