// Package validator wraps go-playground/validator for the pre-flight
// checks the client runs before any send reaches the network.
package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator validates request payloads against their struct tags.
type Validator struct {
	cli *validator.Validate
}

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// New returns a ready Validator.
func New() *Validator {
	return &Validator{cli: validator.New(validator.WithRequiredStructEnabled())}
}

// ValidateStruct returns the validation errors for s, or nil.
func (v *Validator) ValidateStruct(s interface{}) []ValidationError {
	err := v.cli.Struct(s)
	if err == nil {
		return nil
	}
	var errs []ValidationError
	for _, fe := range err.(validator.ValidationErrors) {
		errs = append(errs, ValidationError{Field: fe.StructField(), Message: fe.Tag()})
	}
	return errs
}

// Join flattens errors into a single human-readable string.
func Join(errs []ValidationError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}
