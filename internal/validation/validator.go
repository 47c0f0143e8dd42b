// Package validation validates configuration and request structs using
// go-playground/validator.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldErrors maps a field name to a readable problem.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " " + e[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator wraps go-playground/validator.
type Validator struct {
	v *validator.Validate
}

// New creates a validator that reports fields by their json tag name, or by
// their env tag for configuration structs.
func New() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "env"} {
			name := fld.Tag.Get(tag)
			if name == "" || name == "-" {
				continue
			}
			if i := strings.IndexByte(name, ','); i >= 0 {
				name = name[:i]
			}
			return name
		}
		return fld.Name
	})

	return &Validator{v: v}
}

// Validate validates a struct. Field problems are returned as FieldErrors.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fieldErrors := make(FieldErrors, len(validationErrs))
	for _, e := range validationErrs {
		fieldErrors[e.Field()] = friendlyMessage(e)
	}
	return fieldErrors
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if e.Kind() == reflect.String || e.Kind() == reflect.Slice || e.Kind() == reflect.Map {
			return fmt.Sprintf("must have at least %s items", e.Param())
		}
		return "must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String || e.Kind() == reflect.Slice || e.Kind() == reflect.Map {
			return fmt.Sprintf("must have at most %s items", e.Param())
		}
		return "must not exceed " + e.Param()
	case "url", "http_url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "lt":
		return "must be less than " + e.Param()
	case "hostname":
		return "must be a valid hostname"
	case "contains":
		return "must contain " + e.Param()
	default:
		return "is invalid"
	}
}
