package api

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/opsdesk/patternd/internal/database"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// department accepts the helpdesk's known departments only
	_ = v.RegisterValidation("department", func(fl validator.FieldLevel) bool {
		return IsKnownDepartment(fl.Field().String())
	})
	return v
}

// IsKnownDepartment reports whether name is one of the helpdesk departments.
func IsKnownDepartment(name string) bool {
	for _, d := range database.KnownDepartments {
		if d == name {
			return true
		}
	}
	return false
}

// Validate checks s against its validate tags and returns field-name to
// message, or nil when s is valid.
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errs := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		errs[toSnakeCase(fe.Field())] = validationMessage(fe)
	}
	return errs
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "department":
		return fmt.Sprintf("must be one of: %s", strings.Join(database.KnownDepartments, ", "))
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// toSnakeCase converts a Go field name such as UserID to user_id.
func toSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
