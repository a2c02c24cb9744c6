// Package validate wraps a single go-playground/validator instance shared
// by every request struct the hub binds from form or JSON input, grounded
// on the teacher's api/internal/validator package.
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var instance = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("hubusername", validateUsername); err != nil {
		panic(fmt.Sprintf("validate: failed to register hubusername: %v", err))
	}
	return v
}

// Struct validates s against its `validate` struct tags and returns a
// single readable error combining every failing field, or nil.
func Struct(s interface{}) error {
	err := instance.Struct(s)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	messages := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		messages = append(messages, describe(fe))
	}
	return fmt.Errorf("%s", strings.Join(messages, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "hubusername":
		return fmt.Sprintf("%s must be 1-64 characters of letters, digits, or underscore", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// validateUsername enforces the same identity shape domain.NormalizeUser
// and the dev auth verifier's pattern expect, so a malformed username is
// rejected before it ever reaches the credential check or container
// naming (§4.2).
func validateUsername(fl validator.FieldLevel) bool {
	username := fl.Field().String()
	if len(username) == 0 || len(username) > 64 {
		return false
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
