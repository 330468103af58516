package models

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// Validate runs struct-tag validation on any model. Violations are
// configuration errors: they mean the stored plan/quota data is broken, not
// that a business rule fired.
func Validate(v any) error {
	return validate.Struct(v)
}
