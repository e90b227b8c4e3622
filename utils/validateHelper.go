package utils

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func initValidator() *validator.Validate {
	vld := validator.New(validator.WithRequiredStructEnabled())
	// Account codes are four digit strings ("1001").
	_ = vld.RegisterValidation("account_code", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) != 4 {
			return false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})
	return vld
}

func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = initValidator()
	})
	return validate
}

// ValidateStruct runs the struct tags and converts the first failure into a ValidationError.
func ValidateStruct(payload any) error {
	if err := GetValidator().Struct(payload); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return &ValidationError{
				Field:   toSnake(fe.Field()),
				Message: describeTag(fe),
			}
		}
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	case "oneof":
		return "must be one of " + fe.Param()
	case "account_code":
		return "must be a four digit account code"
	case "dive":
		return "has an invalid element"
	default:
		return "failed " + fe.Tag()
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
