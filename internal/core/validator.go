package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"habitly/internal/types"
)

// Validator wraps go-playground/validator with the habit domain tags.
type Validator struct {
	validate *validator.Validate
}

// NewValidator returns a Validator with is_timezone and is_channel
// registered. JSON tag names are used in error details.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("is_timezone", validateTimezone)
	_ = v.RegisterValidation("is_channel", validateChannel)

	return &Validator{validate: v}
}

func validateTimezone(fl validator.FieldLevel) bool {
	tz := fl.Field().String()
	if tz == "" {
		return true
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// validateChannel accepts only the canonical upper-case channel names.
func validateChannel(fl validator.FieldLevel) bool {
	return types.Channel(fl.Field().String()).Valid()
}

// ValidateStruct validates s and converts failures into an AppError whose
// Details["validation_errors"] maps field names to the failed tag.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "invalid request", err)
	}

	fields := make(map[string]string, len(verrs))
	code := types.ErrCodeValidationMissingField
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		switch fe.Tag() {
		case "is_timezone":
			code = types.ErrCodeValidationTimezone
		case "is_channel":
			code = types.ErrCodeValidationChannel
		}
	}

	first := verrs[0]
	appErr := types.NewAppError(code, fmt.Sprintf("field %q failed %q validation", first.Field(), first.Tag()), err)
	appErr.Details = map[string]any{"validation_errors": fields}
	return appErr
}
