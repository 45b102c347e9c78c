package validation

import (
	"fmt"
	"slices"
	"strings"

	errors "github.com/frahmantamala/viso/internal"
	"github.com/google/uuid"
)

type ValidatorFunc func(interface{}) *errors.AppError

type FieldValidator struct {
	FieldName  string
	Value      interface{}
	Validators []ValidatorFunc
}

type ValidationBuilder struct {
	fields []FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{fields: make([]FieldValidator, 0)}
}

func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	fv := FieldValidator{
		FieldName:  name,
		Value:      value,
		Validators: make([]ValidatorFunc, 0),
	}
	v.fields = append(v.fields, fv)
	return &v.fields[len(v.fields)-1]
}

func (fv *FieldValidator) Required() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s is required", fv.FieldName), errors.ErrCodeValidationFailed)
			}
		case *string:
			if v == nil || strings.TrimSpace(*v) == "" {
				return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s is required", fv.FieldName), errors.ErrCodeValidationFailed)
			}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MaxLength(max int) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(string); ok {
			if len(v) > max {
				message := fmt.Sprintf("%s must not exceed %d characters", fv.FieldName, max)
				return errors.NewValidationFieldError(fv.FieldName, message, errors.ErrCodeValidationFailed)
			}
		}
		return nil
	})
	return fv
}

// OneOf accepts only the listed values. Empty strings pass; pair with
// Required to reject them.
func (fv *FieldValidator) OneOf(allowed []string, code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(string); ok && v != "" {
			if !slices.Contains(allowed, v) {
				return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s is not a known value", fv.FieldName), code)
			}
		}
		return nil
	})
	return fv
}

// UUID accepts empty strings and canonical UUIDs.
func (fv *FieldValidator) UUID(code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(string); ok && v != "" {
			if _, err := uuid.Parse(v); err != nil {
				return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must be a UUID", fv.FieldName), code)
			}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Custom(validator func(interface{}) *errors.AppError) *FieldValidator {
	fv.Validators = append(fv.Validators, validator)
	return fv
}

func (v *ValidationBuilder) Validate() *errors.AppError {
	var validationErrors []errors.ValidationError

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			appErr := validator(field.Value)
			if appErr == nil {
				continue
			}
			if details, ok := appErr.Details.(errors.ValidationErrors); ok {
				validationErrors = append(validationErrors, details.Errors...)
				continue
			}
			validationErrors = append(validationErrors, errors.ValidationError{
				Field:   field.FieldName,
				Message: appErr.Message,
				Code:    string(appErr.Code),
			})
		}
	}

	if len(validationErrors) > 0 {
		return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).
			WithDetails(errors.ValidationErrors{Errors: validationErrors})
	}

	return nil
}

// ValidateRole checks a requested acting role. With known empty any role
// code is accepted. Failures are errors.ErrInvalidRole carrying the field
// errors.
func ValidateRole(role string, known []string) *errors.AppError {
	validator := NewValidator()
	field := validator.Field("role", role).
		Required().
		MaxLength(64)
	if len(known) > 0 {
		field.OneOf(known, errors.ErrCodeInvalidRole)
	}
	if appErr := validator.Validate(); appErr != nil {
		return errors.ErrInvalidRole.WithDetails(appErr.Details)
	}
	return nil
}

// ValidateScope checks optional site and area identifiers.
func ValidateScope(siteID, areaID string) *errors.AppError {
	validator := NewValidator()
	validator.Field("site_id", siteID).UUID(errors.ErrCodeInvalidScope)
	validator.Field("area_id", areaID).UUID(errors.ErrCodeInvalidScope)
	return validator.Validate()
}
