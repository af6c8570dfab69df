package validator

import (
	"reflect"
	"strings"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator with the attempt domain tags.
type Validator struct {
	structValidator *validator.Validate
}

// New creates a new centralized validator instance
func New() *Validator {
	structValidator := validator.New()

	// Register all custom validators once
	registerCustomValidators(structValidator)

	return &Validator{structValidator: structValidator}
}

// ValidateStruct validates struct tags only
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.structValidator.Struct(s)
}

// Validate validates struct tags and converts failures to ValidationErrors.
func (v *Validator) Validate(s interface{}) error {
	err := v.ValidateStruct(s)
	if err == nil {
		return nil
	}
	if converted := ToValidationErrors(err); len(converted) > 0 {
		return converted
	}
	return err
}

// Engine exposes the underlying validator, e.g. for gin's binding.
func (v *Validator) Engine() *validator.Validate {
	return v.structValidator
}

// registerCustomValidators registers all custom validation functions
func registerCustomValidators(validate *validator.Validate) {
	validate.RegisterValidation("signal_type", oneOf(
		models.SignalTabHidden,
		models.SignalFullscreenExit,
		models.SignalCopyPaste,
		models.SignalIPObserved,
	))

	validate.RegisterValidation("question_mode", oneOf(
		models.ModeFixedList,
		models.ModePoolRandom,
	))

	validate.RegisterValidation("attempt_status", oneOf(
		models.AttemptInProgress,
		models.AttemptSubmitted,
		models.AttemptAutoGraded,
		models.AttemptFlagged,
		models.AttemptNeedsManualReview,
		models.AttemptTimedOut,
		models.AttemptGraded,
	))

	validate.RegisterValidation("severity", oneOf(
		models.SeverityLow,
		models.SeverityMedium,
		models.SeverityHigh,
	))

	validate.RegisterValidation("user_role", oneOf(
		models.RoleStudent,
		models.RoleTrainer,
		models.RoleAdmin,
	))

	// Custom tag name function for better error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// oneOf builds a validation func accepting exactly the given string values.
func oneOf[T ~string](allowed ...T) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		for _, a := range allowed {
			if string(a) == value {
				return true
			}
		}
		return false
	}
}
