package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/SAP-F-2025/quiz-attempt-service/internal/errors"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
)

// ===== COMMON SERVICE ERRORS =====

var (
	// Generic errors
	ErrNotFound         = errors.New("resource not found")
	ErrUnauthorized     = errors.New("unauthorized access")
	ErrForbidden        = errors.New("forbidden - insufficient permissions")
	ErrValidationFailed = errors.New("validation failed")
	ErrConflict         = errors.New("resource conflict")
	ErrStoreUnavailable = errors.New("attempt store unavailable")

	// Quiz specific errors
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrQuizNotAvailable = errors.New("quiz is not available")
	ErrQuestionNotFound = errors.New("question not found")

	// Attempt specific errors
	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrAttemptAccessDenied     = errors.New("access denied to attempt")
	ErrAttemptNotActive        = errors.New("attempt is not active")
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")
	ErrAttemptsExhausted       = errors.New("maximum attempts exceeded")
	ErrAttemptTimeExpired      = errors.New("attempt time has expired")

	// Grading specific errors
	ErrGradingNotAllowed   = errors.New("question does not need manual grading")
	ErrGradingInvalidScore = errors.New("invalid score value")
)

// ===== CUSTOM ERROR TYPES =====

// Use shared validation errors from errors package
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

// QuizNotAvailableError says why a start was refused; it unwraps to ErrQuizNotAvailable.
type QuizNotAvailableError struct {
	QuizID string
	Reason string
}

func (e *QuizNotAvailableError) Error() string {
	return fmt.Sprintf("quiz %s is not available: %s", e.QuizID, e.Reason)
}

func (e *QuizNotAvailableError) Unwrap() error { return ErrQuizNotAvailable }

// ConfigurationError is a quiz or question setup problem that retrying cannot fix.
type ConfigurationError struct {
	QuizID      string   `json:"quiz_id"`
	Reason      string   `json:"reason"`
	QuestionIDs []string `json:"question_ids,omitempty"`
}

func (e *ConfigurationError) Error() string {
	if len(e.QuestionIDs) > 0 {
		return fmt.Sprintf("quiz %s is misconfigured: %s (%s)", e.QuizID, e.Reason, strings.Join(e.QuestionIDs, ", "))
	}
	return fmt.Sprintf("quiz %s is misconfigured: %s", e.QuizID, e.Reason)
}

type InsufficientPoolError struct {
	QuizID    string `json:"quiz_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf("quiz %s pool has %d matching questions, %d requested", e.QuizID, e.Available, e.Requested)
}

// DeadlineExceededError is returned when a write hit an expired attempt. The
// attempt has already been auto-submitted and is carried for the caller.
type DeadlineExceededError struct {
	Attempt *models.Attempt
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("attempt %s passed its deadline and was submitted", e.Attempt.ID)
}

func (e *DeadlineExceededError) Unwrap() error { return ErrAttemptTimeExpired }

type BusinessRuleError struct {
	Rule    string                 `json:"rule"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (bre *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule violation (%s): %s", bre.Rule, bre.Message)
}

type PermissionError struct {
	UserID     string `json:"user_id"`
	ResourceID string `json:"resource_id"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

func (pe *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %s cannot %s %s %s - %s",
		pe.UserID, pe.Action, pe.Resource, pe.ResourceID, pe.Reason)
}

func (pe *PermissionError) Unwrap() error { return ErrForbidden }

// ===== ERROR HELPERS =====

// NewValidationError creates a new validation error using the shared type
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return apperrors.NewValidationError(field, message, value)
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}

func NewPermissionError(userID, resourceID, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrQuizNotFound) ||
		errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrAttemptNotFound) ||
		errors.Is(err, repositories.ErrNotFound)
}

// IsUnauthorized checks if error represents an "unauthorized" condition
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrAttemptAccessDenied)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	if errors.Is(err, ErrValidationFailed) {
		return true
	}
	var ve apperrors.ValidationErrors
	if errors.As(err, &ve) {
		return true
	}
	var single *apperrors.ValidationError
	return errors.As(err, &single)
}

// IsBusinessRule checks if error represents a business rule violation
func IsBusinessRule(err error) bool {
	var bre *BusinessRuleError
	return errors.As(err, &bre)
}

// IsConflict checks if error represents a resource conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAttemptAlreadySubmitted) ||
		errors.Is(err, ErrAttemptNotActive) ||
		errors.Is(err, ErrAttemptsExhausted) ||
		errors.Is(err, ErrAttemptTimeExpired)
}

// IsConfiguration reports quiz setup errors that a trainer has to fix.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	var pe *InsufficientPoolError
	return errors.As(err, &ce) || errors.As(err, &pe)
}

// IsTransient reports store failures worth retrying. Domain outcomes and
// cancellation never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsNotFound(err) || IsUnauthorized(err) || IsValidation(err) || IsBusinessRule(err) ||
		IsConflict(err) || IsConfiguration(err) || errors.Is(err, ErrQuizNotAvailable) ||
		errors.Is(err, ErrGradingNotAllowed) || errors.Is(err, ErrGradingInvalidScore) ||
		errors.Is(err, repositories.ErrDuplicateActiveAttempt) {
		return false
	}
	return true
}
