package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/services"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/utils"
)

// ===== COMMON RESPONSE STRUCTURES =====

// ErrorResponse represents an error response
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error codes clients branch on.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeQuizNotAvailable  = "QUIZ_NOT_AVAILABLE"
	CodeAttemptsExhausted = "ATTEMPTS_EXHAUSTED"
	CodeAttemptNotActive  = "ATTEMPT_NOT_ACTIVE"
	CodeDeadlineExceeded  = "DEADLINE_EXCEEDED"
	CodeConflict          = "CONFLICT"
	CodeConfiguration     = "QUIZ_MISCONFIGURED"
	CodeInsufficientPool  = "INSUFFICIENT_POOL"
	CodeGrading           = "GRADING_REJECTED"
	CodeUnavailable       = "STORE_UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
)

// ===== BASE HANDLER STRUCT =====

// BaseHandler provides common logging functionality for all handlers
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// log prefers the request-scoped logger installed by utils.ContextLogger.
func (h *BaseHandler) log(c *gin.Context) utils.Logger {
	if l, ok := c.Get("logger"); ok {
		if typed, ok := l.(utils.Logger); ok {
			return typed
		}
	}
	return h.logger
}

// LogRequest logs incoming HTTP requests with context information
func (h *BaseHandler) LogRequest(c *gin.Context, message string, additionalFields ...interface{}) {
	fields := []interface{}{
		"remote_addr", c.ClientIP(),
		"user_id", c.GetString(ctxUserID),
	}
	fields = append(fields, additionalFields...)
	h.log(c).Debug(message, fields...)
}

// LogError logs error details with context information
func (h *BaseHandler) LogError(c *gin.Context, err error, message string, additionalFields ...interface{}) {
	fields := append([]interface{}{"user_id", c.GetString(ctxUserID)}, additionalFields...)
	h.log(c).LogError(err, message, fields...)
}

func (h *BaseHandler) LogWarn(c *gin.Context, message string, additionalFields ...interface{}) {
	fields := append([]interface{}{"user_id", c.GetString(ctxUserID)}, additionalFields...)
	h.log(c).Warn(message, fields...)
}

// RespondWithSuccess sends a consistent success response
func (h *BaseHandler) RespondWithSuccess(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, SuccessResponse{Message: message, Data: data})
}

func (h *BaseHandler) respond(c *gin.Context, status int, resp ErrorResponse, err error) {
	if status >= http.StatusInternalServerError {
		h.LogError(c, err, resp.Message, "status_code", status, "code", resp.Code)
	} else {
		h.LogWarn(c, resp.Message, "status_code", status, "code", resp.Code, "error", err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// handleServiceError maps the service error taxonomy to HTTP responses.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var (
		validationErrors services.ValidationErrors
		validationError  *services.ValidationError
		deadlineErr      *services.DeadlineExceededError
		notAvailableErr  *services.QuizNotAvailableError
		configErr        *services.ConfigurationError
		poolErr          *services.InsufficientPoolError
		permissionErr    *services.PermissionError
		businessRuleErr  *services.BusinessRuleError
	)

	switch {
	case errors.As(err, &validationErrors):
		h.respond(c, http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: validationErrors, Code: CodeValidation}, err)
	case errors.As(err, &validationError):
		h.respond(c, http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: services.ValidationErrors{*validationError}, Code: CodeValidation}, err)

	case errors.As(err, &deadlineErr):
		// The attempt was submitted on the caller's behalf; hand it back.
		h.respond(c, http.StatusConflict, ErrorResponse{
			Message: "Attempt deadline has passed; the attempt was submitted automatically",
			Details: deadlineDetails(deadlineErr.Attempt),
			Code:    CodeDeadlineExceeded,
		}, err)

	case errors.As(err, &notAvailableErr):
		h.respond(c, http.StatusForbidden, ErrorResponse{Message: capitalize(notAvailableErr.Reason), Code: CodeQuizNotAvailable}, err)
	case errors.Is(err, services.ErrQuizNotAvailable):
		h.respond(c, http.StatusForbidden, ErrorResponse{Message: "Quiz is not available", Code: CodeQuizNotAvailable}, err)

	case errors.As(err, &configErr):
		h.respond(c, http.StatusUnprocessableEntity, ErrorResponse{Message: "Quiz is misconfigured", Details: configErr, Code: CodeConfiguration}, err)
	case errors.As(err, &poolErr):
		h.respond(c, http.StatusUnprocessableEntity, ErrorResponse{Message: "Quiz question pool is too small", Details: poolErr, Code: CodeInsufficientPool}, err)

	case errors.As(err, &permissionErr):
		h.respond(c, http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionErr.Resource,
				"action":   permissionErr.Action,
				"reason":   permissionErr.Reason,
			},
			Code: CodeForbidden,
		}, err)

	case errors.As(err, &businessRuleErr):
		h.respond(c, http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessRuleErr.Message,
			Details: map[string]interface{}{"rule": businessRuleErr.Rule, "context": businessRuleErr.Context},
			Code:    CodeGrading,
		}, err)

	case errors.Is(err, services.ErrQuizNotFound):
		h.respond(c, http.StatusNotFound, ErrorResponse{Message: "Quiz not found", Code: CodeNotFound}, err)
	case errors.Is(err, services.ErrAttemptNotFound):
		h.respond(c, http.StatusNotFound, ErrorResponse{Message: "Attempt not found", Code: CodeNotFound}, err)
	case services.IsNotFound(err):
		h.respond(c, http.StatusNotFound, ErrorResponse{Message: "Resource not found", Code: CodeNotFound}, err)

	case errors.Is(err, services.ErrAttemptsExhausted):
		h.respond(c, http.StatusConflict, ErrorResponse{Message: "Maximum number of attempts reached", Details: err.Error(), Code: CodeAttemptsExhausted}, err)
	case errors.Is(err, services.ErrAttemptNotActive), errors.Is(err, services.ErrAttemptAlreadySubmitted):
		h.respond(c, http.StatusConflict, ErrorResponse{Message: "Attempt is not in progress", Code: CodeAttemptNotActive}, err)
	case errors.Is(err, services.ErrGradingNotAllowed), errors.Is(err, services.ErrGradingInvalidScore):
		h.respond(c, http.StatusUnprocessableEntity, ErrorResponse{Message: err.Error(), Code: CodeGrading}, err)
	case errors.Is(err, services.ErrConflict), errors.Is(err, repositories.ErrConcurrentUpdate):
		h.respond(c, http.StatusConflict, ErrorResponse{Message: "Request conflicts with another in flight; retry", Code: CodeConflict}, err)

	case errors.Is(err, services.ErrUnauthorized):
		h.respond(c, http.StatusUnauthorized, ErrorResponse{Message: "Unauthorized access", Code: CodeUnauthorized}, err)
	case errors.Is(err, services.ErrForbidden), errors.Is(err, services.ErrAttemptAccessDenied):
		h.respond(c, http.StatusForbidden, ErrorResponse{Message: "Access denied", Code: CodeForbidden}, err)
	case errors.Is(err, services.ErrValidationFailed):
		h.respond(c, http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Details: err.Error(), Code: CodeValidation}, err)

	case errors.Is(err, services.ErrStoreUnavailable):
		c.Header("Retry-After", "1")
		h.respond(c, http.StatusServiceUnavailable, ErrorResponse{Message: "Service temporarily unavailable; retry", Code: CodeUnavailable}, err)

	default:
		h.respond(c, http.StatusInternalServerError, ErrorResponse{Message: "Internal server error", Code: CodeInternal}, err)
	}
}

// deadlineDetails exposes the terminal state only; grading stays behind the results endpoint.
func deadlineDetails(a *models.Attempt) gin.H {
	if a == nil {
		return nil
	}
	return gin.H{
		"attempt_id":     a.ID,
		"quiz_id":        a.QuizID,
		"status":         a.Status,
		"end_time":       a.EndTime,
		"is_auto_submit": a.IsAutoSubmit,
		"submit_trigger": a.SubmitTrigger,
		"version":        a.Version,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ===== REQUEST HELPERS =====

func (h *BaseHandler) bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.respond(c, http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
			Code:    CodeValidation,
		}, err)
		return false
	}
	return true
}

// identity returns the caller set by AuthMiddleware.
func (h *BaseHandler) identity(c *gin.Context) (models.Identity, bool) {
	id, ok := GetIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated", Code: CodeUnauthorized})
	}
	return id, ok
}

func parseIntQuery(c *gin.Context, param string, defaultValue int) int {
	if v, err := strconv.Atoi(c.Query(param)); err == nil {
		return v
	}
	return defaultValue
}

// parsePagination accepts page/size (1-based) or limit/offset.
func parsePagination(c *gin.Context) (limit, offset int) {
	if c.Query("page") != "" || c.Query("size") != "" {
		size := repositories.NormalizeLimit(parseIntQuery(c, "size", 20))
		page := parseIntQuery(c, "page", 1)
		if page < 1 {
			page = 1
		}
		return size, (page - 1) * size
	}
	limit = repositories.NormalizeLimit(parseIntQuery(c, "limit", 20))
	offset = parseIntQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

var knownStatuses = []models.AttemptStatus{
	models.AttemptInProgress,
	models.AttemptSubmitted,
	models.AttemptAutoGraded,
	models.AttemptFlagged,
	models.AttemptNeedsManualReview,
	models.AttemptTimedOut,
	models.AttemptGraded,
}

// parseAttemptFilters reads status, flagged, sort and pagination query params.
func (h *BaseHandler) parseAttemptFilters(c *gin.Context) (repositories.AttemptFilters, bool) {
	var filters repositories.AttemptFilters
	filters.Limit, filters.Offset = parsePagination(c)

	if raw := c.Query("status"); raw != "" {
		status := models.AttemptStatus(raw)
		valid := false
		for _, s := range knownStatuses {
			if s == status {
				valid = true
				break
			}
		}
		if !valid {
			h.respond(c, http.StatusBadRequest, ErrorResponse{
				Message: "Validation failed",
				Details: services.ValidationErrors{*services.NewValidationError("status", "unknown attempt status", raw)},
				Code:    CodeValidation,
			}, nil)
			return filters, false
		}
		filters.Status = &status
	}

	if raw := c.Query("flagged"); raw != "" {
		flagged, err := strconv.ParseBool(raw)
		if err != nil {
			h.respond(c, http.StatusBadRequest, ErrorResponse{
				Message: "Validation failed",
				Details: services.ValidationErrors{*services.NewValidationError("flagged", "must be a boolean", raw)},
				Code:    CodeValidation,
			}, err)
			return filters, false
		}
		filters.Flagged = &flagged
	}

	switch strings.ToLower(c.Query("sort")) {
	case "asc":
		filters.SortOrder = "asc"
	default:
		filters.SortOrder = "desc"
	}
	return filters, true
}

// ParseStringIDParam reads a required path parameter.
func ParseStringIDParam(c *gin.Context, param string) string {
	idStr := strings.TrimSpace(c.Param(param))
	if idStr == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: "ID cannot be empty",
			Code:    CodeValidation,
		})
		return ""
	}
	return idStr
}
