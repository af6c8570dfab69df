package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/services"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/utils"
)

// AuditHandler accepts browser telemetry and serves the audit trail.
type AuditHandler struct {
	BaseHandler
	auditService services.AuditService
}

func NewAuditHandler(auditService services.AuditService, logger utils.Logger) *AuditHandler {
	return &AuditHandler{
		BaseHandler:  NewBaseHandler(logger),
		auditService: auditService,
	}
}

func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{ClientIP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// RecordEvent stores one telemetry event
// @Summary Record audit event
// @Tags audit
// @Accept json
// @Produce json
// @Param event body services.TelemetryEvent true "Event"
// @Success 201 {object} services.TelemetryResult
// @Failure 400 {object} ErrorResponse
// @Router /audit/event [post]
func (h *AuditHandler) RecordEvent(c *gin.Context) {
	user, ok := h.identity(c)
	if !ok {
		return
	}
	var event services.TelemetryEvent
	if !h.bindJSON(c, &event) {
		return
	}

	result, err := h.auditService.RecordEvent(c.Request.Context(), &event, user, requestMeta(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// RecordBatch stores several telemetry events; invalid entries are reported
// @Summary Record audit events in batch
// @Tags audit
// @Accept json
// @Produce json
// @Param request body services.TelemetryBatchRequest true "Events"
// @Success 201 {object} services.TelemetryResult
// @Failure 400 {object} ErrorResponse
// @Router /audit/batch [post]
func (h *AuditHandler) RecordBatch(c *gin.Context) {
	user, ok := h.identity(c)
	if !ok {
		return
	}
	var req services.TelemetryBatchRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.auditService.RecordBatch(c.Request.Context(), &req, user, requestMeta(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ListAttemptLogs returns an attempt's audit trail
// @Summary Attempt audit trail
// @Tags audit
// @Produce json
// @Param attemptId path string true "Attempt ID"
// @Success 200 {object} services.AuditLogList
// @Router /audit/{attemptId} [get]
func (h *AuditHandler) ListAttemptLogs(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "attemptId")
	if attemptID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}
	limit, offset := parsePagination(c)

	list, err := h.auditService.ListAttemptLogs(c.Request.Context(), attemptID, limit, offset, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListSuspicious returns suspicious telemetry across attempts
// @Summary Suspicious activity
// @Tags audit
// @Produce json
// @Param quiz_id query string false "Quiz ID"
// @Param min_severity query string false "low | medium | high"
// @Success 200 {object} services.AuditLogList
// @Router /audit/suspicious [get]
func (h *AuditHandler) ListSuspicious(c *gin.Context) {
	user, ok := h.identity(c)
	if !ok {
		return
	}
	filters := repositories.AuditFilters{
		QuizID:      c.Query("quiz_id"),
		MinSeverity: models.Severity(c.Query("min_severity")),
		Source:      models.AuditSource(c.Query("source")),
	}
	filters.Limit, filters.Offset = parsePagination(c)

	list, err := h.auditService.ListSuspicious(c.Request.Context(), filters, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
