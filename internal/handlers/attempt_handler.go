package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/services"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/utils"
)

// AttemptHandler serves the student side of the attempt lifecycle.
type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
}

func NewAttemptHandler(attemptService services.AttemptService, logger utils.Logger) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
	}
}

// StartAttempt starts or resumes an attempt
// @Summary Start quiz attempt
// @Description Resumes the caller's in-progress attempt or creates a new one
// @Tags attempts
// @Produce json
// @Param id path string true "Quiz ID"
// @Success 200 {object} services.StartResult "Resumed"
// @Success 201 {object} services.StartResult "Created"
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /quizzes/{id}/start [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	quizID := ParseStringIDParam(c, "id")
	if quizID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Starting attempt", "quiz_id", quizID)

	result, err := h.attemptService.Start(c.Request.Context(), quizID, user, c.ClientIP())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Resumed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// SaveAnswers merges an auto-save batch
// @Summary Auto-save answers
// @Description Merges answers into the in-progress attempt. Bad entries are reported, not fatal.
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param request body services.SaveAnswersRequest true "Answers"
// @Success 200 {object} services.SaveAnswersResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /quizzes/{id}/auto-save [post]
func (h *AttemptHandler) SaveAnswers(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}

	var req services.SaveAnswersRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.ClientIP = c.ClientIP()

	result, err := h.attemptService.SaveAnswers(c.Request.Context(), attemptID, &req, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RecordSignal applies one integrity signal
// @Summary Report integrity signal
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param signal body services.Signal true "Signal"
// @Success 200 {object} services.SignalResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /quizzes/{id}/signals [post]
func (h *AttemptHandler) RecordSignal(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}

	var sig services.Signal
	if !h.bindJSON(c, &sig) {
		return
	}

	result, err := h.attemptService.RecordSignal(c.Request.Context(), attemptID, &sig, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SubmitAttempt submits and grades the attempt
// @Summary Submit attempt
// @Description Applies the final answers and grades. Repeating a submit returns the stored result.
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param request body services.SubmitAttemptRequest true "Final answers"
// @Success 200 {object} services.SubmitResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /quizzes/{id}/submit [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "id")
	if attemptID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}

	var req services.SubmitAttemptRequest
	// An empty body is a plain submit.
	if c.Request.ContentLength != 0 && !h.bindJSON(c, &req) {
		return
	}
	req.ClientIP = c.ClientIP()

	h.LogRequest(c, "Submitting attempt", "attempt_id", attemptID, "is_auto_submit", req.IsAutoSubmit)

	result, err := h.attemptService.Submit(c.Request.Context(), attemptID, &req, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetAttempt returns the current attempt state
// @Summary Get attempt
// @Description Safe to poll while in progress; answer keys are never included before submit
// @Tags attempts
// @Produce json
// @Param attemptId path string true "Attempt ID"
// @Success 200 {object} services.AttemptView
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /quizzes/attempts/{attemptId} [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "attemptId")
	if attemptID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}

	view, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetTimeRemaining returns the server-authoritative countdown
// @Summary Get time remaining
// @Tags attempts
// @Produce json
// @Param attemptId path string true "Attempt ID"
// @Success 200 {object} services.TimeRemaining
// @Failure 404 {object} ErrorResponse
// @Router /quizzes/attempts/{attemptId}/time-remaining [get]
func (h *AttemptHandler) GetTimeRemaining(c *gin.Context) {
	attemptID := ParseStringIDParam(c, "attemptId")
	if attemptID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}

	remaining, err := h.attemptService.GetTimeRemaining(c.Request.Context(), attemptID, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, remaining)
}

// ListMyAttempts lists the caller's attempts for a quiz, newest first
// @Summary List my attempts
// @Tags attempts
// @Produce json
// @Param id path string true "Quiz ID"
// @Param page query int false "Page (1-based)"
// @Param size query int false "Page size"
// @Success 200 {object} services.AttemptListResponse
// @Router /quizzes/{id}/my-attempts [get]
func (h *AttemptHandler) ListMyAttempts(c *gin.Context) {
	quizID := ParseStringIDParam(c, "id")
	if quizID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}
	filters, ok := h.parseAttemptFilters(c)
	if !ok {
		return
	}

	list, err := h.attemptService.ListMyAttempts(c.Request.Context(), quizID, filters, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetResults returns the graded result of a finished attempt
// @Summary Get attempt results
// @Tags attempts
// @Produce json
// @Param id path string true "Quiz ID"
// @Param attemptId path string true "Attempt ID"
// @Success 200 {object} services.ResultView
// @Failure 409 {object} ErrorResponse "Attempt still in progress"
// @Router /quizzes/{id}/attempts/{attemptId}/results [get]
func (h *AttemptHandler) GetResults(c *gin.Context) {
	quizID := ParseStringIDParam(c, "id")
	if quizID == "" {
		return
	}
	attemptID := ParseStringIDParam(c, "attemptId")
	if attemptID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}

	result, err := h.attemptService.GetResults(c.Request.Context(), quizID, attemptID, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
