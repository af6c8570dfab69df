package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/services"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/utils"
)

// ReviewHandler serves trainer review: listings, stats, grading and export.
type ReviewHandler struct {
	BaseHandler
	attemptService services.AttemptService
	exportService  services.ExportService
}

func NewReviewHandler(attemptService services.AttemptService, exportService services.ExportService, logger utils.Logger) *ReviewHandler {
	return &ReviewHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		exportService:  exportService,
	}
}

// GetAttemptDetails returns the full attempt for review
// @Summary Get attempt details
// @Description Full attempt with grading and integrity detail, regardless of result visibility
// @Tags review
// @Produce json
// @Param id path string true "Quiz ID"
// @Param attemptId path string true "Attempt ID"
// @Success 200 {object} services.AttemptDetails
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /quizzes/{id}/attempts/{attemptId}/details [get]
func (h *ReviewHandler) GetAttemptDetails(c *gin.Context) {
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

	details, err := h.attemptService.GetAttemptDetails(c.Request.Context(), quizID, attemptID, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// ListQuizAttempts lists attempts of a quiz
// @Summary List quiz attempts
// @Tags review
// @Produce json
// @Param id path string true "Quiz ID"
// @Param status query string false "Attempt status"
// @Param flagged query bool false "Only flagged attempts"
// @Param page query int false "Page (1-based)"
// @Param size query int false "Page size"
// @Success 200 {object} services.AttemptListResponse
// @Router /quizzes/{id}/attempts [get]
func (h *ReviewHandler) ListQuizAttempts(c *gin.Context) {
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

	list, err := h.attemptService.ListQuizAttempts(c.Request.Context(), quizID, filters, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetQuizStats returns aggregate attempt statistics
// @Summary Get quiz attempt stats
// @Tags review
// @Produce json
// @Param id path string true "Quiz ID"
// @Success 200 {object} repositories.AttemptStats
// @Router /quizzes/{id}/stats [get]
func (h *ReviewHandler) GetQuizStats(c *gin.Context) {
	quizID := ParseStringIDParam(c, "id")
	if quizID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}

	stats, err := h.attemptService.GetQuizStats(c.Request.Context(), quizID, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GradeQuestion records a manual score
// @Summary Grade question manually
// @Tags review
// @Accept json
// @Produce json
// @Param id path string true "Quiz ID"
// @Param attemptId path string true "Attempt ID"
// @Param request body services.GradeQuestionRequest true "Score"
// @Success 200 {object} services.AttemptDetails
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /quizzes/{id}/attempts/{attemptId}/grade [post]
func (h *ReviewHandler) GradeQuestion(c *gin.Context) {
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

	var req services.GradeQuestionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	h.LogRequest(c, "Grading question", "attempt_id", attemptID, "question_id", req.QuestionID)

	details, err := h.attemptService.GradeQuestion(c.Request.Context(), quizID, attemptID, &req, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// ExportResults streams the results workbook
// @Summary Export quiz results
// @Tags review
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Quiz ID"
// @Success 200 {file} file
// @Router /quizzes/{id}/results/export [get]
func (h *ReviewHandler) ExportResults(c *gin.Context) {
	quizID := ParseStringIDParam(c, "id")
	if quizID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}

	file, err := h.exportService.ExportQuizResults(c.Request.Context(), quizID, user)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(file.FileName))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
