package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/utils"
)

// MonitorSubscriber upgrades a trainer connection into a quiz room.
type MonitorSubscriber interface {
	ServeWS(w http.ResponseWriter, r *http.Request, quizID, userID string) error
}

// MonitorHandler serves the live monitor and the health endpoints.
type MonitorHandler struct {
	BaseHandler
	hub    MonitorSubscriber
	checks map[string]func(context.Context) error
}

func NewMonitorHandler(hub MonitorSubscriber, checks map[string]func(context.Context) error, logger utils.Logger) *MonitorHandler {
	return &MonitorHandler{
		BaseHandler: NewBaseHandler(logger),
		hub:         hub,
		checks:      checks,
	}
}

// Monitor streams lifecycle events of a quiz over a websocket
// @Summary Live attempt monitor
// @Tags review
// @Param id path string true "Quiz ID"
// @Success 101
// @Router /quizzes/{id}/monitor [get]
func (h *MonitorHandler) Monitor(c *gin.Context) {
	quizID := ParseStringIDParam(c, "id")
	if quizID == "" {
		return
	}
	user, ok := h.identity(c)
	if !ok {
		return
	}

	// The upgrader writes its own error response on failure.
	if err := h.hub.ServeWS(c.Writer, c.Request, quizID, user.UserID); err != nil {
		h.LogWarn(c, "Monitor subscription failed", "quiz_id", quizID, "error", err)
	}
}

// Health is the liveness probe.
func (h *MonitorHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "quiz-attempt-service",
	})
}

// Ready pings every dependency and reports each result.
func (h *MonitorHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(gin.H, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}
