package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

// EventType represents the attempt lifecycle events this service emits
type EventType string

const (
	// Attempt events
	EventAttemptStarted   EventType = "attempt.started"
	EventAttemptFlagged   EventType = "attempt.flagged"
	EventAttemptSubmitted EventType = "attempt.submitted"
	EventAttemptTimedOut  EventType = "attempt.timed_out"
	EventAttemptGraded    EventType = "attempt.graded"

	// Grading events
	EventManualGradingRequired EventType = "grading.manual_required"
)

const (
	EventSource  = "quiz-attempt-service"
	EventVersion = "1.0"
)

// AttemptEvent is the envelope for every published event
type AttemptEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	QuizID    string                 `json:"quiz_id"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Attempt event payloads

type AttemptStartedData struct {
	AttemptID     string    `json:"attempt_id"`
	QuizID        string    `json:"quiz_id"`
	UserID        string    `json:"user_id"`
	AttemptNumber int       `json:"attempt_number"`
	StartTime     time.Time `json:"start_time"`
	DeadlineAt    time.Time `json:"deadline_at"`
	QuestionCount int       `json:"question_count"`
}

type AttemptFlaggedData struct {
	AttemptID string                   `json:"attempt_id"`
	QuizID    string                   `json:"quiz_id"`
	UserID    string                   `json:"user_id"`
	Reasons   []models.FlagReason      `json:"reasons"`
	Integrity models.IntegrityCounters `json:"integrity"`
}

type AttemptSubmittedData struct {
	AttemptID        string               `json:"attempt_id"`
	QuizID           string               `json:"quiz_id"`
	UserID           string               `json:"user_id"`
	Status           models.AttemptStatus `json:"status"`
	Trigger          models.SubmitTrigger `json:"trigger"`
	IsAutoSubmit     bool                 `json:"is_auto_submit"`
	IsFlagged        bool                 `json:"is_flagged"`
	TotalScore       float64              `json:"total_score"`
	MaxScore         float64              `json:"max_score"`
	Passed           bool                 `json:"passed"`
	TimeSpentSeconds int                  `json:"time_spent_seconds"`
	EndTime          time.Time            `json:"end_time"`
}

type ManualGradingRequiredData struct {
	AttemptID   string   `json:"attempt_id"`
	QuizID      string   `json:"quiz_id"`
	UserID      string   `json:"user_id"`
	QuestionIDs []string `json:"question_ids"`
}

type AttemptGradedData struct {
	AttemptID  string               `json:"attempt_id"`
	QuizID     string               `json:"quiz_id"`
	UserID     string               `json:"user_id"`
	GraderID   string               `json:"grader_id"`
	QuestionID string               `json:"question_id"`
	Status     models.AttemptStatus `json:"status"`
	TotalScore float64              `json:"total_score"`
	Passed     bool                 `json:"passed"`
}

// Helper functions to create events

func NewAttemptEvent(eventType EventType, quizID string, data interface{}, at time.Time) *AttemptEvent {
	return &AttemptEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: at,
		Source:    EventSource,
		Version:   EventVersion,
		QuizID:    quizID,
		Data:      data,
	}
}

func NewAttemptStartedEvent(a *models.Attempt) *AttemptEvent {
	return NewAttemptEvent(EventAttemptStarted, a.QuizID, AttemptStartedData{
		AttemptID:     a.ID,
		QuizID:        a.QuizID,
		UserID:        a.UserID,
		AttemptNumber: a.AttemptNumber,
		StartTime:     a.StartTime,
		DeadlineAt:    a.DeadlineAt,
		QuestionCount: len(a.Snapshot),
	}, a.StartTime)
}

func NewAttemptFlaggedEvent(a *models.Attempt, reasons []models.FlagReason, at time.Time) *AttemptEvent {
	return NewAttemptEvent(EventAttemptFlagged, a.QuizID, AttemptFlaggedData{
		AttemptID: a.ID,
		QuizID:    a.QuizID,
		UserID:    a.UserID,
		Reasons:   reasons,
		Integrity: a.Integrity,
	}, at)
}

// NewAttemptSubmittedEvent emits attempt.timed_out for deadline submits.
func NewAttemptSubmittedEvent(a *models.Attempt) *AttemptEvent {
	eventType := EventAttemptSubmitted
	if a.SubmitTrigger == models.TriggerDeadline {
		eventType = EventAttemptTimedOut
	}
	var end time.Time
	if a.EndTime != nil {
		end = *a.EndTime
	}
	return NewAttemptEvent(eventType, a.QuizID, AttemptSubmittedData{
		AttemptID:        a.ID,
		QuizID:           a.QuizID,
		UserID:           a.UserID,
		Status:           a.Status,
		Trigger:          a.SubmitTrigger,
		IsAutoSubmit:     a.IsAutoSubmit,
		IsFlagged:        a.IsFlagged,
		TotalScore:       a.TotalScore,
		MaxScore:         a.MaxScore,
		Passed:           a.Passed,
		TimeSpentSeconds: a.TimeSpentSeconds,
		EndTime:          end,
	}, end)
}

func NewManualGradingRequiredEvent(a *models.Attempt, questionIDs []string, at time.Time) *AttemptEvent {
	return NewAttemptEvent(EventManualGradingRequired, a.QuizID, ManualGradingRequiredData{
		AttemptID:   a.ID,
		QuizID:      a.QuizID,
		UserID:      a.UserID,
		QuestionIDs: questionIDs,
	}, at)
}

func NewAttemptGradedEvent(a *models.Attempt, graderID, questionID string, at time.Time) *AttemptEvent {
	return NewAttemptEvent(EventAttemptGraded, a.QuizID, AttemptGradedData{
		AttemptID:  a.ID,
		QuizID:     a.QuizID,
		UserID:     a.UserID,
		GraderID:   graderID,
		QuestionID: questionID,
		Status:     a.Status,
		TotalScore: a.TotalScore,
		Passed:     a.Passed,
	}, at)
}
