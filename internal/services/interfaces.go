package services

import (
	"context"
	"time"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
)

// ===== SERVICE INTERFACES =====

// AttemptService owns the attempt lifecycle: start, auto-save, integrity
// signals, submission, grading and the read views over attempts.
type AttemptService interface {
	// Student operations
	Start(ctx context.Context, quizID string, user models.Identity, clientIP string) (*StartResult, error)
	SaveAnswers(ctx context.Context, attemptID string, req *SaveAnswersRequest, user models.Identity) (*SaveAnswersResult, error)
	RecordSignal(ctx context.Context, attemptID string, sig *Signal, user models.Identity) (*SignalResult, error)
	Submit(ctx context.Context, attemptID string, req *SubmitAttemptRequest, user models.Identity) (*SubmitResult, error)
	GetAttempt(ctx context.Context, attemptID string, user models.Identity) (*AttemptView, error)
	GetTimeRemaining(ctx context.Context, attemptID string, user models.Identity) (*TimeRemaining, error)
	GetResults(ctx context.Context, quizID, attemptID string, user models.Identity) (*ResultView, error)
	ListMyAttempts(ctx context.Context, quizID string, filters repositories.AttemptFilters, user models.Identity) (*AttemptListResponse, error)

	// Trainer operations
	GetAttemptDetails(ctx context.Context, quizID, attemptID string, user models.Identity) (*AttemptDetails, error)
	ListQuizAttempts(ctx context.Context, quizID string, filters repositories.AttemptFilters, user models.Identity) (*AttemptListResponse, error)
	GetQuizStats(ctx context.Context, quizID string, user models.Identity) (*repositories.AttemptStats, error)
	GradeQuestion(ctx context.Context, quizID, attemptID string, req *GradeQuestionRequest, grader models.Identity) (*AttemptDetails, error)

	// ExpireOverdue force-submits in-progress attempts whose deadline passed.
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// AuditService stores browser telemetry and serves the audit trail.
type AuditService interface {
	RecordEvent(ctx context.Context, event *TelemetryEvent, user models.Identity, meta RequestMeta) (*TelemetryResult, error)
	RecordBatch(ctx context.Context, req *TelemetryBatchRequest, user models.Identity, meta RequestMeta) (*TelemetryResult, error)
	ListAttemptLogs(ctx context.Context, attemptID string, limit, offset int, user models.Identity) (*AuditLogList, error)
	ListSuspicious(ctx context.Context, filters repositories.AuditFilters, user models.Identity) (*AuditLogList, error)
}

// ExportService renders quiz results as a spreadsheet.
type ExportService interface {
	ExportQuizResults(ctx context.Context, quizID string, user models.Identity) (*ExportFile, error)
}

// ===== REQUEST DTOs =====

type SaveAnswersRequest struct {
	Answers     []AnswerInput `json:"answers" validate:"max=500,dive"`
	TabSwitches *int          `json:"tab_switches,omitempty" validate:"omitempty,min=0,max=10000"`
	// Timestamp applies to entries that carry no client_timestamp of their own.
	Timestamp *time.Time `json:"timestamp,omitempty"`
	ClientIP  string     `json:"-"`
}

type SubmitAttemptRequest struct {
	Answers     []AnswerInput `json:"answers" validate:"max=500,dive"`
	TabSwitches *int          `json:"tab_switches,omitempty" validate:"omitempty,min=0,max=10000"`
	// TimeSpentSeconds is what the client measured. It is stored for review and never graded on.
	TimeSpentSeconds  *int   `json:"time_spent_seconds,omitempty" validate:"omitempty,min=0"`
	IsAutoSubmit      bool   `json:"is_auto_submit"`
	ClientFingerprint string `json:"client_fingerprint,omitempty" validate:"max=255"`
	ClientIP          string `json:"-"`
}

type GradeQuestionRequest struct {
	QuestionID string   `json:"question_id" validate:"required,max=64"`
	Score      *float64 `json:"score" validate:"required"`
	Feedback   string   `json:"feedback,omitempty" validate:"max=2000"`
}

// TelemetryEvent is one browser-side audit event.
type TelemetryEvent struct {
	AttemptID        string                 `json:"attempt_id" validate:"required,max=36"`
	EventType        string                 `json:"event_type" validate:"required,max=64"`
	Timestamp        *time.Time             `json:"timestamp,omitempty"`
	Data             map[string]interface{} `json:"data,omitempty"`
	UserAgent        string                 `json:"user_agent,omitempty" validate:"max=512"`
	ScreenResolution string                 `json:"screen_resolution,omitempty" validate:"max=32"`
}

type TelemetryBatchRequest struct {
	Events []TelemetryEvent `json:"events" validate:"required,min=1,max=200"`
}

// RequestMeta carries transport details the service records but never trusts.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
}

// ===== RESPONSE DTOs =====

type StartResult struct {
	Attempt *AttemptView `json:"attempt"`
	Resumed bool         `json:"resumed"`
}

type SaveAnswersResult struct {
	AttemptID        string               `json:"attempt_id"`
	Status           models.AttemptStatus `json:"status"`
	Version          int64                `json:"version"`
	RemainingSeconds int64                `json:"remaining_seconds"`
	Merge            MergeResult          `json:"merge"`
	AutoSubmitted    bool                 `json:"auto_submitted"`
	Attempt          *AttemptView         `json:"attempt,omitempty"`
}

type SignalResult struct {
	AttemptID     string                   `json:"attempt_id"`
	Status        models.AttemptStatus     `json:"status"`
	Integrity     models.IntegrityCounters `json:"integrity"`
	IsFlagged     bool                     `json:"is_flagged"`
	NewFlags      []models.FlagReason      `json:"new_flags,omitempty"`
	AutoSubmitted bool                     `json:"auto_submitted"`
	Attempt       *AttemptView             `json:"attempt,omitempty"`
}

type SubmitResult struct {
	Attempt          *AttemptView     `json:"attempt"`
	AlreadySubmitted bool             `json:"already_submitted"`
	Rejected         ValidationErrors `json:"rejected,omitempty"`
}

// AttemptView is the student-facing attempt. Answer keys never appear while
// the attempt is in progress.
type AttemptView struct {
	ID               string                        `json:"id"`
	QuizID           string                        `json:"quiz_id"`
	UserID           string                        `json:"user_id"`
	AttemptNumber    int                           `json:"attempt_number"`
	Status           models.AttemptStatus          `json:"status"`
	Questions        []models.QuestionSnapshot     `json:"questions"`
	Answers          map[string]models.AnswerEntry `json:"answers"`
	StartTime        time.Time                     `json:"start_time"`
	DeadlineAt       time.Time                     `json:"deadline_at"`
	EndTime          *time.Time                    `json:"end_time,omitempty"`
	RemainingSeconds int64                         `json:"remaining_seconds"`
	ServerTime       time.Time                     `json:"server_time"`
	Settings         models.AttemptSettings        `json:"settings"`
	Integrity        models.IntegrityCounters      `json:"integrity"`
	IsAutoSubmit     bool                          `json:"is_auto_submit"`
	IsFlagged        bool                          `json:"is_flagged"`
	FlagReasons      []models.FlagReason           `json:"flag_reasons,omitempty"`
	Version          int64                         `json:"version"`
	Result           *ResultView                   `json:"result,omitempty"`
}

type ResultView struct {
	AttemptID          string               `json:"attempt_id"`
	Status             models.AttemptStatus `json:"status"`
	TotalScore         float64              `json:"total_score"`
	MaxScore           float64              `json:"max_score"`
	CorrectCount       int                  `json:"correct_count"`
	WrongCount         int                  `json:"wrong_count"`
	PartialCount       int                  `json:"partial_count"`
	UnansweredCount    int                  `json:"unanswered_count"`
	PendingReviewCount int                  `json:"pending_review_count"`
	TimeSpentSeconds   int                  `json:"time_spent_seconds"`
	Passed             bool                 `json:"passed"`
	IsAutoSubmit       bool                 `json:"is_auto_submit"`
	IsFlagged          bool                 `json:"is_flagged"`
	EndTime            *time.Time           `json:"end_time,omitempty"`
	// DetailsAvailable is false while per-question results are held back for review.
	DetailsAvailable bool                 `json:"details_available"`
	Questions        []QuestionResultView `json:"questions,omitempty"`
}

type QuestionResultView struct {
	models.QuestionResult
	CorrectAnswer *models.AnswerKey `json:"correct_answer,omitempty"`
}

type AttemptSummary struct {
	ID               string               `json:"id"`
	QuizID           string               `json:"quiz_id"`
	UserID           string               `json:"user_id"`
	AttemptNumber    int                  `json:"attempt_number"`
	Status           models.AttemptStatus `json:"status"`
	StartTime        time.Time            `json:"start_time"`
	EndTime          *time.Time           `json:"end_time,omitempty"`
	TotalScore       float64              `json:"total_score"`
	MaxScore         float64              `json:"max_score"`
	Passed           bool                 `json:"passed"`
	TimeSpentSeconds int                  `json:"time_spent_seconds"`
	IsAutoSubmit     bool                 `json:"is_auto_submit"`
	IsFlagged        bool                 `json:"is_flagged"`
	TabSwitches      int                  `json:"tab_switches"`
}

type AttemptListResponse struct {
	Attempts []AttemptSummary `json:"attempts"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// AttemptDetails is the trainer view: the full record including the captured
// question records with their keys.
type AttemptDetails struct {
	Attempt          *models.Attempt   `json:"attempt"`
	QuestionRecords  []models.Question `json:"question_records"`
	RemainingSeconds int64             `json:"remaining_seconds"`
	AuditEventCount  int64             `json:"audit_event_count"`
}

type TelemetryResult struct {
	Accepted  int              `json:"accepted"`
	Forwarded int              `json:"forwarded"`
	Rejected  ValidationErrors `json:"rejected,omitempty"`
}

type AuditLogList struct {
	Logs   []*models.AuditLog `json:"logs"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

type ExportFile struct {
	FileName    string
	ContentType string
	Data        []byte
}
