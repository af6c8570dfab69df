package repositories

import (
	"context"
	"errors"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrConcurrentUpdate       = errors.New("attempt was modified concurrently")
	ErrDuplicateActiveAttempt = errors.New("an in-progress attempt already exists for this user and quiz")

	// ErrSkipUpdate may be returned from an Update mutator to end the
	// transaction without writing.
	ErrSkipUpdate = errors.New("skip update")
)

// Repository groups the stores the attempt service works against.
type Repository interface {
	Attempts() AttemptRepository
	Quizzes() QuizRepository
	Questions() QuestionRepository
	Audit() AuditRepository
	Ping(ctx context.Context) error
}

// ===== SHARED FILTER STRUCTS =====

type AttemptFilters struct {
	Status    *models.AttemptStatus `json:"status"`
	Flagged   *bool                 `json:"flagged"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
	SortOrder string                `json:"sort_order"` // "asc", "desc" on start_time
}

type AuditFilters struct {
	QuizID      string             `json:"quiz_id" validate:"max=64"`
	MinSeverity models.Severity    `json:"min_severity" validate:"omitempty,severity"`
	Source      models.AuditSource `json:"source"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
}

// ===== SHARED STATISTICS STRUCTS =====

type AttemptStats struct {
	TotalAttempts    int                          `json:"total_attempts"`
	InProgress       int                          `json:"in_progress"`
	Completed        int                          `json:"completed"`
	FlaggedAttempts  int                          `json:"flagged_attempts"`
	StatusBreakdown  map[models.AttemptStatus]int `json:"status_breakdown"`
	AverageScore     float64                      `json:"average_score"`
	HighestScore     float64                      `json:"highest_score"`
	LowestScore      float64                      `json:"lowest_score"`
	PassRate         float64                      `json:"pass_rate"`
	AverageTimeSpent int                          `json:"average_time_spent"`
}

// NormalizeLimit clamps a page size into [1, 100], defaulting to 20.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
