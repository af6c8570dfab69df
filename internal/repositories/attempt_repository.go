package repositories

import (
	"context"
	"time"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

// AttemptRepository persists attempts. Every state change goes through Update,
// which serialises writers on one attempt and bumps Version.
type AttemptRepository interface {
	// Create fails with ErrDuplicateActiveAttempt when the user already has an
	// in-progress attempt on the quiz.
	Create(ctx context.Context, attempt *models.Attempt) error
	GetByID(ctx context.Context, id string) (*models.Attempt, error)

	// Update loads the attempt, applies mutate and writes it back atomically.
	// A mutator returning ErrSkipUpdate leaves the row untouched and the
	// current state is returned with a nil error.
	Update(ctx context.Context, id string, mutate func(*models.Attempt) error) (*models.Attempt, error)

	// Active attempt management
	FindActive(ctx context.Context, userID, quizID string) (*models.Attempt, error)
	CountByUserAndQuiz(ctx context.Context, userID, quizID string) (int64, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Attempt, error)

	// Query operations
	ListByQuiz(ctx context.Context, quizID string, filters AttemptFilters) ([]*models.Attempt, int64, error)
	ListByUser(ctx context.Context, userID, quizID string, filters AttemptFilters) ([]*models.Attempt, int64, error)

	// Statistics
	Stats(ctx context.Context, quizID string) (*AttemptStats, error)
}
