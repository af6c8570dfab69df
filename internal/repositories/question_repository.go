package repositories

import (
	"context"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

// QuizRepository is read-mostly; quizzes are authored by another service.
type QuizRepository interface {
	Create(ctx context.Context, quiz *models.Quiz) error
	GetByID(ctx context.Context, id string) (*models.Quiz, error)
}

type QuestionRepository interface {
	Create(ctx context.Context, question *models.Question) error

	// GetByIDs returns the questions that exist, in no particular order.
	GetByIDs(ctx context.Context, ids []string) ([]models.Question, error)

	// FindByFilter returns active questions matching the pool filter, ignoring Count.
	FindByFilter(ctx context.Context, filter models.PoolFilter) ([]models.Question, error)
}

type AuditRepository interface {
	Append(ctx context.Context, logs ...*models.AuditLog) error
	ListByAttempt(ctx context.Context, attemptID string, limit, offset int) ([]*models.AuditLog, int64, error)
	ListSuspicious(ctx context.Context, filters AuditFilters) ([]*models.AuditLog, int64, error)
}
