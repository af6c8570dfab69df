package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/cache"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"gorm.io/gorm"
)

type Repository struct {
	db        *gorm.DB
	attempts  repositories.AttemptRepository
	quizzes   repositories.QuizRepository
	questions repositories.QuestionRepository
	audit     repositories.AuditRepository
}

func NewRepository(db *gorm.DB, cacheService cache.CacheService, quizTTL time.Duration, logger *slog.Logger) *Repository {
	return &Repository{
		db:        db,
		attempts:  NewAttemptPostgreSQL(db),
		quizzes:   NewQuizPostgreSQL(db, cacheService, quizTTL, logger),
		questions: NewQuestionPostgreSQL(db),
		audit:     NewAuditPostgreSQL(db),
	}
}

func (r *Repository) Attempts() repositories.AttemptRepository   { return r.attempts }
func (r *Repository) Quizzes() repositories.QuizRepository       { return r.quizzes }
func (r *Repository) Questions() repositories.QuestionRepository { return r.questions }
func (r *Repository) Audit() repositories.AuditRepository        { return r.audit }

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates the tables and the index that allows one in-progress
// attempt per user and quiz.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(
		&models.Quiz{},
		&models.Question{},
		&models.Attempt{},
		&models.AuditLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := db.WithContext(ctx).Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_attempts_active_user_quiz
		 ON attempts (user_id, quiz_id) WHERE status = 'in_progress'`,
	).Error; err != nil {
		return fmt.Errorf("create active attempt index: %w", err)
	}
	return nil
}
