package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/cache"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuizPostgreSQL struct {
	db     *gorm.DB
	cache  cache.CacheService
	ttl    time.Duration
	logger *slog.Logger
}

// NewQuizPostgreSQL reads quizzes through the cache when one is given.
func NewQuizPostgreSQL(db *gorm.DB, cacheService cache.CacheService, ttl time.Duration, logger *slog.Logger) repositories.QuizRepository {
	return &QuizPostgreSQL{db: db, cache: cacheService, ttl: ttl, logger: logger}
}

func quizCacheKey(id string) string {
	return "quiz:" + id
}

func (q *QuizPostgreSQL) Create(ctx context.Context, quiz *models.Quiz) error {
	if err := q.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(quiz).Error; err != nil {
		return err
	}
	if q.cache != nil {
		_ = q.cache.Delete(ctx, quizCacheKey(quiz.ID))
	}
	return nil
}

func (q *QuizPostgreSQL) GetByID(ctx context.Context, id string) (*models.Quiz, error) {
	var quiz models.Quiz
	if q.cache != nil {
		err := q.cache.Get(ctx, quizCacheKey(id), &quiz)
		if err == nil {
			return &quiz, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			q.logger.WarnContext(ctx, "quiz cache unavailable, reading through", "quiz_id", id, "error", err)
		}
	}

	if err := q.db.WithContext(ctx).Where("id = ?", id).First(&quiz).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}

	if q.cache != nil {
		if err := q.cache.Set(ctx, quizCacheKey(id), &quiz, q.ttl); err != nil {
			q.logger.WarnContext(ctx, "failed to cache quiz", "quiz_id", id, "error", err)
		}
	}
	return &quiz, nil
}
