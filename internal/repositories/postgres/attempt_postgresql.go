package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttemptPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{db: db}
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, attempt *models.Attempt) error {
	if err := a.db.WithContext(ctx).Create(attempt).Error; err != nil {
		// The partial unique index on in-progress attempts surfaces here.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return repositories.ErrDuplicateActiveAttempt
		}
		return err
	}
	return nil
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, id string) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).Where("id = ?", id).First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

// Update locks the row, runs mutate and writes back fenced on the version it read.
func (a *AttemptPostgreSQL) Update(ctx context.Context, id string, mutate func(*models.Attempt) error) (*models.Attempt, error) {
	var result *models.Attempt

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Attempt
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repositories.ErrNotFound
			}
			return err
		}

		readVersion := current.Version
		if err := mutate(&current); err != nil {
			if errors.Is(err, repositories.ErrSkipUpdate) {
				var untouched models.Attempt
				if err := tx.Where("id = ?", id).First(&untouched).Error; err != nil {
					return err
				}
				result = &untouched
				return nil
			}
			return err
		}

		current.ID = id
		current.Version = readVersion + 1
		res := tx.Model(&current).
			Where("version = ?", readVersion).
			Select("*").
			Omit("id", "created_at").
			Updates(&current)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repositories.ErrConcurrentUpdate
		}

		result = &current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *AttemptPostgreSQL) FindActive(ctx context.Context, userID, quizID string) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).
		Where("user_id = ? AND quiz_id = ? AND status = ?", userID, quizID, models.AttemptInProgress).
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) CountByUserAndQuiz(ctx context.Context, userID, quizID string) (int64, error) {
	var count int64
	err := a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("user_id = ? AND quiz_id = ?", userID, quizID).
		Count(&count).Error
	return count, err
}

func (a *AttemptPostgreSQL) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Attempt, error) {
	var attempts []*models.Attempt
	query := a.db.WithContext(ctx).
		Where("status = ? AND deadline_at <= ?", models.AttemptInProgress, now).
		Order("deadline_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) ListByQuiz(ctx context.Context, quizID string, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	query := a.db.WithContext(ctx).Model(&models.Attempt{}).Where("quiz_id = ?", quizID)
	return a.list(query, filters)
}

func (a *AttemptPostgreSQL) ListByUser(ctx context.Context, userID, quizID string, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	query := a.db.WithContext(ctx).Model(&models.Attempt{}).Where("user_id = ?", userID)
	if quizID != "" {
		query = query.Where("quiz_id = ?", quizID)
	}
	return a.list(query, filters)
}

func (a *AttemptPostgreSQL) list(query *gorm.DB, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	var attempts []*models.Attempt
	var total int64

	// apply filter first
	query = a.applyFiltersAttempt(query, filters)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// then apply pagination and sorting
	query = a.applyPaginationAndSortAttempt(query, filters)
	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

func (a *AttemptPostgreSQL) Stats(ctx context.Context, quizID string) (*repositories.AttemptStats, error) {
	stats := &repositories.AttemptStats{StatusBreakdown: make(map[models.AttemptStatus]int)}

	// Status Breakdown
	var rows []struct {
		Status  models.AttemptStatus
		Count   int
		Flagged int
	}
	if err := a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Select("status, COUNT(*) AS count, COUNT(*) FILTER (WHERE is_flagged) AS flagged").
		Where("quiz_id = ?", quizID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.StatusBreakdown[r.Status] = r.Count
		stats.TotalAttempts += r.Count
		stats.FlaggedAttempts += r.Flagged
		if r.Status == models.AttemptInProgress {
			stats.InProgress = r.Count
		}
	}
	stats.Completed = stats.TotalAttempts - stats.InProgress
	if stats.Completed == 0 {
		return stats, nil
	}

	// Score aggregates over finished attempts
	var agg struct {
		AverageScore     float64
		HighestScore     float64
		LowestScore      float64
		AverageTimeSpent float64
		PassedCount      int
	}
	if err := a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Select(`COALESCE(AVG(total_score), 0) AS average_score,
			COALESCE(MAX(total_score), 0) AS highest_score,
			COALESCE(MIN(total_score), 0) AS lowest_score,
			COALESCE(AVG(time_spent_seconds), 0) AS average_time_spent,
			COUNT(*) FILTER (WHERE passed) AS passed_count`).
		Where("quiz_id = ? AND status <> ?", quizID, models.AttemptInProgress).
		Scan(&agg).Error; err != nil {
		return nil, err
	}

	stats.AverageScore = agg.AverageScore
	stats.HighestScore = agg.HighestScore
	stats.LowestScore = agg.LowestScore
	stats.AverageTimeSpent = int(agg.AverageTimeSpent)
	stats.PassRate = float64(agg.PassedCount) / float64(stats.Completed) * 100
	return stats, nil
}

// applyFiltersAttempt applies common filters to a query
func (a *AttemptPostgreSQL) applyFiltersAttempt(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.Flagged != nil {
		query = query.Where("is_flagged = ?", *filters.Flagged)
	}
	return query
}

// applyPaginationAndSortAttempt applies pagination and sorting to a query
func (a *AttemptPostgreSQL) applyPaginationAndSortAttempt(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	order := "start_time DESC"
	if filters.SortOrder == "asc" {
		order = "start_time ASC"
	}
	return query.Order(order).
		Limit(repositories.NormalizeLimit(filters.Limit)).
		Offset(filters.Offset)
}
