package postgres

import (
	"context"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"gorm.io/gorm"
)

type AuditPostgreSQL struct {
	db *gorm.DB
}

func NewAuditPostgreSQL(db *gorm.DB) repositories.AuditRepository {
	return &AuditPostgreSQL{db: db}
}

func (a *AuditPostgreSQL) Append(ctx context.Context, logs ...*models.AuditLog) error {
	if len(logs) == 0 {
		return nil
	}
	return a.db.WithContext(ctx).CreateInBatches(logs, 100).Error
}

func (a *AuditPostgreSQL) ListByAttempt(ctx context.Context, attemptID string, limit, offset int) ([]*models.AuditLog, int64, error) {
	query := a.db.WithContext(ctx).Model(&models.AuditLog{}).Where("attempt_id = ?", attemptID)
	return a.page(query, limit, offset, "created_at ASC, id ASC")
}

func (a *AuditPostgreSQL) ListSuspicious(ctx context.Context, filters repositories.AuditFilters) ([]*models.AuditLog, int64, error) {
	severities := []models.Severity{models.SeverityMedium, models.SeverityHigh}
	if filters.MinSeverity == models.SeverityHigh {
		severities = []models.Severity{models.SeverityHigh}
	} else if filters.MinSeverity == models.SeverityLow {
		severities = append(severities, models.SeverityLow)
	}

	query := a.db.WithContext(ctx).Model(&models.AuditLog{}).Where("severity IN ?", severities)
	if filters.QuizID != "" {
		query = query.Where("quiz_id = ?", filters.QuizID)
	}
	if filters.Source != "" {
		query = query.Where("source = ?", filters.Source)
	}
	return a.page(query, filters.Limit, filters.Offset, "created_at DESC, id DESC")
}

func (a *AuditPostgreSQL) page(query *gorm.DB, limit, offset int, order string) ([]*models.AuditLog, int64, error) {
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var logs []*models.AuditLog
	if err := query.Order(order).
		Limit(repositories.NormalizeLimit(limit)).
		Offset(offset).
		Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
