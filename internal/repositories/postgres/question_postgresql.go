package postgres

import (
	"context"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuestionPostgreSQL struct {
	db *gorm.DB
}

func NewQuestionPostgreSQL(db *gorm.DB) repositories.QuestionRepository {
	return &QuestionPostgreSQL{db: db}
}

func (q *QuestionPostgreSQL) Create(ctx context.Context, question *models.Question) error {
	return q.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(question).Error
}

func (q *QuestionPostgreSQL) GetByIDs(ctx context.Context, ids []string) ([]models.Question, error) {
	if len(ids) == 0 {
		return []models.Question{}, nil
	}
	var questions []models.Question
	if err := q.db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (q *QuestionPostgreSQL) FindByFilter(ctx context.Context, filter models.PoolFilter) ([]models.Question, error) {
	query := q.db.WithContext(ctx).Where("is_active = ?", true)

	if filter.Subject != "" {
		query = query.Where("LOWER(subject) = LOWER(?)", filter.Subject)
	}
	if len(filter.Difficulty) > 0 {
		query = query.Where("difficulty IN ?", filter.Difficulty)
	}

	var questions []models.Question
	if err := query.Order("id ASC").Find(&questions).Error; err != nil {
		return nil, err
	}

	// Tag containment is case-insensitive, which jsonb operators do not give us.
	if len(filter.Tags) == 0 {
		return questions, nil
	}
	filtered := questions[:0]
	for _, question := range questions {
		keep := true
		for _, tag := range filter.Tags {
			if !question.HasTag(tag) {
				keep = false
				break
			}
		}
		if keep {
			filtered = append(filtered, question)
		}
	}
	return filtered, nil
}
