package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

// Fixtures is the on-disk seed format for quizzes and questions.
type Fixtures struct {
	Quizzes   []models.Quiz     `json:"quizzes"`
	Questions []models.Question `json:"questions"`
}

func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var fx Fixtures
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return &fx, nil
}

func Seed(ctx context.Context, repo Repository, fx *Fixtures) error {
	for i := range fx.Questions {
		if err := repo.Questions().Create(ctx, &fx.Questions[i]); err != nil {
			return fmt.Errorf("seed question %s: %w", fx.Questions[i].ID, err)
		}
	}
	for i := range fx.Quizzes {
		if err := repo.Quizzes().Create(ctx, &fx.Quizzes[i]); err != nil {
			return fmt.Errorf("seed quiz %s: %w", fx.Quizzes[i].ID, err)
		}
	}
	return nil
}
