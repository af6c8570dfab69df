package services

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand/v2"
	"sort"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
)

// SnapshotResult is what an attempt captures at start: the presentation order
// plus private copies of the question records used for grading.
type SnapshotResult struct {
	Seed      int64
	Snapshot  []models.QuestionSnapshot
	Questions map[string]models.Question
}

type SnapshotBuilder struct {
	questions repositories.QuestionRepository
}

func NewSnapshotBuilder(questions repositories.QuestionRepository) *SnapshotBuilder {
	return &SnapshotBuilder{questions: questions}
}

// NewSeed draws an unguessable per-attempt seed.
func NewSeed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return int64(binary.LittleEndian.Uint64(b[:]) &^ (1 << 63))
}

func rngFor(seed int64) *mrand.Rand {
	return mrand.New(mrand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// Build selects and orders the questions for one attempt. The same quiz,
// bank and seed always produce the same result.
func (b *SnapshotBuilder) Build(ctx context.Context, quiz *models.Quiz, seed int64) (*SnapshotResult, error) {
	rng := rngFor(seed)

	var selected []models.Question
	var err error
	switch quiz.QuestionMode {
	case models.ModePoolRandom:
		selected, err = b.selectFromPool(ctx, quiz, rng)
	case models.ModeFixedList, "":
		selected, err = b.resolveFixedList(ctx, quiz, rng)
	default:
		return nil, &ConfigurationError{QuizID: quiz.ID, Reason: fmt.Sprintf("unknown question mode %q", quiz.QuestionMode)}
	}
	if err != nil {
		return nil, err
	}

	result := &SnapshotResult{
		Seed:      seed,
		Snapshot:  make([]models.QuestionSnapshot, 0, len(selected)),
		Questions: make(map[string]models.Question, len(selected)),
	}
	for i, q := range selected {
		choices := append([]models.Choice(nil), q.Choices...)
		if quiz.ShuffleChoices && (q.Type == models.SingleChoice || q.Type == models.MultiChoice) {
			rng.Shuffle(len(choices), func(i, j int) { choices[i], choices[j] = choices[j], choices[i] })
		}
		result.Snapshot = append(result.Snapshot, models.QuestionSnapshot{
			QuestionID: q.ID,
			Position:   i + 1,
			Type:       q.Type,
			Prompt:     q.Prompt,
			Choices:    choices,
			Marks:      q.Marks,
		})
		result.Questions[q.ID] = q
	}
	return result, nil
}

func (b *SnapshotBuilder) resolveFixedList(ctx context.Context, quiz *models.Quiz, rng *mrand.Rand) ([]models.Question, error) {
	if len(quiz.QuestionIDs) == 0 {
		return nil, &ConfigurationError{QuizID: quiz.ID, Reason: "quiz has no questions"}
	}

	seen := make(map[string]bool, len(quiz.QuestionIDs))
	var dupes []string
	for _, id := range quiz.QuestionIDs {
		if seen[id] {
			dupes = append(dupes, id)
		}
		seen[id] = true
	}
	if len(dupes) > 0 {
		return nil, &ConfigurationError{QuizID: quiz.ID, Reason: "question listed more than once", QuestionIDs: dupes}
	}

	found, err := b.questions.GetByIDs(ctx, quiz.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load quiz questions: %w", err)
	}
	byID := make(map[string]models.Question, len(found))
	for _, q := range found {
		byID[q.ID] = q
	}

	selected := make([]models.Question, 0, len(quiz.QuestionIDs))
	var missing []string
	for _, id := range quiz.QuestionIDs {
		q, ok := byID[id]
		if !ok || !q.IsActive {
			missing = append(missing, id)
			continue
		}
		if err := checkGradable(&q); err != nil {
			return nil, &ConfigurationError{QuizID: quiz.ID, Reason: err.Error(), QuestionIDs: []string{id}}
		}
		selected = append(selected, q)
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{QuizID: quiz.ID, Reason: "questions missing or inactive", QuestionIDs: missing}
	}

	if quiz.ShuffleQuestions {
		rng.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
	}
	return selected, nil
}

func (b *SnapshotBuilder) selectFromPool(ctx context.Context, quiz *models.Quiz, rng *mrand.Rand) ([]models.Question, error) {
	filter := quiz.PoolFilter
	if filter == nil || filter.Count <= 0 {
		return nil, &ConfigurationError{QuizID: quiz.ID, Reason: "pool filter must request at least one question"}
	}

	candidates, err := b.questions.FindByFilter(ctx, *filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query question pool: %w", err)
	}
	usable := candidates[:0]
	for _, q := range candidates {
		if q.IsActive && checkGradable(&q) == nil {
			usable = append(usable, q)
		}
	}
	if len(usable) < filter.Count {
		return nil, &InsufficientPoolError{QuizID: quiz.ID, Requested: filter.Count, Available: len(usable)}
	}

	// Sort first so the seed alone decides the sample.
	sort.Slice(usable, func(i, j int) bool { return usable[i].ID < usable[j].ID })
	rng.Shuffle(len(usable), func(i, j int) { usable[i], usable[j] = usable[j], usable[i] })
	selected := append([]models.Question(nil), usable[:filter.Count]...)

	if !quiz.ShuffleQuestions {
		sort.Slice(selected, func(i, j int) bool { return selected[i].ID < selected[j].ID })
	}
	return selected, nil
}

// checkGradable rejects question records the grading engine could never score.
func checkGradable(q *models.Question) error {
	if q.Marks <= 0 {
		return fmt.Errorf("question %s has non-positive marks", q.ID)
	}
	switch q.Type {
	case models.SingleChoice:
		if !q.HasChoice(q.Key.ChoiceID) {
			return fmt.Errorf("question %s key is not one of its choices", q.ID)
		}
	case models.MultiChoice:
		if len(q.Key.ChoiceIDs) == 0 {
			return fmt.Errorf("question %s has an empty key", q.ID)
		}
		for _, id := range q.Key.ChoiceIDs {
			if !q.HasChoice(id) {
				return fmt.Errorf("question %s key is not one of its choices", q.ID)
			}
		}
	case models.Numeric:
		if q.Key.Number == nil {
			return fmt.Errorf("question %s has no numeric key", q.ID)
		}
	case models.ShortAnswer:
	default:
		return fmt.Errorf("question %s has unsupported type %q", q.ID, q.Type)
	}
	return nil
}
