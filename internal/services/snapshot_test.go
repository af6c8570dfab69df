package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories/memory"
)

func seededBank(t *testing.T, n int) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	for i := 1; i <= n; i++ {
		q := singleChoiceQuestion(fmt.Sprintf("q%02d", i), "A", 1)
		q.Difficulty = models.DifficultyEasy
		require.NoError(t, store.Questions().Create(context.Background(), &q))
	}
	return store
}

func TestSnapshotBuilder_Build(t *testing.T) {
	ctx := context.Background()

	t.Run("fixed list keeps order without shuffle", func(t *testing.T) {
		store := seededBank(t, 3)
		quiz := &models.Quiz{ID: "quiz", QuestionMode: models.ModeFixedList, QuestionIDs: []string{"q03", "q01", "q02"}}

		res, err := NewSnapshotBuilder(store.Questions()).Build(ctx, quiz, 42)
		require.NoError(t, err)
		require.Len(t, res.Snapshot, 3)
		assert.Equal(t, "q03", res.Snapshot[0].QuestionID)
		assert.Equal(t, 1, res.Snapshot[0].Position)
		assert.Len(t, res.Questions, 3)
	})

	t.Run("same seed same order", func(t *testing.T) {
		store := seededBank(t, 10)
		quiz := &models.Quiz{
			ID:               "quiz",
			QuestionMode:     models.ModePoolRandom,
			PoolFilter:       &models.PoolFilter{Subject: "general", Count: 5},
			ShuffleQuestions: true,
			ShuffleChoices:   true,
		}
		builder := NewSnapshotBuilder(store.Questions())

		first, err := builder.Build(ctx, quiz, 7)
		require.NoError(t, err)
		second, err := builder.Build(ctx, quiz, 7)
		require.NoError(t, err)
		assert.Equal(t, first.Snapshot, second.Snapshot)

		other, err := builder.Build(ctx, quiz, 8)
		require.NoError(t, err)
		assert.Len(t, other.Snapshot, 5)
	})

	t.Run("snapshot never carries keys", func(t *testing.T) {
		store := seededBank(t, 1)
		quiz := &models.Quiz{ID: "quiz", QuestionIDs: []string{"q01"}}

		res, err := NewSnapshotBuilder(store.Questions()).Build(ctx, quiz, 1)
		require.NoError(t, err)
		b, err := json.Marshal(res.Snapshot)
		require.NoError(t, err)
		assert.NotContains(t, string(b), "correct_answer")
	})

	t.Run("pool too small", func(t *testing.T) {
		store := seededBank(t, 2)
		quiz := &models.Quiz{ID: "quiz", QuestionMode: models.ModePoolRandom, PoolFilter: &models.PoolFilter{Subject: "general", Count: 3}}

		_, err := NewSnapshotBuilder(store.Questions()).Build(ctx, quiz, 1)
		var ipe *InsufficientPoolError
		require.True(t, errors.As(err, &ipe))
		assert.Equal(t, 2, ipe.Available)
	})

	t.Run("configuration errors", func(t *testing.T) {
		store := seededBank(t, 2)
		broken := singleChoiceQuestion("bad", "Z", 1)
		require.NoError(t, store.Questions().Create(ctx, &broken))
		builder := NewSnapshotBuilder(store.Questions())

		tests := []struct {
			name string
			quiz *models.Quiz
		}{
			{"empty list", &models.Quiz{ID: "quiz"}},
			{"duplicate id", &models.Quiz{ID: "quiz", QuestionIDs: []string{"q01", "q01"}}},
			{"missing question", &models.Quiz{ID: "quiz", QuestionIDs: []string{"q01", "nope"}}},
			{"key not a choice", &models.Quiz{ID: "quiz", QuestionIDs: []string{"bad"}}},
			{"unknown mode", &models.Quiz{ID: "quiz", QuestionMode: "adaptive"}},
			{"pool without count", &models.Quiz{ID: "quiz", QuestionMode: models.ModePoolRandom}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := builder.Build(ctx, tt.quiz, 1)
				assert.True(t, IsConfiguration(err), "got %v", err)
			})
		}
	})
}

func TestAnswerIngestor_Merge(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	newAttempt := func() *models.Attempt {
		return &models.Attempt{Snapshot: []models.QuestionSnapshot{
			{QuestionID: "s", Type: models.SingleChoice, Choices: []models.Choice{{ID: "A"}, {ID: "B"}}},
			{QuestionID: "m", Type: models.MultiChoice, Choices: []models.Choice{{ID: "A"}, {ID: "B"}, {ID: "C"}}},
			{QuestionID: "n", Type: models.Numeric},
			{QuestionID: "t", Type: models.ShortAnswer},
		}}
	}
	in := func(id, raw string) AnswerInput {
		return AnswerInput{QuestionID: id, Answer: json.RawMessage(raw)}
	}

	t.Run("canonical forms", func(t *testing.T) {
		a := newAttempt()
		res := NewAnswerIngestor(0).Merge(a, []AnswerInput{
			in("s", `"B"`),
			in("m", `["C","A","C"]`),
			in("n", `" 2.50 "`),
			in("t", `"some text"`),
		}, now)
		assert.Equal(t, 4, res.Applied)
		assert.JSONEq(t, `["A","C"]`, string(a.Answers["m"].Value))
		assert.JSONEq(t, `2.5`, string(a.Answers["n"].Value))
		assert.Equal(t, now, a.Answers["s"].SavedAt)
	})

	t.Run("null clears", func(t *testing.T) {
		a := newAttempt()
		ing := NewAnswerIngestor(0)
		ing.Merge(a, []AnswerInput{in("s", `"A"`)}, now)
		res := ing.Merge(a, []AnswerInput{in("s", `null`), in("m", `[]`)}, now)
		assert.Equal(t, 1, res.Cleared)
		assert.Equal(t, 1, res.Unchanged)
		assert.Empty(t, a.Answers)
	})

	t.Run("rejects per entry", func(t *testing.T) {
		a := newAttempt()
		res := NewAnswerIngestor(5).Merge(a, []AnswerInput{
			in("s", `["A"]`),
			in("m", `["Z"]`),
			in("n", `"abc"`),
			in("t", `"far too long"`),
			in("s", `"A"`),
		}, now)
		assert.Len(t, res.Rejected, 4)
		assert.Equal(t, 1, res.Applied)
	})

	t.Run("last arrival wins", func(t *testing.T) {
		a := newAttempt()
		res := NewAnswerIngestor(0).Merge(a, []AnswerInput{in("s", `"A"`), in("s", `"B"`)}, now)
		assert.Equal(t, 2, res.Applied)
		assert.JSONEq(t, `"B"`, string(a.Answers["s"].Value))
	})
}
