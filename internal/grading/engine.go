package grading

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

// Outcome is the result of grading one answered question.
type Outcome struct {
	Score       float64
	IsCorrect   bool
	IsPartial   bool
	NeedsManual bool
	Feedback    string
}

// Strategy grades a single answer of one question type. A returned error means
// the stored answer or the key could not be interpreted.
type Strategy interface {
	Grade(q *models.Question, answer json.RawMessage) (Outcome, error)
}

type Option func(*config)

type config struct {
	Epsilon float64
}

// WithEpsilon sets the numeric tolerance used when a question has none.
func WithEpsilon(eps float64) Option {
	return func(c *config) {
		if eps >= 0 {
			c.Epsilon = eps
		}
	}
}

// Engine routes each question to the strategy for its type.
type Engine struct {
	strategies map[models.QuestionType]Strategy
}

func NewEngine(opts ...Option) *Engine {
	cfg := &config{Epsilon: 1e-9}
	for _, o := range opts {
		o(cfg)
	}
	return &Engine{
		strategies: map[models.QuestionType]Strategy{
			models.SingleChoice: singleChoiceStrategy{},
			models.MultiChoice:  multiChoiceStrategy{},
			models.Numeric:      numericStrategy{epsilon: cfg.Epsilon},
			models.ShortAnswer:  shortAnswerStrategy{},
		},
	}
}

// GradeQuestion never fails: anomalies degrade to a zero score with feedback.
func (e *Engine) GradeQuestion(q *models.Question, answer json.RawMessage) Outcome {
	s, ok := e.strategies[q.Type]
	if !ok {
		return Outcome{Feedback: fmt.Sprintf("unsupported question type %q", q.Type)}
	}
	out, err := s.Grade(q, answer)
	if err != nil {
		return Outcome{Feedback: "answer could not be graded: " + err.Error()}
	}
	out.Score = clamp(roundScore(out.Score), 0, q.Marks)
	return out
}

// Grade scores every snapshot question in snapshot order and aggregates the totals.
func (e *Engine) Grade(
	snapshot []models.QuestionSnapshot,
	questions map[string]models.Question,
	answers map[string]models.AnswerEntry,
	passingMarks float64,
	gradedAt time.Time,
) *models.GradingResult {
	result := &models.GradingResult{
		Questions: make([]models.QuestionResult, 0, len(snapshot)),
		GradedAt:  gradedAt,
	}

	for _, snap := range snapshot {
		q, hasRecord := questions[snap.QuestionID]
		maxScore := snap.Marks
		if hasRecord {
			maxScore = q.Marks
		}

		qr := models.QuestionResult{
			QuestionID: snap.QuestionID,
			Type:       snap.Type,
			MaxScore:   maxScore,
		}

		entry, answered := answers[snap.QuestionID]
		if !answered || isEmptyAnswer(entry.Value) {
			result.Questions = append(result.Questions, qr)
			continue
		}

		qr.Answered = true
		qr.SubmittedAnswer = entry.Value

		if !hasRecord {
			qr.Feedback = "question record missing; scored 0"
			result.Questions = append(result.Questions, qr)
			continue
		}

		out := e.GradeQuestion(&q, json.RawMessage(entry.Value))
		qr.Score = out.Score
		qr.IsCorrect = out.IsCorrect
		qr.IsPartial = out.IsPartial
		qr.NeedsManualReview = out.NeedsManual
		qr.Feedback = out.Feedback
		result.Questions = append(result.Questions, qr)
	}

	Recompute(result, passingMarks)
	return result
}

// Recompute refreshes counts, the aggregate score and the pass flag from the
// per-question results. Every question lands in exactly one count.
func Recompute(result *models.GradingResult, passingMarks float64) {
	total, max := 0.0, 0.0
	var correct, partial, wrong, unanswered, pending int
	for _, q := range result.Questions {
		total += q.Score
		max += q.MaxScore
		switch {
		case !q.Answered:
			unanswered++
		case q.IsCorrect:
			correct++
		case q.IsPartial:
			partial++
		default:
			wrong++
		}
		if q.NeedsManualReview {
			pending++
		}
	}
	result.TotalScore = roundScore(total)
	result.MaxScore = roundScore(max)
	if result.TotalScore > result.MaxScore {
		result.TotalScore = result.MaxScore
	}
	result.CorrectCount = correct
	result.PartialCount = partial
	result.WrongCount = wrong
	result.UnansweredCount = unanswered
	result.PendingReviewCount = pending
	result.Passed = result.TotalScore >= passingMarks
}

// --- strategies ---

type singleChoiceStrategy struct{}

func (singleChoiceStrategy) Grade(q *models.Question, answer json.RawMessage) (Outcome, error) {
	if q.Key.ChoiceID == "" {
		return Outcome{}, errors.New("answer key has no choice")
	}
	var selected string
	if err := json.Unmarshal(answer, &selected); err != nil {
		return Outcome{}, errors.New("expected a single choice id")
	}
	if selected == q.Key.ChoiceID {
		return Outcome{Score: q.Marks, IsCorrect: true}, nil
	}
	return Outcome{}, nil
}

// multiChoiceStrategy awards marks * (hits - wrong selections) / |key|, so
// over-selection is penalised.
type multiChoiceStrategy struct{}

func (multiChoiceStrategy) Grade(q *models.Question, answer json.RawMessage) (Outcome, error) {
	key := toSet(q.Key.ChoiceIDs)
	if len(key) == 0 {
		return Outcome{}, errors.New("answer key has no choices")
	}
	var selected []string
	if err := json.Unmarshal(answer, &selected); err != nil {
		return Outcome{}, errors.New("expected a list of choice ids")
	}
	resp := toSet(selected)

	hits, wrong := 0, 0
	for id := range resp {
		if _, ok := key[id]; ok {
			hits++
		} else {
			wrong++
		}
	}

	if hits == len(key) && wrong == 0 {
		return Outcome{Score: q.Marks, IsCorrect: true}, nil
	}
	if hits == 0 {
		return Outcome{}, nil
	}

	score := clamp(q.Marks*float64(hits-wrong)/float64(len(key)), 0, q.Marks)
	if score == 0 {
		return Outcome{Feedback: "wrong selections cancel out the correct ones"}, nil
	}
	return Outcome{Score: score, IsPartial: true}, nil
}

type numericStrategy struct{ epsilon float64 }

func (s numericStrategy) Grade(q *models.Question, answer json.RawMessage) (Outcome, error) {
	if q.Key.Number == nil {
		return Outcome{}, errors.New("answer key has no number")
	}
	got, err := ParseNumber(answer)
	if err != nil {
		return Outcome{}, err
	}
	tol := s.epsilon
	if q.Tolerance != nil && *q.Tolerance >= 0 {
		tol = *q.Tolerance
	}
	if withinTolerance(got, *q.Key.Number, tol) {
		return Outcome{Score: q.Marks, IsCorrect: true}, nil
	}
	return Outcome{}, nil
}

type shortAnswerStrategy struct{}

func (shortAnswerStrategy) Grade(q *models.Question, answer json.RawMessage) (Outcome, error) {
	var text string
	if err := json.Unmarshal(answer, &text); err != nil {
		return Outcome{}, errors.New("expected text")
	}
	if q.Key.Text == nil || normalize(*q.Key.Text) == "" {
		return Outcome{NeedsManual: true, Feedback: "pending manual review"}, nil
	}
	if MatchText(text, *q.Key.Text) {
		return Outcome{Score: q.Marks, IsCorrect: true}, nil
	}
	return Outcome{}, nil
}

// --- helpers ---

func isEmptyAnswer(v []byte) bool {
	if len(v) == 0 {
		return true
	}
	s := string(v)
	return s == "null" || s == `""` || s == "[]"
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundScore(v float64) float64 {
	return math.Round(v*10000) / 10000
}
