// Package memory holds process-local stores used by tests and by
// STORE_DRIVER=memory deployments.
package memory

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
)

type Store struct {
	mu        sync.RWMutex
	attempts  map[string]*models.Attempt
	quizzes   map[string]*models.Quiz
	questions map[string]*models.Question
	audit     []*models.AuditLog
	auditSeq  uint
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		attempts:  make(map[string]*models.Attempt),
		quizzes:   make(map[string]*models.Quiz),
		questions: make(map[string]*models.Question),
		now:       time.Now,
	}
}

func (s *Store) Attempts() repositories.AttemptRepository   { return &attemptStore{s} }
func (s *Store) Quizzes() repositories.QuizRepository       { return &quizStore{s} }
func (s *Store) Questions() repositories.QuestionRepository { return &questionStore{s} }
func (s *Store) Audit() repositories.AuditRepository        { return &auditStore{s} }

func (s *Store) Ping(context.Context) error { return nil }

// clone deep-copies through gob so callers never share maps or slices with the store.
func clone[T any](v *T) *T {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic("memory store clone: " + err.Error())
	}
	out := new(T)
	if err := gob.NewDecoder(&buf).Decode(out); err != nil {
		panic("memory store clone: " + err.Error())
	}
	return out
}

// ===== ATTEMPTS =====

// cloneAttempt restores the empty maps gob drops on the way through.
func cloneAttempt(a *models.Attempt) *models.Attempt {
	out := clone(a)
	if out.Answers == nil {
		out.Answers = make(map[string]models.AnswerEntry)
	}
	if out.Questions == nil {
		out.Questions = make(map[string]models.Question)
	}
	return out
}

type attemptStore struct{ s *Store }

func (r *attemptStore) Create(_ context.Context, attempt *models.Attempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.attempts[attempt.ID]; exists {
		return repositories.ErrDuplicateActiveAttempt
	}
	if attempt.Status == models.AttemptInProgress {
		for _, a := range r.s.attempts {
			if a.UserID == attempt.UserID && a.QuizID == attempt.QuizID && a.Status == models.AttemptInProgress {
				return repositories.ErrDuplicateActiveAttempt
			}
		}
	}

	now := r.s.now()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	r.s.attempts[attempt.ID] = cloneAttempt(attempt)
	return nil
}

func (r *attemptStore) GetByID(_ context.Context, id string) (*models.Attempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneAttempt(a), nil
}

func (r *attemptStore) Update(ctx context.Context, id string, mutate func(*models.Attempt) error) (*models.Attempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}

	working := cloneAttempt(stored)
	if err := mutate(working); err != nil {
		if errors.Is(err, repositories.ErrSkipUpdate) {
			return cloneAttempt(stored), nil
		}
		return nil, err
	}

	working.ID = stored.ID
	working.Version = stored.Version + 1
	working.CreatedAt = stored.CreatedAt
	working.UpdatedAt = r.s.now()
	r.s.attempts[id] = cloneAttempt(working)
	return working, nil
}

func (r *attemptStore) FindActive(_ context.Context, userID, quizID string) (*models.Attempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.attempts {
		if a.UserID == userID && a.QuizID == quizID && a.Status == models.AttemptInProgress {
			return cloneAttempt(a), nil
		}
	}
	return nil, nil
}

func (r *attemptStore) CountByUserAndQuiz(_ context.Context, userID, quizID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, a := range r.s.attempts {
		if a.UserID == userID && a.QuizID == quizID {
			n++
		}
	}
	return n, nil
}

func (r *attemptStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]*models.Attempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Attempt
	for _, a := range r.s.attempts {
		if a.Status == models.AttemptInProgress && !a.DeadlineAt.After(now) {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeadlineAt.Before(out[j].DeadlineAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *attemptStore) ListByQuiz(_ context.Context, quizID string, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	return r.list(func(a *models.Attempt) bool { return a.QuizID == quizID }, filters)
}

func (r *attemptStore) ListByUser(_ context.Context, userID, quizID string, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	return r.list(func(a *models.Attempt) bool {
		return a.UserID == userID && (quizID == "" || a.QuizID == quizID)
	}, filters)
}

func (r *attemptStore) list(match func(*models.Attempt) bool, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Attempt
	for _, a := range r.s.attempts {
		if !match(a) {
			continue
		}
		if filters.Status != nil && a.Status != *filters.Status {
			continue
		}
		if filters.Flagged != nil && a.IsFlagged != *filters.Flagged {
			continue
		}
		out = append(out, a)
	}

	asc := strings.EqualFold(filters.SortOrder, "asc")
	sort.Slice(out, func(i, j int) bool {
		if asc {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].StartTime.After(out[j].StartTime)
	})

	total := int64(len(out))
	limit := repositories.NormalizeLimit(filters.Limit)
	if filters.Offset >= len(out) {
		return []*models.Attempt{}, total, nil
	}
	out = out[filters.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}

	page := make([]*models.Attempt, len(out))
	for i, a := range out {
		page[i] = cloneAttempt(a)
	}
	return page, total, nil
}

func (r *attemptStore) Stats(_ context.Context, quizID string) (*repositories.AttemptStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &repositories.AttemptStats{StatusBreakdown: make(map[models.AttemptStatus]int)}
	var scoreSum float64
	var timeSum, passed int
	first := true

	for _, a := range r.s.attempts {
		if a.QuizID != quizID {
			continue
		}
		stats.TotalAttempts++
		stats.StatusBreakdown[a.Status]++
		if a.IsFlagged {
			stats.FlaggedAttempts++
		}
		if a.Status == models.AttemptInProgress {
			stats.InProgress++
			continue
		}
		stats.Completed++
		scoreSum += a.TotalScore
		timeSum += a.TimeSpentSeconds
		if a.Passed {
			passed++
		}
		if first || a.TotalScore > stats.HighestScore {
			stats.HighestScore = a.TotalScore
		}
		if first || a.TotalScore < stats.LowestScore {
			stats.LowestScore = a.TotalScore
		}
		first = false
	}

	if stats.Completed > 0 {
		stats.AverageScore = scoreSum / float64(stats.Completed)
		stats.AverageTimeSpent = timeSum / stats.Completed
		stats.PassRate = float64(passed) / float64(stats.Completed) * 100
	}
	return stats, nil
}

// ===== QUIZZES & QUESTIONS =====

type quizStore struct{ s *Store }

func (r *quizStore) Create(_ context.Context, quiz *models.Quiz) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.quizzes[quiz.ID] = clone(quiz)
	return nil
}

func (r *quizStore) GetByID(_ context.Context, id string) (*models.Quiz, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	q, ok := r.s.quizzes[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return clone(q), nil
}

type questionStore struct{ s *Store }

func (r *questionStore) Create(_ context.Context, question *models.Question) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.questions[question.ID] = clone(question)
	return nil
}

func (r *questionStore) GetByIDs(_ context.Context, ids []string) ([]models.Question, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]models.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := r.s.questions[id]; ok {
			out = append(out, *clone(q))
		}
	}
	return out, nil
}

func (r *questionStore) FindByFilter(_ context.Context, filter models.PoolFilter) ([]models.Question, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []models.Question
	for _, q := range r.s.questions {
		if !q.IsActive {
			continue
		}
		if filter.Subject != "" && !strings.EqualFold(q.Subject, filter.Subject) {
			continue
		}
		if len(filter.Difficulty) > 0 && !containsDifficulty(filter.Difficulty, q.Difficulty) {
			continue
		}
		if !hasAllTags(q, filter.Tags) {
			continue
		}
		out = append(out, *clone(q))
	}
	return out, nil
}

func containsDifficulty(list []models.Difficulty, d models.Difficulty) bool {
	for _, x := range list {
		if x == d {
			return true
		}
	}
	return false
}

func hasAllTags(q *models.Question, tags []string) bool {
	for _, t := range tags {
		if !q.HasTag(t) {
			return false
		}
	}
	return true
}

// ===== AUDIT =====

type auditStore struct{ s *Store }

func (r *auditStore) Append(_ context.Context, logs ...*models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, l := range logs {
		r.s.auditSeq++
		l.ID = r.s.auditSeq
		if l.CreatedAt.IsZero() {
			l.CreatedAt = r.s.now()
		}
		r.s.audit = append(r.s.audit, clone(l))
	}
	return nil
}

func (r *auditStore) ListByAttempt(_ context.Context, attemptID string, limit, offset int) ([]*models.AuditLog, int64, error) {
	return r.page(func(l *models.AuditLog) bool { return l.AttemptID == attemptID }, limit, offset)
}

func (r *auditStore) ListSuspicious(_ context.Context, filters repositories.AuditFilters) ([]*models.AuditLog, int64, error) {
	minRank := filters.MinSeverity.Rank()
	if minRank == 0 {
		minRank = models.SeverityMedium.Rank()
	}
	return r.page(func(l *models.AuditLog) bool {
		if filters.QuizID != "" && l.QuizID != filters.QuizID {
			return false
		}
		if filters.Source != "" && l.Source != filters.Source {
			return false
		}
		return l.Severity != nil && l.Severity.Rank() >= minRank
	}, filters.Limit, filters.Offset)
}

func (r *auditStore) page(match func(*models.AuditLog) bool, limit, offset int) ([]*models.AuditLog, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []*models.AuditLog
	for _, l := range r.s.audit {
		if match(l) {
			matched = append(matched, l)
		}
	}
	total := int64(len(matched))
	limit = repositories.NormalizeLimit(limit)
	if offset >= len(matched) {
		return []*models.AuditLog{}, total, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*models.AuditLog, len(matched))
	for i, l := range matched {
		out[i] = clone(l)
	}
	return out, total, nil
}
