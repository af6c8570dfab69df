package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/cache"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/config"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/events"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/grading"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/validator"
)

type attemptService struct {
	repo      repositories.Repository
	snapshots *SnapshotBuilder
	grader    *grading.Engine
	ingestor  *AnswerIngestor
	locker    cache.Locker
	publisher events.EventPublisher
	validator *validator.Validator
	clock     Clock
	cfg       config.AttemptConfig
	logger    *slog.Logger
	opLog     *ServiceLogger
}

func NewAttemptService(
	repo repositories.Repository,
	locker cache.Locker,
	publisher events.EventPublisher,
	validator *validator.Validator,
	clock Clock,
	cfg config.AttemptConfig,
	logger *slog.Logger,
) AttemptService {
	if clock == nil {
		clock = SystemClock()
	}
	return &attemptService{
		repo:      repo,
		snapshots: NewSnapshotBuilder(repo.Questions()),
		grader:    grading.NewEngine(grading.WithEpsilon(cfg.NumericEpsilon)),
		ingestor:  NewAnswerIngestor(cfg.ShortAnswerMaxLength),
		locker:    locker,
		publisher: publisher,
		validator: validator,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		opLog:     NewServiceLogger(logger, LogConfig{Service: "quiz-attempt-service", Component: "attempt"}),
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

func (s *attemptService) Start(ctx context.Context, quizID string, user models.Identity, clientIP string) (result *StartResult, err error) {
	op := s.opLog.WithOperation(ctx, "start_attempt", user.UserID)
	defer func() {
		resourceID := quizID
		if result != nil {
			resourceID = result.Attempt.ID
		}
		op.LogResult(resourceID, "attempt", err)
	}()

	if quizID == "" {
		return nil, NewValidationError("quiz_id", "is required", quizID)
	}

	quiz, err := s.repo.Quizzes().GetByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	now := s.clock.Now()
	if !quiz.IsOpen(now) {
		return nil, &QuizNotAvailableError{QuizID: quiz.ID, Reason: availabilityReason(quiz, now)}
	}

	// Serialise concurrent starts for the same user and quiz.
	release, err := s.locker.Acquire(ctx, fmt.Sprintf("attempt-start:%s:%s", user.UserID, quizID), s.cfg.LockTTL, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: another start is in progress", ErrConflict)
		}
		return nil, fmt.Errorf("failed to acquire start lock: %w", err)
	}
	defer release()

	active, err := s.repo.Attempts().FindActive(ctx, user.UserID, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active attempt: %w", err)
	}
	if active != nil {
		if !IsExpired(active, now) {
			s.logger.Info("Resuming existing attempt", "attempt_id", active.ID, "user_id", user.UserID)
			return &StartResult{Attempt: s.buildAttemptView(active, now), Resumed: true}, nil
		}
		if _, _, err := s.forceSubmit(ctx, active.ID, models.TriggerDeadline); err != nil {
			return nil, fmt.Errorf("failed to time out expired attempt: %w", err)
		}
	}

	count, err := s.repo.Attempts().CountByUserAndQuiz(ctx, user.UserID, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	if int(count) >= quiz.MaxAttempts() {
		return nil, fmt.Errorf("%w: %d of %d attempts used", ErrAttemptsExhausted, count, quiz.MaxAttempts())
	}

	if quiz.DurationMinutes <= 0 {
		return nil, &ConfigurationError{QuizID: quiz.ID, Reason: "duration must be positive"}
	}

	snap, err := s.snapshots.Build(ctx, quiz, NewSeed())
	if err != nil {
		return nil, err
	}

	attempt := &models.Attempt{
		ID:            uuid.NewString(),
		QuizID:        quiz.ID,
		UserID:        user.UserID,
		AttemptNumber: int(count) + 1,
		Status:        models.AttemptInProgress,
		Seed:          snap.Seed,
		Snapshot:      snap.Snapshot,
		Questions:     snap.Questions,
		Settings:      s.settingsFor(quiz),
		StartTime:     now,
		DeadlineAt:    DeadlineFor(now, quiz.DurationMinutes),
		Answers:       make(map[string]models.AnswerEntry),
	}
	if clientIP != "" {
		if _, err := ApplySignal(attempt, Signal{Type: models.SignalIPObserved, IP: clientIP}, now); err != nil {
			return nil, err
		}
	}

	err = s.withRetry(ctx, "create_attempt", func() error {
		return s.repo.Attempts().Create(ctx, attempt)
	})
	if errors.Is(err, repositories.ErrDuplicateActiveAttempt) {
		// Another instance won the race; hand back its attempt.
		existing, findErr := s.repo.Attempts().FindActive(ctx, user.UserID, quizID)
		if findErr != nil || existing == nil {
			return nil, fmt.Errorf("%w: concurrent start", ErrConflict)
		}
		return &StartResult{Attempt: s.buildAttemptView(existing, now), Resumed: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.logger.Info("Attempt started",
		"attempt_id", attempt.ID,
		"quiz_id", quiz.ID,
		"user_id", user.UserID,
		"attempt_number", attempt.AttemptNumber,
		"question_count", len(attempt.Snapshot))

	s.publish(ctx, events.NewAttemptStartedEvent(attempt))
	return &StartResult{Attempt: s.buildAttemptView(attempt, now)}, nil
}

func (s *attemptService) SaveAnswers(ctx context.Context, attemptID string, req *SaveAnswersRequest, user models.Identity) (result *SaveAnswersResult, err error) {
	op := s.opLog.WithOperation(ctx, "save_answers", user.UserID)
	defer func() { op.LogResult(attemptID, "attempt", err) }()

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	batch := withDefaultTimestamp(req.Answers, req.Timestamp)

	now := s.clock.Now()
	var (
		merge   MergeResult
		signals SignalOutcome
		outcome mutationOutcome
	)
	updated, err := s.updateAttempt(ctx, "save_answers", attemptID, func(a *models.Attempt) error {
		merge, signals, outcome = MergeResult{}, SignalOutcome{}, mutationOutcome{}
		if err := s.checkWritable(a, user, "save"); err != nil {
			return err
		}
		if IsExpired(a, now) {
			outcome.expired = true
			s.finalize(a, models.TriggerDeadline, now)
			return nil
		}

		before := cloneIntegrity(a.Integrity)
		merge = s.ingestor.Merge(a, batch, now)

		var err error
		signals, err = s.applyClientSignals(a, req.TabSwitches, req.ClientIP, now)
		if err != nil {
			return err
		}
		if signals.ForceSubmit {
			outcome.forced = true
			s.finalize(a, models.TriggerIntegrity, now)
			return nil
		}
		if !merge.Changed() && sameIntegrity(before, a.Integrity) {
			return repositories.ErrSkipUpdate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(merge.Rejected) > 0 {
		s.opLog.LogValidationError(ctx, "save_answers", user.UserID, merge.Rejected)
	}
	s.afterMutation(ctx, updated, signals.NewFlags, outcome)

	if outcome.expired {
		return nil, &DeadlineExceededError{Attempt: updated}
	}

	result = &SaveAnswersResult{
		AttemptID:        updated.ID,
		Status:           updated.Status,
		Version:          updated.Version,
		RemainingSeconds: RemainingSeconds(updated, now),
		Merge:            merge,
		AutoSubmitted:    outcome.forced,
	}
	if outcome.forced {
		result.Attempt = s.buildAttemptView(updated, now)
	}
	return result, nil
}

func (s *attemptService) RecordSignal(ctx context.Context, attemptID string, sig *Signal, user models.Identity) (result *SignalResult, err error) {
	op := s.opLog.WithOperation(ctx, "record_signal", user.UserID)
	defer func() { op.LogResult(attemptID, "attempt", err) }()

	if err := s.validator.Validate(sig); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var (
		signals SignalOutcome
		outcome mutationOutcome
	)
	updated, err := s.updateAttempt(ctx, "record_signal", attemptID, func(a *models.Attempt) error {
		signals, outcome = SignalOutcome{}, mutationOutcome{}
		if err := s.checkWritable(a, user, "signal"); err != nil {
			return err
		}
		if IsExpired(a, now) {
			outcome.expired = true
			s.finalize(a, models.TriggerDeadline, now)
			return nil
		}

		before := cloneIntegrity(a.Integrity)
		var err error
		signals, err = ApplySignal(a, *sig, now)
		if err != nil {
			return err
		}
		if signals.ForceSubmit {
			outcome.forced = true
			s.finalize(a, models.TriggerIntegrity, now)
			return nil
		}
		if sameIntegrity(before, a.Integrity) && len(signals.NewFlags) == 0 {
			return repositories.ErrSkipUpdate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, updated, signals.NewFlags, outcome)
	s.recordSignalAudit(ctx, updated, sig, signals.NewFlags)

	if outcome.expired {
		return nil, &DeadlineExceededError{Attempt: updated}
	}

	result = &SignalResult{
		AttemptID:     updated.ID,
		Status:        updated.Status,
		Integrity:     updated.Integrity,
		IsFlagged:     updated.IsFlagged,
		NewFlags:      signals.NewFlags,
		AutoSubmitted: outcome.forced,
	}
	if outcome.forced {
		result.Attempt = s.buildAttemptView(updated, now)
	}
	return result, nil
}

func (s *attemptService) Submit(ctx context.Context, attemptID string, req *SubmitAttemptRequest, user models.Identity) (result *SubmitResult, err error) {
	op := s.opLog.WithOperation(ctx, "submit_attempt", user.UserID)
	defer func() { op.LogResult(attemptID, "attempt", err) }()

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var (
		merge            MergeResult
		signals          SignalOutcome
		outcome          mutationOutcome
		alreadySubmitted bool
	)
	updated, err := s.updateAttempt(ctx, "submit_attempt", attemptID, func(a *models.Attempt) error {
		merge, signals, outcome, alreadySubmitted = MergeResult{}, SignalOutcome{}, mutationOutcome{}, false
		if err := s.checkOwner(a, user, "submit"); err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			alreadySubmitted = true
			return repositories.ErrSkipUpdate
		}
		if IsExpired(a, now) {
			// The final batch arrived too late and is not applied.
			outcome.expired = true
			s.finalize(a, models.TriggerDeadline, now)
			return nil
		}

		merge = s.ingestor.Merge(a, req.Answers, now)
		var err error
		signals, err = s.applyClientSignals(a, req.TabSwitches, req.ClientIP, now)
		if err != nil {
			return err
		}
		a.ClientTimeSpentSeconds = req.TimeSpentSeconds
		if req.ClientFingerprint != "" {
			a.ClientFingerprint = req.ClientFingerprint
		}

		trigger := models.TriggerUser
		switch {
		case signals.ForceSubmit:
			trigger = models.TriggerIntegrity
		case req.IsAutoSubmit:
			trigger = models.TriggerClient
		}
		outcome.submitted = true
		s.finalize(a, trigger, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if alreadySubmitted {
		s.logger.Info("Attempt already submitted, returning stored result",
			"attempt_id", updated.ID,
			"status", updated.Status)
		return &SubmitResult{Attempt: s.buildAttemptView(updated, now), AlreadySubmitted: true}, nil
	}

	if len(merge.Rejected) > 0 {
		s.opLog.LogValidationError(ctx, "submit_attempt", user.UserID, merge.Rejected)
	}
	s.afterMutation(ctx, updated, signals.NewFlags, outcome)

	if outcome.expired {
		return nil, &DeadlineExceededError{Attempt: updated}
	}

	s.logger.Info("Attempt submitted",
		"attempt_id", updated.ID,
		"status", updated.Status,
		"total_score", updated.TotalScore,
		"max_score", updated.MaxScore,
		"client_time_spent", req.TimeSpentSeconds,
		"time_spent", updated.TimeSpentSeconds)

	return &SubmitResult{Attempt: s.buildAttemptView(updated, now), Rejected: merge.Rejected}, nil
}

// ===== READ OPERATIONS =====

func (s *attemptService) GetAttempt(ctx context.Context, attemptID string, user models.Identity) (*AttemptView, error) {
	attempt, err := s.loadForRead(ctx, attemptID, user, "view")
	if err != nil {
		return nil, err
	}
	return s.buildAttemptView(attempt, s.clock.Now()), nil
}

func (s *attemptService) GetTimeRemaining(ctx context.Context, attemptID string, user models.Identity) (*TimeRemaining, error) {
	attempt, err := s.loadForRead(ctx, attemptID, user, "view")
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	remaining := int64(0)
	if attempt.Status == models.AttemptInProgress {
		remaining = RemainingSeconds(attempt, now)
	}
	return &TimeRemaining{
		AttemptID:        attempt.ID,
		Status:           attempt.Status,
		RemainingSeconds: remaining,
		Deadline:         attempt.DeadlineAt,
		ServerTime:       now,
		Expired:          IsExpired(attempt, now),
	}, nil
}

func (s *attemptService) GetResults(ctx context.Context, quizID, attemptID string, user models.Identity) (*ResultView, error) {
	attempt, err := s.loadForRead(ctx, attemptID, user, "view results")
	if err != nil {
		return nil, err
	}
	if attempt.QuizID != quizID {
		return nil, ErrAttemptNotFound
	}
	if !attempt.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: results are available after submission", ErrAttemptNotActive)
	}
	return buildResultView(attempt, user.IsStaff()), nil
}

func (s *attemptService) ListMyAttempts(ctx context.Context, quizID string, filters repositories.AttemptFilters, user models.Identity) (*AttemptListResponse, error) {
	filters.Limit = repositories.NormalizeLimit(filters.Limit)
	attempts, total, err := s.repo.Attempts().ListByUser(ctx, user.UserID, quizID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return buildAttemptList(attempts, total, filters), nil
}

// ===== TRAINER OPERATIONS =====

func (s *attemptService) GetAttemptDetails(ctx context.Context, quizID, attemptID string, user models.Identity) (*AttemptDetails, error) {
	if err := requireStaff(user, attemptID, "attempt", "view details"); err != nil {
		return nil, err
	}
	attempt, err := s.loadForRead(ctx, attemptID, user, "view details")
	if err != nil {
		return nil, err
	}
	if attempt.QuizID != quizID {
		return nil, ErrAttemptNotFound
	}
	return s.buildAttemptDetails(ctx, attempt), nil
}

func (s *attemptService) ListQuizAttempts(ctx context.Context, quizID string, filters repositories.AttemptFilters, user models.Identity) (*AttemptListResponse, error) {
	if err := requireStaff(user, quizID, "quiz", "list attempts"); err != nil {
		return nil, err
	}
	filters.Limit = repositories.NormalizeLimit(filters.Limit)
	attempts, total, err := s.repo.Attempts().ListByQuiz(ctx, quizID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return buildAttemptList(attempts, total, filters), nil
}

func (s *attemptService) GetQuizStats(ctx context.Context, quizID string, user models.Identity) (*repositories.AttemptStats, error) {
	if err := requireStaff(user, quizID, "quiz", "view stats"); err != nil {
		return nil, err
	}
	if _, err := s.repo.Quizzes().GetByID(ctx, quizID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}
	stats, err := s.repo.Attempts().Stats(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

func (s *attemptService) GradeQuestion(ctx context.Context, quizID, attemptID string, req *GradeQuestionRequest, grader models.Identity) (details *AttemptDetails, err error) {
	op := s.opLog.WithOperation(ctx, "grade_question", grader.UserID)
	defer func() { op.LogResult(attemptID, "attempt", err) }()

	if err := requireStaff(grader, attemptID, "attempt", "grade"); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updated, err := s.updateAttempt(ctx, "grade_question", attemptID, func(a *models.Attempt) error {
		if a.QuizID != quizID {
			return ErrAttemptNotFound
		}
		if !a.Status.IsTerminal() || a.Grading == nil {
			return fmt.Errorf("%w: attempt has not been submitted", ErrAttemptNotActive)
		}
		return applyManualGrade(a, req, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Question graded manually",
		"attempt_id", updated.ID,
		"question_id", req.QuestionID,
		"grader_id", grader.UserID,
		"score", *req.Score,
		"status", updated.Status)

	s.publish(ctx, events.NewAttemptGradedEvent(updated, grader.UserID, req.QuestionID, now))
	return s.buildAttemptDetails(ctx, updated), nil
}

// ExpireOverdue is driven by the deadline sweeper.
func (s *attemptService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	overdue, err := s.repo.Attempts().ListOverdue(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue attempts: %w", err)
	}

	expired := 0
	var errs []error
	for _, a := range overdue {
		if ctx.Err() != nil {
			break
		}
		_, fired, err := s.forceSubmit(ctx, a.ID, models.TriggerDeadline)
		if err != nil {
			s.logger.Error("Failed to expire attempt", "attempt_id", a.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if fired {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}
