package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/events"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/grading"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
)

// mutationOutcome records which terminal path a mutator took.
type mutationOutcome struct {
	expired   bool
	forced    bool
	submitted bool
}

func (o mutationOutcome) terminal() bool {
	return o.expired || o.forced || o.submitted
}

// ===== STORE ACCESS =====

// updateAttempt runs mutate through the store's atomic update, retrying
// transient failures. The mutator may run more than once.
func (s *attemptService) updateAttempt(ctx context.Context, operation, attemptID string, mutate func(*models.Attempt) error) (*models.Attempt, error) {
	var updated *models.Attempt
	err := s.withRetry(ctx, operation, func() error {
		var err error
		updated, err = s.repo.Attempts().Update(ctx, attemptID, mutate)
		return err
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (s *attemptService) withRetry(ctx context.Context, operation string, fn func() error) error {
	attempts := s.cfg.StoreRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
		if i == attempts {
			break
		}
		s.logger.Warn("Transient store error, retrying",
			"operation", operation,
			"attempt", i,
			"error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.StoreRetryBackoff * time.Duration(i)):
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, operation, err)
}

func (s *attemptService) loadForRead(ctx context.Context, attemptID string, user models.Identity, action string) (*models.Attempt, error) {
	attempt, err := s.repo.Attempts().GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.UserID != user.UserID && !user.IsStaff() {
		return nil, NewPermissionError(user.UserID, attemptID, "attempt", action, "not owned by user")
	}

	// Reads double as a deadline check so an idle attempt never looks open.
	if attempt.Status == models.AttemptInProgress && IsExpired(attempt, s.clock.Now()) {
		expired, _, err := s.forceSubmit(ctx, attempt.ID, models.TriggerDeadline)
		if err != nil {
			s.logger.Warn("Failed to time out attempt on read", "attempt_id", attempt.ID, "error", err)
			return attempt, nil
		}
		return expired, nil
	}
	return attempt, nil
}

// forceSubmit moves an in-progress attempt to its terminal state on behalf of
// the server. fired is false when the attempt was already terminal or, for a
// deadline trigger, not yet expired.
func (s *attemptService) forceSubmit(ctx context.Context, attemptID string, trigger models.SubmitTrigger) (*models.Attempt, bool, error) {
	now := s.clock.Now()
	fired := false
	updated, err := s.updateAttempt(ctx, "force_submit", attemptID, func(a *models.Attempt) error {
		fired = false
		if a.Status.IsTerminal() {
			return repositories.ErrSkipUpdate
		}
		if trigger == models.TriggerDeadline && !IsExpired(a, now) {
			return repositories.ErrSkipUpdate
		}
		fired = true
		s.finalize(a, trigger, now)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if fired {
		s.logger.Info("Attempt auto-submitted",
			"attempt_id", updated.ID,
			"trigger", trigger,
			"status", updated.Status)
		s.afterMutation(ctx, updated, nil, mutationOutcome{expired: trigger == models.TriggerDeadline, forced: trigger != models.TriggerDeadline})
	}
	return updated, fired, nil
}

// ===== ACCESS CHECKS =====

func (s *attemptService) checkOwner(a *models.Attempt, user models.Identity, action string) error {
	if a.UserID != user.UserID {
		return NewPermissionError(user.UserID, a.ID, "attempt", action, "not owned by user")
	}
	return nil
}

func (s *attemptService) checkWritable(a *models.Attempt, user models.Identity, action string) error {
	if err := s.checkOwner(a, user, action); err != nil {
		return err
	}
	if a.Status.IsTerminal() {
		return fmt.Errorf("%w: status is %s", ErrAttemptNotActive, a.Status)
	}
	return nil
}

func requireStaff(user models.Identity, resourceID, resource, action string) error {
	if !user.IsStaff() {
		return NewPermissionError(user.UserID, resourceID, resource, action, "trainer or admin role required")
	}
	return nil
}

// ===== STATE TRANSITIONS =====

// finalize is the single terminal transition: it freezes endTime, grades
// against the captured question records and picks the final status.
func (s *attemptService) finalize(a *models.Attempt, trigger models.SubmitTrigger, now time.Time) {
	end := now
	if trigger == models.TriggerDeadline && now.After(a.DeadlineAt) {
		end = a.DeadlineAt
	}
	a.EndTime = &end
	a.SubmitTrigger = trigger
	a.IsAutoSubmit = trigger != models.TriggerUser

	spent := int(end.Sub(a.StartTime) / time.Second)
	if spent < 0 {
		spent = 0
	}
	a.TimeSpentSeconds = spent

	result := s.grader.Grade(a.Snapshot, a.Questions, a.Answers, a.Settings.PassingMarks, now)
	a.ApplyGrading(result)
	a.Status = statusAfterGrading(a, result)
}

// statusAfterGrading applies flagged > needs_manual_review > timed_out > auto_graded.
func statusAfterGrading(a *models.Attempt, result *models.GradingResult) models.AttemptStatus {
	switch {
	case a.HasHighSeverityFlag():
		return models.AttemptFlagged
	case result.PendingReviewCount > 0:
		return models.AttemptNeedsManualReview
	case a.SubmitTrigger == models.TriggerDeadline:
		return models.AttemptTimedOut
	default:
		return models.AttemptAutoGraded
	}
}

// applyClientSignals turns the client's tab counter and observed IP into signals.
// Switches below the limit only move the counter, so the work per save is
// bounded no matter how far the reported counter jumps.
func (s *attemptService) applyClientSignals(a *models.Attempt, tabSwitches *int, clientIP string, now time.Time) (SignalOutcome, error) {
	var out SignalOutcome
	if delta := tabSignalsFromCounter(a, tabSwitches); delta > 0 {
		c := &a.Integrity
		if !a.Settings.TabSwitchDetection {
			c.TabSwitches += delta
		} else {
			if quiet := min(delta, a.Settings.MaxTabSwitches-c.TabSwitches); quiet > 0 {
				c.TabSwitches += quiet
				delta -= quiet
			}
			if delta > 0 {
				// crosses the limit: one signal flags and forces the submit
				o, err := ApplySignal(a, Signal{Type: models.SignalTabHidden}, now)
				if err != nil {
					return out, err
				}
				out = o
			}
		}
	}
	if clientIP != "" && !out.ForceSubmit {
		o, err := ApplySignal(a, Signal{Type: models.SignalIPObserved, IP: clientIP}, now)
		if err != nil {
			return out, err
		}
		out.NewFlags = append(out.NewFlags, o.NewFlags...)
	}
	return out, nil
}

func applyManualGrade(a *models.Attempt, req *GradeQuestionRequest, now time.Time) error {
	idx := slices.IndexFunc(a.Grading.Questions, func(q models.QuestionResult) bool {
		return q.QuestionID == req.QuestionID
	})
	if idx < 0 {
		return fmt.Errorf("%w: %s is not part of this attempt", ErrQuestionNotFound, req.QuestionID)
	}

	qr := &a.Grading.Questions[idx]
	if !qr.NeedsManualReview && !qr.ManuallyGraded {
		return ErrGradingNotAllowed
	}
	score := *req.Score
	if math.IsNaN(score) || score < 0 || score > qr.MaxScore {
		return fmt.Errorf("%w: must be between 0 and %g", ErrGradingInvalidScore, qr.MaxScore)
	}

	qr.Score = score
	qr.IsCorrect = score == qr.MaxScore
	qr.IsPartial = score > 0 && score < qr.MaxScore
	qr.NeedsManualReview = false
	qr.ManuallyGraded = true
	if req.Feedback != "" {
		qr.Feedback = req.Feedback
	}

	grading.Recompute(a.Grading, a.Settings.PassingMarks)
	a.Grading.GradedAt = now
	a.ApplyGrading(a.Grading)

	// flagged stays flagged; a fully reviewed attempt becomes graded
	if a.Status == models.AttemptNeedsManualReview && a.Grading.PendingReviewCount == 0 {
		a.Status = models.AttemptGraded
	}
	return nil
}

func (s *attemptService) settingsFor(quiz *models.Quiz) models.AttemptSettings {
	maxTabs := quiz.AntiCheat.MaxTabSwitches
	if maxTabs <= 0 {
		maxTabs = s.cfg.DefaultMaxTabSwitches
	}
	settings := models.AttemptSettings{
		DurationMinutes:        quiz.DurationMinutes,
		PassingMarks:           quiz.PassingMarks,
		ShowCorrectAnswers:     quiz.ShowCorrectAnswers,
		ShowResultsImmediately: quiz.ShowResultsImmediately,
		TabSwitchDetection:     quiz.AntiCheat.EnableTabSwitchDetection,
		MaxTabSwitches:         maxTabs,
		TrackIPAddress:         quiz.AntiCheat.TrackIPAddress,
		AllowIPChange:          quiz.AntiCheat.AllowIPChange,
	}
	if quiz.AntiCheat.EnableFullScreen {
		settings.FullscreenFlagThreshold = s.cfg.FullscreenFlagThreshold
		settings.FullscreenSubmitThreshold = s.cfg.FullscreenSubmitThreshold
	}
	return settings
}

func availabilityReason(quiz *models.Quiz, now time.Time) string {
	switch {
	case quiz.Status != models.QuizPublished && quiz.Status != models.QuizActive:
		return "quiz is not published"
	case quiz.StartTime != nil && now.Before(*quiz.StartTime):
		return fmt.Sprintf("quiz is not open yet; it opens at %s", quiz.StartTime.UTC().Format(time.RFC3339))
	case quiz.EndTime != nil && now.After(*quiz.EndTime):
		return "quiz has closed"
	}
	return "quiz is not available"
}

func withDefaultTimestamp(batch []AnswerInput, ts *time.Time) []AnswerInput {
	if ts == nil {
		return batch
	}
	out := make([]AnswerInput, len(batch))
	for i, in := range batch {
		if in.ClientTimestamp == nil {
			in.ClientTimestamp = ts
		}
		out[i] = in
	}
	return out
}

func cloneIntegrity(c models.IntegrityCounters) models.IntegrityCounters {
	c.MismatchedIPs = slices.Clone(c.MismatchedIPs)
	return c
}

func sameIntegrity(a, b models.IntegrityCounters) bool {
	return a.TabSwitches == b.TabSwitches &&
		a.LastReportedTabSwitches == b.LastReportedTabSwitches &&
		a.FullscreenExits == b.FullscreenExits &&
		a.CopyPasteCount == b.CopyPasteCount &&
		a.IPAtStart == b.IPAtStart &&
		a.IPAtEnd == b.IPAtEnd &&
		slices.Equal(a.MismatchedIPs, b.MismatchedIPs)
}

// ===== SIDE EFFECTS =====

// afterMutation runs once the write has committed. Events and audit rows are
// best effort.
func (s *attemptService) afterMutation(ctx context.Context, a *models.Attempt, newFlags []models.FlagReason, outcome mutationOutcome) {
	now := s.clock.Now()
	if len(newFlags) > 0 {
		s.opLog.LogIntegrityFlags(ctx, a, newFlags)
		s.publish(ctx, events.NewAttemptFlaggedEvent(a, newFlags, now))
	}
	if !outcome.terminal() {
		return
	}

	submitted := events.NewAttemptSubmittedEvent(a)
	s.publish(ctx, submitted)
	if a.Grading != nil && a.Grading.PendingReviewCount > 0 {
		var pending []string
		for _, q := range a.Grading.Questions {
			if q.NeedsManualReview {
				pending = append(pending, q.QuestionID)
			}
		}
		s.publish(ctx, events.NewManualGradingRequiredEvent(a, pending, now))
	}

	s.appendAudit(ctx, &models.AuditLog{
		AttemptID: a.ID,
		QuizID:    a.QuizID,
		UserID:    a.UserID,
		Source:    models.AuditSourceSystem,
		EventType: string(submitted.Type),
		Data: mustJSON(map[string]interface{}{
			"status":      a.Status,
			"trigger":     a.SubmitTrigger,
			"total_score": a.TotalScore,
			"max_score":   a.MaxScore,
		}),
		CreatedAt: now,
	})
}

func (s *attemptService) recordSignalAudit(ctx context.Context, a *models.Attempt, sig *Signal, newFlags []models.FlagReason) {
	var severity *models.Severity
	reasons := make([]string, 0, len(newFlags))
	for _, f := range newFlags {
		if severity == nil || f.Severity.Rank() > severity.Rank() {
			sev := f.Severity
			severity = &sev
		}
		reasons = append(reasons, f.Reason)
	}
	s.appendAudit(ctx, &models.AuditLog{
		AttemptID: a.ID,
		QuizID:    a.QuizID,
		UserID:    a.UserID,
		Source:    models.AuditSourceSignal,
		EventType: string(sig.Type),
		Severity:  severity,
		Data: mustJSON(map[string]interface{}{
			"detail":    sig.Detail,
			"reasons":   reasons,
			"integrity": a.Integrity,
		}),
		IPAddress:       sig.IP,
		ClientTimestamp: sig.ClientTimestamp,
		CreatedAt:       s.clock.Now(),
	})
}

func (s *attemptService) appendAudit(ctx context.Context, logs ...*models.AuditLog) {
	if err := s.repo.Audit().Append(context.WithoutCancel(ctx), logs...); err != nil {
		s.logger.Warn("Failed to append audit log", "error", err)
	}
}

func (s *attemptService) publish(ctx context.Context, evts ...*events.AttemptEvent) {
	if s.publisher == nil {
		return
	}
	pubCtx := context.WithoutCancel(ctx)
	for _, e := range evts {
		if err := s.publisher.PublishAttemptEvent(pubCtx, e); err != nil {
			s.logger.Warn("Failed to publish attempt event",
				"event_type", e.Type,
				"event_id", e.ID,
				"error", err)
		}
	}
}

func mustJSON(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// ===== RESPONSE BUILDERS =====

func (s *attemptService) buildAttemptView(a *models.Attempt, now time.Time) *AttemptView {
	view := &AttemptView{
		ID:            a.ID,
		QuizID:        a.QuizID,
		UserID:        a.UserID,
		AttemptNumber: a.AttemptNumber,
		Status:        a.Status,
		Questions:     a.Snapshot,
		Answers:       a.Answers,
		StartTime:     a.StartTime,
		DeadlineAt:    a.DeadlineAt,
		EndTime:       a.EndTime,
		ServerTime:    now,
		Settings:      a.Settings,
		Integrity:     a.Integrity,
		IsAutoSubmit:  a.IsAutoSubmit,
		IsFlagged:     a.IsFlagged,
		FlagReasons:   a.FlagReasons,
		Version:       a.Version,
	}
	if a.Status == models.AttemptInProgress {
		view.RemainingSeconds = RemainingSeconds(a, now)
	} else {
		view.Result = buildResultView(a, false)
	}
	return view
}

// buildResultView hides per-question detail until results are released, and
// answer keys unless the quiz shows them. Staff see everything.
func buildResultView(a *models.Attempt, staff bool) *ResultView {
	view := &ResultView{
		AttemptID:        a.ID,
		Status:           a.Status,
		TotalScore:       a.TotalScore,
		MaxScore:         a.MaxScore,
		CorrectCount:     a.CorrectCount,
		WrongCount:       a.WrongCount,
		PartialCount:     a.PartialCount,
		UnansweredCount:  a.UnansweredCount,
		TimeSpentSeconds: a.TimeSpentSeconds,
		Passed:           a.Passed,
		IsAutoSubmit:     a.IsAutoSubmit,
		IsFlagged:        a.IsFlagged,
		EndTime:          a.EndTime,
	}
	if a.Grading == nil {
		return view
	}
	view.PendingReviewCount = a.Grading.PendingReviewCount

	if !staff && !a.Settings.ShowResultsImmediately && a.Status != models.AttemptGraded {
		return view
	}
	view.DetailsAvailable = true
	reveal := staff || a.Settings.ShowCorrectAnswers
	view.Questions = make([]QuestionResultView, 0, len(a.Grading.Questions))
	for _, qr := range a.Grading.Questions {
		qv := QuestionResultView{QuestionResult: qr}
		if reveal {
			if q, ok := a.Questions[qr.QuestionID]; ok {
				key := q.Key
				qv.CorrectAnswer = &key
			}
		}
		view.Questions = append(view.Questions, qv)
	}
	return view
}

func (s *attemptService) buildAttemptDetails(ctx context.Context, a *models.Attempt) *AttemptDetails {
	details := &AttemptDetails{
		Attempt:         a,
		QuestionRecords: make([]models.Question, 0, len(a.Snapshot)),
	}
	for _, snap := range a.Snapshot {
		if q, ok := a.Questions[snap.QuestionID]; ok {
			details.QuestionRecords = append(details.QuestionRecords, q)
		}
	}
	if a.Status == models.AttemptInProgress {
		details.RemainingSeconds = RemainingSeconds(a, s.clock.Now())
	}
	if _, total, err := s.repo.Audit().ListByAttempt(ctx, a.ID, 1, 0); err != nil {
		s.logger.Warn("Failed to count audit events", "attempt_id", a.ID, "error", err)
	} else {
		details.AuditEventCount = total
	}
	return details
}

func buildAttemptList(attempts []*models.Attempt, total int64, filters repositories.AttemptFilters) *AttemptListResponse {
	resp := &AttemptListResponse{
		Attempts: make([]AttemptSummary, 0, len(attempts)),
		Total:    total,
		Limit:    filters.Limit,
		Offset:   filters.Offset,
	}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, summarize(a))
	}
	return resp
}

func summarize(a *models.Attempt) AttemptSummary {
	return AttemptSummary{
		ID:               a.ID,
		QuizID:           a.QuizID,
		UserID:           a.UserID,
		AttemptNumber:    a.AttemptNumber,
		Status:           a.Status,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		TotalScore:       a.TotalScore,
		MaxScore:         a.MaxScore,
		Passed:           a.Passed,
		TimeSpentSeconds: a.TimeSpentSeconds,
		IsAutoSubmit:     a.IsAutoSubmit,
		IsFlagged:        a.IsFlagged,
		TabSwitches:      a.Integrity.TabSwitches,
	}
}
