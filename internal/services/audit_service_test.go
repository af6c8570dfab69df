package services

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/validator"
)

func newAuditEnv(t *testing.T, quiz *models.Quiz, questions ...models.Question) (*testEnv, AuditService) {
	t.Helper()
	env := newTestEnv(t, quiz, questions...)
	audit := NewAuditService(env.store, env.svc, validator.New(), env.clock, env.logger)
	return env, audit
}

func TestAuditService_RecordEvent(t *testing.T) {
	quiz := newQuiz("q1")
	quiz.AntiCheat = models.AntiCheatSettings{EnableFullScreen: true}

	t.Run("stores telemetry and forwards copy paste", func(t *testing.T) {
		env, audit := newAuditEnv(t, quiz, singleChoiceQuestion("q1", "B", 5))
		view := env.start(t, student)

		res, err := audit.RecordEvent(context.Background(), &TelemetryEvent{
			AttemptID: view.ID,
			EventType: models.TelemetryCopyPaste,
			Data:      map[string]interface{}{"action": "paste"},
		}, student, RequestMeta{ClientIP: "10.1.1.1", UserAgent: "test-agent"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Accepted)
		assert.Equal(t, 1, res.Forwarded)

		stored := env.stored(t, view.ID)
		assert.Equal(t, 1, stored.Integrity.CopyPasteCount)
		require.Len(t, stored.FlagReasons, 1)
		assert.Equal(t, models.SeverityLow, stored.FlagReasons[0].Severity)
		assert.Contains(t, stored.FlagReasons[0].Reason, "paste")

		logs, _, err := env.store.Audit().ListByAttempt(context.Background(), view.ID, 10, 0)
		require.NoError(t, err)
		require.NotEmpty(t, logs)
		assert.Equal(t, models.AuditSourceTelemetry, logs[0].Source)
		assert.Equal(t, "10.1.1.1", logs[0].IPAddress)
		assert.Equal(t, "test-agent", logs[0].UserAgent)
	})

	t.Run("fullscreen exit counts only when leaving", func(t *testing.T) {
		env, audit := newAuditEnv(t, quiz, singleChoiceQuestion("q1", "B", 5))
		view := env.start(t, student)
		ctx := context.Background()

		for _, fs := range []bool{false, true, false} {
			_, err := audit.RecordEvent(ctx, &TelemetryEvent{
				AttemptID: view.ID,
				EventType: models.TelemetryFullscreenChanged,
				Data:      map[string]interface{}{"fullscreen": fs},
			}, student, RequestMeta{})
			require.NoError(t, err)
		}
		assert.Equal(t, 2, env.stored(t, view.ID).Integrity.FullscreenExits)
	})

	t.Run("tab blur is stored but not counted", func(t *testing.T) {
		env, audit := newAuditEnv(t, tabQuiz(2), singleChoiceQuestion("q1", "B", 5))
		view := env.start(t, student)

		res, err := audit.RecordEvent(context.Background(), &TelemetryEvent{
			AttemptID: view.ID,
			EventType: models.TelemetryTabBlurred,
		}, student, RequestMeta{})
		require.NoError(t, err)
		assert.Zero(t, res.Forwarded)
		assert.Zero(t, env.stored(t, view.ID).Integrity.TabSwitches)
	})

	t.Run("suspicious flag sets severity", func(t *testing.T) {
		env, audit := newAuditEnv(t, quiz, singleChoiceQuestion("q1", "B", 5))
		view := env.start(t, student)
		ctx := context.Background()

		_, err := audit.RecordEvent(ctx, &TelemetryEvent{
			AttemptID: view.ID,
			EventType: models.TelemetryRightClick,
			Data:      map[string]interface{}{"suspicious": true},
		}, student, RequestMeta{})
		require.NoError(t, err)

		_, err = audit.RecordEvent(ctx, &TelemetryEvent{
			AttemptID: view.ID,
			EventType: models.TelemetrySuspiciousActivity,
			Data:      map[string]interface{}{"severity": "high"},
		}, student, RequestMeta{})
		require.NoError(t, err)

		list, err := audit.ListSuspicious(ctx, repositories.AuditFilters{QuizID: "quiz-1", MinSeverity: models.SeverityLow}, trainer)
		require.NoError(t, err)
		require.Equal(t, int64(2), list.Total)
		assert.Equal(t, models.SeverityLow, *list.Logs[0].Severity)
		assert.Equal(t, models.SeverityHigh, *list.Logs[1].Severity)

		high, err := audit.ListSuspicious(ctx, repositories.AuditFilters{MinSeverity: models.SeverityHigh}, trainer)
		require.NoError(t, err)
		assert.Equal(t, int64(1), high.Total)
	})

	t.Run("cannot write to another user's attempt", func(t *testing.T) {
		env, audit := newAuditEnv(t, quiz, singleChoiceQuestion("q1", "B", 5))
		view := env.start(t, student)

		_, err := audit.RecordEvent(context.Background(), &TelemetryEvent{
			AttemptID: view.ID,
			EventType: models.TelemetryQuizStarted,
		}, otherStudent, RequestMeta{})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("terminal attempt still logs but does not forward", func(t *testing.T) {
		env, audit := newAuditEnv(t, quiz, singleChoiceQuestion("q1", "B", 5))
		view := env.start(t, student)
		_, err := env.svc.Submit(context.Background(), view.ID, &SubmitAttemptRequest{}, student)
		require.NoError(t, err)

		res, err := audit.RecordEvent(context.Background(), &TelemetryEvent{
			AttemptID: view.ID,
			EventType: models.TelemetryCopyPaste,
		}, student, RequestMeta{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Accepted)
		assert.Zero(t, res.Forwarded)
		assert.Zero(t, env.stored(t, view.ID).Integrity.CopyPasteCount)
	})
}

func TestAuditService_RecordBatch(t *testing.T) {
	env, audit := newAuditEnv(t, newQuiz("q1"), singleChoiceQuestion("q1", "B", 5))
	view := env.start(t, student)
	ctx := context.Background()

	res, err := audit.RecordBatch(ctx, &TelemetryBatchRequest{Events: []TelemetryEvent{
		{AttemptID: view.ID, EventType: models.TelemetryQuizStarted},
		{AttemptID: view.ID},
		{AttemptID: view.ID, EventType: models.TelemetryQuestionNavigated, Data: map[string]interface{}{"to": 1}},
	}}, student, RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "events[1].event_type", res.Rejected[0].Field)

	_, err = audit.RecordBatch(ctx, &TelemetryBatchRequest{}, student, RequestMeta{})
	assert.True(t, IsValidation(err))

	_, err = audit.RecordBatch(ctx, &TelemetryBatchRequest{Events: []TelemetryEvent{{AttemptID: view.ID}}}, student, RequestMeta{})
	assert.True(t, IsValidation(err))
}

func TestAuditService_ListAttemptLogs(t *testing.T) {
	env, audit := newAuditEnv(t, newQuiz("q1"), singleChoiceQuestion("q1", "B", 5))
	view := env.start(t, student)
	ctx := context.Background()

	_, err := audit.RecordEvent(ctx, &TelemetryEvent{AttemptID: view.ID, EventType: models.TelemetryQuizStarted}, student, RequestMeta{})
	require.NoError(t, err)
	_, err = env.svc.Submit(ctx, view.ID, &SubmitAttemptRequest{}, student)
	require.NoError(t, err)

	_, err = audit.ListAttemptLogs(ctx, view.ID, 10, 0, student)
	assert.ErrorIs(t, err, ErrForbidden)

	list, err := audit.ListAttemptLogs(ctx, view.ID, 10, 0, trainer)
	require.NoError(t, err)
	require.Equal(t, int64(2), list.Total)
	assert.Equal(t, models.AuditSourceSystem, list.Logs[1].Source)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(list.Logs[1].Data, &data))
	assert.Equal(t, "auto_graded", data["status"])

	_, err = audit.ListAttemptLogs(ctx, "missing", 10, 0, trainer)
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestExportService_ExportQuizResults(t *testing.T) {
	quiz := newQuiz("q1", "s1")
	quiz.AttemptsAllowed = 2
	env := newTestEnv(t, quiz, singleChoiceQuestion("q1", "B", 5), openQuestion("s1", 3))
	export := NewExportService(env.store, env.clock, env.logger)
	ctx := context.Background()

	a1 := env.start(t, student)
	_, err := env.svc.Submit(ctx, a1.ID, &SubmitAttemptRequest{Answers: []AnswerInput{
		answer(t, "q1", "B"),
		answer(t, "s1", "light and water"),
	}}, student)
	require.NoError(t, err)
	env.clock.Advance(time.Minute)
	env.start(t, otherStudent)

	_, err = export.ExportQuizResults(ctx, "quiz-1", student)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = export.ExportQuizResults(ctx, "missing", trainer)
	assert.ErrorIs(t, err, ErrQuizNotFound)

	file, err := export.ExportQuizResults(ctx, "quiz-1", trainer)
	require.NoError(t, err)
	assert.Contains(t, file.FileName, "quiz-1")
	assert.Equal(t, xlsxContentType, file.ContentType)

	f, err := excelize.OpenReader(bytes.NewReader(file.Data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{resultsSheet, questionsSheet}, f.GetSheetList())

	rows, err := f.GetRows(resultsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + two attempts
	assert.Equal(t, "Attempt ID", rows[0][0])
	assert.Equal(t, a1.ID, rows[1][0])
	assert.Equal(t, "needs_manual_review", rows[1][3])

	qrows, err := f.GetRows(questionsSheet)
	require.NoError(t, err)
	assert.Len(t, qrows, 3) // header + two questions of the submitted attempt
}
