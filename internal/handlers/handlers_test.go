package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/services"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/utils"
)

const testSecret = "test-secret"

// ===== MOCKS =====

type MockAttemptService struct {
	mock.Mock
}

func (m *MockAttemptService) Start(ctx context.Context, quizID string, user models.Identity, clientIP string) (*services.StartResult, error) {
	args := m.Called(ctx, quizID, user, clientIP)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StartResult), args.Error(1)
}

func (m *MockAttemptService) SaveAnswers(ctx context.Context, attemptID string, req *services.SaveAnswersRequest, user models.Identity) (*services.SaveAnswersResult, error) {
	args := m.Called(ctx, attemptID, req, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SaveAnswersResult), args.Error(1)
}

func (m *MockAttemptService) RecordSignal(ctx context.Context, attemptID string, sig *services.Signal, user models.Identity) (*services.SignalResult, error) {
	args := m.Called(ctx, attemptID, sig, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SignalResult), args.Error(1)
}

func (m *MockAttemptService) Submit(ctx context.Context, attemptID string, req *services.SubmitAttemptRequest, user models.Identity) (*services.SubmitResult, error) {
	args := m.Called(ctx, attemptID, req, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SubmitResult), args.Error(1)
}

func (m *MockAttemptService) GetAttempt(ctx context.Context, attemptID string, user models.Identity) (*services.AttemptView, error) {
	args := m.Called(ctx, attemptID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AttemptView), args.Error(1)
}

func (m *MockAttemptService) GetTimeRemaining(ctx context.Context, attemptID string, user models.Identity) (*services.TimeRemaining, error) {
	args := m.Called(ctx, attemptID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.TimeRemaining), args.Error(1)
}

func (m *MockAttemptService) GetResults(ctx context.Context, quizID, attemptID string, user models.Identity) (*services.ResultView, error) {
	args := m.Called(ctx, quizID, attemptID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ResultView), args.Error(1)
}

func (m *MockAttemptService) ListMyAttempts(ctx context.Context, quizID string, filters repositories.AttemptFilters, user models.Identity) (*services.AttemptListResponse, error) {
	args := m.Called(ctx, quizID, filters, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AttemptListResponse), args.Error(1)
}

func (m *MockAttemptService) GetAttemptDetails(ctx context.Context, quizID, attemptID string, user models.Identity) (*services.AttemptDetails, error) {
	args := m.Called(ctx, quizID, attemptID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AttemptDetails), args.Error(1)
}

func (m *MockAttemptService) ListQuizAttempts(ctx context.Context, quizID string, filters repositories.AttemptFilters, user models.Identity) (*services.AttemptListResponse, error) {
	args := m.Called(ctx, quizID, filters, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AttemptListResponse), args.Error(1)
}

func (m *MockAttemptService) GetQuizStats(ctx context.Context, quizID string, user models.Identity) (*repositories.AttemptStats, error) {
	args := m.Called(ctx, quizID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repositories.AttemptStats), args.Error(1)
}

func (m *MockAttemptService) GradeQuestion(ctx context.Context, quizID, attemptID string, req *services.GradeQuestionRequest, grader models.Identity) (*services.AttemptDetails, error) {
	args := m.Called(ctx, quizID, attemptID, req, grader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AttemptDetails), args.Error(1)
}

func (m *MockAttemptService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) RecordEvent(ctx context.Context, event *services.TelemetryEvent, user models.Identity, meta services.RequestMeta) (*services.TelemetryResult, error) {
	args := m.Called(ctx, event, user, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.TelemetryResult), args.Error(1)
}

func (m *MockAuditService) RecordBatch(ctx context.Context, req *services.TelemetryBatchRequest, user models.Identity, meta services.RequestMeta) (*services.TelemetryResult, error) {
	args := m.Called(ctx, req, user, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.TelemetryResult), args.Error(1)
}

func (m *MockAuditService) ListAttemptLogs(ctx context.Context, attemptID string, limit, offset int, user models.Identity) (*services.AuditLogList, error) {
	args := m.Called(ctx, attemptID, limit, offset, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AuditLogList), args.Error(1)
}

func (m *MockAuditService) ListSuspicious(ctx context.Context, filters repositories.AuditFilters, user models.Identity) (*services.AuditLogList, error) {
	args := m.Called(ctx, filters, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AuditLogList), args.Error(1)
}

type MockExportService struct {
	mock.Mock
}

func (m *MockExportService) ExportQuizResults(ctx context.Context, quizID string, user models.Identity) (*services.ExportFile, error) {
	args := m.Called(ctx, quizID, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ExportFile), args.Error(1)
}

type stubSubscriber struct{ called bool }

func (s *stubSubscriber) ServeWS(w http.ResponseWriter, _ *http.Request, _, _ string) error {
	s.called = true
	w.WriteHeader(http.StatusBadRequest)
	return errors.New("not a websocket handshake")
}

// ===== HARNESS =====

var (
	student = models.Identity{UserID: "student-1", Role: models.RoleStudent}
	trainer = models.Identity{UserID: "trainer-1", Role: models.RoleTrainer}
)

type harness struct {
	router   *gin.Engine
	attempts *MockAttemptService
	audit    *MockAuditService
	export   *MockExportService
	monitor  *stubSubscriber
	verifier *TokenVerifier
	ready    error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := utils.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := &harness{
		attempts: new(MockAttemptService),
		audit:    new(MockAuditService),
		export:   new(MockExportService),
		monitor:  &stubSubscriber{},
		verifier: NewTokenVerifier(testSecret),
	}
	checks := map[string]func(context.Context) error{
		"database": func(context.Context) error { return h.ready },
	}
	hm := NewHandlerManager(
		NewAttemptHandler(h.attempts, logger),
		NewReviewHandler(h.attempts, h.export, logger),
		NewAuditHandler(h.audit, logger),
		NewMonitorHandler(h.monitor, checks, logger),
		h.verifier,
		logger,
	)
	h.router = hm.NewRouter()
	return h
}

func (h *harness) token(t *testing.T, id models.Identity) string {
	t.Helper()
	tok, err := h.verifier.Sign(Claims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, method, path string, id *models.Identity, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(t, *id))
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// ===== TESTS =====

func TestAuthMiddleware(t *testing.T) {
	h := newHarness(t)

	t.Run("missing token", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/quizzes/attempts/a1", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		tok, err := h.verifier.Sign(Claims{
			Role: "student",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "student-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/quizzes/attempts/a1", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		h.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenVerifier("other-secret")
		tok, err := other.Sign(Claims{
			Role:             "trainer",
			RegisteredClaims: jwt.RegisteredClaims{Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		})
		require.NoError(t, err)
		_, err = h.verifier.Verify(tok)
		assert.Error(t, err)
	})

	t.Run("unknown role", func(t *testing.T) {
		tok, err := h.verifier.Sign(Claims{
			Role:             "superuser",
			RegisteredClaims: jwt.RegisteredClaims{Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		})
		require.NoError(t, err)
		_, err = h.verifier.Verify(tok)
		assert.Error(t, err)
	})

	t.Run("students cannot reach review routes", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/quizzes/quiz-1/attempts", &student, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		h.attempts.AssertNotCalled(t, "ListQuizAttempts", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAttemptHandler_StartAttempt(t *testing.T) {
	view := &services.AttemptView{ID: "a1", QuizID: "quiz-1", Status: models.AttemptInProgress}

	t.Run("created", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.On("Start", mock.Anything, "quiz-1", student, mock.Anything).
			Return(&services.StartResult{Attempt: view}, nil).Once()

		w := h.do(t, http.MethodPost, "/quizzes/quiz-1/start", &student, nil)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NotEmpty(t, w.Header().Get(utils.RequestIDHeader))

		var got services.StartResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "a1", got.Attempt.ID)
		assert.False(t, got.Resumed)
		h.attempts.AssertExpectations(t)
	})

	t.Run("resumed", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.On("Start", mock.Anything, "quiz-1", student, mock.Anything).
			Return(&services.StartResult{Attempt: view, Resumed: true}, nil).Once()

		w := h.do(t, http.MethodPost, "/quizzes/quiz-1/start", &student, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not open yet", &services.QuizNotAvailableError{QuizID: "quiz-1", Reason: "quiz is not open yet"}, http.StatusForbidden, CodeQuizNotAvailable},
		{"exhausted", fmt.Errorf("%w: 1 of 1 attempts used", services.ErrAttemptsExhausted), http.StatusConflict, CodeAttemptsExhausted},
		{"misconfigured", &services.ConfigurationError{QuizID: "quiz-1", Reason: "empty question list"}, http.StatusUnprocessableEntity, CodeConfiguration},
		{"pool too small", &services.InsufficientPoolError{QuizID: "quiz-1", Requested: 5, Available: 2}, http.StatusUnprocessableEntity, CodeInsufficientPool},
		{"unknown quiz", services.ErrQuizNotFound, http.StatusNotFound, CodeNotFound},
		{"lock contention", fmt.Errorf("%w: another start is in progress", services.ErrConflict), http.StatusConflict, CodeConflict},
		{"store down", fmt.Errorf("%w: start: boom", services.ErrStoreUnavailable), http.StatusServiceUnavailable, CodeUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.attempts.On("Start", mock.Anything, "quiz-1", student, mock.Anything).Return(nil, tt.err).Once()

			w := h.do(t, http.MethodPost, "/quizzes/quiz-1/start", &student, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}

	t.Run("not available message is actionable", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.On("Start", mock.Anything, "quiz-1", student, mock.Anything).
			Return(nil, &services.QuizNotAvailableError{QuizID: "quiz-1", Reason: "quiz has closed"}).Once()

		w := h.do(t, http.MethodPost, "/quizzes/quiz-1/start", &student, nil)
		assert.Equal(t, "Quiz has closed", decodeError(t, w).Message)
	})
}

func TestAttemptHandler_SaveAnswers(t *testing.T) {
	body := map[string]interface{}{
		"answers":      []map[string]interface{}{{"question_id": "q1", "answer": "B"}},
		"tab_switches": 1,
	}

	t.Run("both paths save", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.On("SaveAnswers", mock.Anything, "a1", mock.MatchedBy(func(req *services.SaveAnswersRequest) bool {
			return len(req.Answers) == 1 && req.Answers[0].QuestionID == "q1" && *req.TabSwitches == 1 && req.ClientIP != ""
		}), student).Return(&services.SaveAnswersResult{AttemptID: "a1", Version: 2}, nil).Twice()

		for _, path := range []string{"/quizzes/a1/auto-save", "/quizzes/a1/save"} {
			w := h.do(t, http.MethodPost, path, &student, body)
			assert.Equal(t, http.StatusOK, w.Code, path)
		}
		h.attempts.AssertExpectations(t)
	})

	t.Run("malformed body", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(t, http.MethodPost, "/quizzes/a1/auto-save", &student, `{"answers": "nope"`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		h.attempts.AssertNotCalled(t, "SaveAnswers", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("deadline passed returns the submitted attempt", func(t *testing.T) {
		h := newHarness(t)
		end := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
		submitted := &models.Attempt{ID: "a1", QuizID: "quiz-1", Status: models.AttemptTimedOut, EndTime: &end, IsAutoSubmit: true}
		h.attempts.On("SaveAnswers", mock.Anything, "a1", mock.Anything, student).
			Return(nil, &services.DeadlineExceededError{Attempt: submitted}).Once()

		w := h.do(t, http.MethodPost, "/quizzes/a1/auto-save", &student, body)
		assert.Equal(t, http.StatusConflict, w.Code)

		resp := decodeError(t, w)
		assert.Equal(t, CodeDeadlineExceeded, resp.Code)
		details, ok := resp.Details.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "timed_out", details["status"])
		assert.NotContains(t, details, "grading")
	})

	t.Run("field errors", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.On("SaveAnswers", mock.Anything, "a1", mock.Anything, student).
			Return(nil, services.ValidationErrors{*services.NewValidationError("answers[0].question_id", "is required", "")}).Once()

		w := h.do(t, http.MethodPost, "/quizzes/a1/auto-save", &student, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, CodeValidation, decodeError(t, w).Code)
	})
}

func TestAttemptHandler_SubmitAttempt(t *testing.T) {
	t.Run("empty body is a plain submit", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.On("Submit", mock.Anything, "a1", mock.MatchedBy(func(req *services.SubmitAttemptRequest) bool {
			return len(req.Answers) == 0 && !req.IsAutoSubmit
		}), student).Return(&services.SubmitResult{Attempt: &services.AttemptView{ID: "a1", Status: models.AttemptAutoGraded}}, nil).Once()

		w := h.do(t, http.MethodPost, "/quizzes/a1/submit", &student, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		h.attempts.AssertExpectations(t)
	})

	t.Run("repeat submit is a success", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.On("Submit", mock.Anything, "a1", mock.Anything, student).
			Return(&services.SubmitResult{Attempt: &services.AttemptView{ID: "a1"}, AlreadySubmitted: true}, nil).Once()

		w := h.do(t, http.MethodPost, "/quizzes/a1/submit", &student, map[string]interface{}{"is_auto_submit": true, "time_spent_seconds": 99})
		assert.Equal(t, http.StatusOK, w.Code)

		var got services.SubmitResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.True(t, got.AlreadySubmitted)
	})

	t.Run("someone else's attempt", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.On("Submit", mock.Anything, "a1", mock.Anything, student).
			Return(nil, services.NewPermissionError("student-1", "a1", "attempt", "submit", "not the owner")).Once()

		w := h.do(t, http.MethodPost, "/quizzes/a1/submit", &student, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestAttemptHandler_Reads(t *testing.T) {
	h := newHarness(t)
	h.attempts.On("GetAttempt", mock.Anything, "a1", student).
		Return(&services.AttemptView{ID: "a1", RemainingSeconds: 120}, nil).Once()
	h.attempts.On("GetTimeRemaining", mock.Anything, "a1", student).
		Return(&services.TimeRemaining{AttemptID: "a1", RemainingSeconds: 120}, nil).Once()
	h.attempts.On("GetResults", mock.Anything, "quiz-1", "a1", student).
		Return(nil, fmt.Errorf("%w: results are available after submit", services.ErrAttemptNotActive)).Once()
	h.attempts.On("ListMyAttempts", mock.Anything, "quiz-1", mock.MatchedBy(func(f repositories.AttemptFilters) bool {
		return f.Limit == 5 && f.Offset == 5 && f.SortOrder == "desc"
	}), student).Return(&services.AttemptListResponse{Total: 7}, nil).Once()

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/quizzes/attempts/a1", &student, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/quizzes/attempts/a1/time-remaining", &student, nil).Code)
	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodGet, "/quizzes/quiz-1/attempts/a1/results", &student, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/quizzes/quiz-1/my-attempts?page=2&size=5", &student, nil).Code)
	h.attempts.AssertExpectations(t)
}

func TestAttemptHandler_RecordSignal(t *testing.T) {
	h := newHarness(t)
	h.attempts.On("RecordSignal", mock.Anything, "a1", mock.MatchedBy(func(s *services.Signal) bool {
		return s.Type == models.SignalTabHidden
	}), student).Return(&services.SignalResult{AttemptID: "a1", AutoSubmitted: true}, nil).Once()

	w := h.do(t, http.MethodPost, "/quizzes/a1/signals", &student, map[string]string{"type": "tab_hidden"})
	assert.Equal(t, http.StatusOK, w.Code)
	h.attempts.AssertExpectations(t)
}

func TestReviewHandler(t *testing.T) {
	t.Run("listing filters", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.On("ListQuizAttempts", mock.Anything, "quiz-1", mock.MatchedBy(func(f repositories.AttemptFilters) bool {
			return f.Status != nil && *f.Status == models.AttemptFlagged && f.Flagged != nil && *f.Flagged
		}), trainer).Return(&services.AttemptListResponse{}, nil).Once()

		w := h.do(t, http.MethodGet, "/quizzes/quiz-1/attempts?status=flagged&flagged=true", &trainer, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		h.attempts.AssertExpectations(t)
	})

	t.Run("unknown status", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(t, http.MethodGet, "/quizzes/quiz-1/attempts?status=paused", &trainer, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("grade out of range", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.On("GradeQuestion", mock.Anything, "quiz-1", "a1", mock.Anything, trainer).
			Return(nil, fmt.Errorf("%w: must be within [0, 3]", services.ErrGradingInvalidScore)).Once()

		w := h.do(t, http.MethodPost, "/quizzes/quiz-1/attempts/a1/grade", &trainer, map[string]interface{}{"question_id": "s1", "score": 9})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("details and stats", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.On("GetAttemptDetails", mock.Anything, "quiz-1", "a1", trainer).
			Return(&services.AttemptDetails{Attempt: &models.Attempt{ID: "a1"}}, nil).Once()
		h.attempts.On("GetQuizStats", mock.Anything, "quiz-1", trainer).
			Return(&repositories.AttemptStats{TotalAttempts: 3}, nil).Once()

		assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/quizzes/quiz-1/attempts/a1/details", &trainer, nil).Code)
		assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/quizzes/quiz-1/stats", &trainer, nil).Code)
		h.attempts.AssertExpectations(t)
	})

	t.Run("export", func(t *testing.T) {
		h := newHarness(t)
		h.export.On("ExportQuizResults", mock.Anything, "quiz-1", trainer).Return(&services.ExportFile{
			FileName:    "quiz-1-results.xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        []byte("xlsx"),
		}, nil).Once()

		w := h.do(t, http.MethodGet, "/quizzes/quiz-1/results/export", &trainer, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Disposition"), "quiz-1-results.xlsx")
		assert.Equal(t, "xlsx", w.Body.String())
	})

	t.Run("monitor reaches the hub", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(t, http.MethodGet, "/quizzes/quiz-1/monitor", &trainer, nil)
		assert.True(t, h.monitor.called)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuditHandler(t *testing.T) {
	t.Run("record event passes request metadata", func(t *testing.T) {
		h := newHarness(t)
		h.audit.On("RecordEvent", mock.Anything, mock.MatchedBy(func(e *services.TelemetryEvent) bool {
			return e.EventType == models.TelemetryCopyPaste
		}), student, mock.MatchedBy(func(m services.RequestMeta) bool {
			return m.ClientIP != ""
		})).Return(&services.TelemetryResult{Accepted: 1, Forwarded: 1}, nil).Once()

		w := h.do(t, http.MethodPost, "/audit/event", &student, map[string]interface{}{
			"attempt_id": "a1",
			"event_type": models.TelemetryCopyPaste,
		})
		assert.Equal(t, http.StatusCreated, w.Code)
		h.audit.AssertExpectations(t)
	})

	t.Run("batch", func(t *testing.T) {
		h := newHarness(t)
		h.audit.On("RecordBatch", mock.Anything, mock.Anything, student, mock.Anything).
			Return(&services.TelemetryResult{Accepted: 2}, nil).Once()

		w := h.do(t, http.MethodPost, "/audit/batch", &student, map[string]interface{}{
			"events": []map[string]string{{"attempt_id": "a1", "event_type": "QUIZ_STARTED"}},
		})
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("trail and suspicious are trainer only", func(t *testing.T) {
		h := newHarness(t)
		h.audit.On("ListAttemptLogs", mock.Anything, "a1", 20, 0, trainer).Return(&services.AuditLogList{}, nil).Once()
		h.audit.On("ListSuspicious", mock.Anything, mock.MatchedBy(func(f repositories.AuditFilters) bool {
			return f.QuizID == "quiz-1" && f.MinSeverity == models.SeverityHigh
		}), trainer).Return(&services.AuditLogList{}, nil).Once()

		assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/audit/a1", &student, nil).Code)
		assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/audit/a1", &trainer, nil).Code)
		assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/audit/suspicious?quiz_id=quiz-1&min_severity=high", &trainer, nil).Code)
		h.audit.AssertExpectations(t)
	})
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	h.ready = errors.New("connection refused")
	w = h.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newHarness(t)
	h.attempts.On("GetAttempt", mock.MatchedBy(func(ctx context.Context) bool {
		return utils.RequestIDFromContext(ctx) == "req-123"
	}), "a1", student).Return(&services.AttemptView{ID: "a1"}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/quizzes/attempts/a1", nil)
	req.Header.Set("Authorization", "Bearer "+h.token(t, student))
	req.Header.Set(utils.RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(utils.RequestIDHeader))
	h.attempts.AssertExpectations(t)
}
