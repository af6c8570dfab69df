package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/validator"
)

// SignalRecorder is the part of the attempt service telemetry feeds into.
type SignalRecorder interface {
	RecordSignal(ctx context.Context, attemptID string, sig *Signal, user models.Identity) (*SignalResult, error)
}

type auditService struct {
	repo      repositories.Repository
	signals   SignalRecorder
	validator *validator.Validator
	clock     Clock
	logger    *slog.Logger
	opLog     *ServiceLogger
}

func NewAuditService(
	repo repositories.Repository,
	signals SignalRecorder,
	validator *validator.Validator,
	clock Clock,
	logger *slog.Logger,
) AuditService {
	if clock == nil {
		clock = SystemClock()
	}
	return &auditService{
		repo:      repo,
		signals:   signals,
		validator: validator,
		clock:     clock,
		logger:    logger,
		opLog:     NewServiceLogger(logger, LogConfig{Service: "quiz-attempt-service", Component: "audit"}),
	}
}

func (s *auditService) RecordEvent(ctx context.Context, event *TelemetryEvent, user models.Identity, meta RequestMeta) (result *TelemetryResult, err error) {
	op := s.opLog.WithOperation(ctx, "record_telemetry", user.UserID)
	defer func() { op.LogResult(event.AttemptID, "attempt", err) }()

	if err := s.validator.Validate(event); err != nil {
		return nil, err
	}
	return s.record(ctx, []TelemetryEvent{*event}, user, meta, nil)
}

func (s *auditService) RecordBatch(ctx context.Context, req *TelemetryBatchRequest, user models.Identity, meta RequestMeta) (result *TelemetryResult, err error) {
	op := s.opLog.WithOperation(ctx, "record_telemetry_batch", user.UserID)
	defer func() { op.LogResult("", "audit_batch", err) }()

	if req == nil || len(req.Events) == 0 {
		return nil, NewValidationError("events", "at least one event is required", nil)
	}
	if len(req.Events) > 200 {
		return nil, NewValidationError("events", "at most 200 events per batch", len(req.Events))
	}

	// Malformed events are dropped individually; the rest of the batch still lands.
	var (
		valid    []TelemetryEvent
		rejected ValidationErrors
	)
	for i, e := range req.Events {
		if err := s.validator.Validate(&e); err != nil {
			var verrs ValidationErrors
			if errors.As(err, &verrs) {
				for _, ve := range verrs {
					ve.Field = fmt.Sprintf("events[%d].%s", i, ve.Field)
					rejected = append(rejected, ve)
				}
				continue
			}
			return nil, err
		}
		valid = append(valid, e)
	}
	if len(valid) == 0 {
		return nil, rejected
	}
	return s.record(ctx, valid, user, meta, rejected)
}

func (s *auditService) record(ctx context.Context, batch []TelemetryEvent, user models.Identity, meta RequestMeta, rejected ValidationErrors) (*TelemetryResult, error) {
	now := s.clock.Now()
	attempts := make(map[string]*models.Attempt)
	logs := make([]*models.AuditLog, 0, len(batch))

	for _, e := range batch {
		attempt, ok := attempts[e.AttemptID]
		if !ok {
			var err error
			attempt, err = s.repo.Attempts().GetByID(ctx, e.AttemptID)
			if err != nil {
				if errors.Is(err, repositories.ErrNotFound) {
					return nil, ErrAttemptNotFound
				}
				return nil, fmt.Errorf("failed to get attempt: %w", err)
			}
			if attempt.UserID != user.UserID {
				return nil, NewPermissionError(user.UserID, attempt.ID, "attempt", "record telemetry", "not owned by user")
			}
			attempts[e.AttemptID] = attempt
		}

		userAgent := e.UserAgent
		if userAgent == "" {
			userAgent = meta.UserAgent
		}
		data := e.Data
		if e.ScreenResolution != "" {
			data = withField(data, "screen_resolution", e.ScreenResolution)
		}
		logs = append(logs, &models.AuditLog{
			AttemptID:       attempt.ID,
			QuizID:          attempt.QuizID,
			UserID:          attempt.UserID,
			Source:          models.AuditSourceTelemetry,
			EventType:       e.EventType,
			Severity:        telemetrySeverity(&e),
			Data:            mustJSON(data),
			IPAddress:       meta.ClientIP,
			UserAgent:       userAgent,
			ClientTimestamp: e.Timestamp,
			CreatedAt:       now,
		})
	}

	if err := s.repo.Audit().Append(ctx, logs...); err != nil {
		return nil, fmt.Errorf("failed to append audit logs: %w", err)
	}

	result := &TelemetryResult{Accepted: len(logs), Rejected: rejected}
	for i := range batch {
		e := &batch[i]
		sig, ok := signalFromTelemetry(e)
		if !ok || attempts[e.AttemptID].Status.IsTerminal() {
			continue
		}
		if _, err := s.signals.RecordSignal(ctx, e.AttemptID, sig, user); err != nil {
			// Telemetry is already stored; a late or rejected signal is not a request failure.
			s.logger.Warn("Failed to forward telemetry as integrity signal",
				"attempt_id", e.AttemptID,
				"event_type", e.EventType,
				"error", err)
			continue
		}
		result.Forwarded++
	}
	return result, nil
}

func (s *auditService) ListAttemptLogs(ctx context.Context, attemptID string, limit, offset int, user models.Identity) (*AuditLogList, error) {
	if err := requireStaff(user, attemptID, "attempt", "view audit log"); err != nil {
		return nil, err
	}
	if _, err := s.repo.Attempts().GetByID(ctx, attemptID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	limit = repositories.NormalizeLimit(limit)
	if offset < 0 {
		offset = 0
	}
	logs, total, err := s.repo.Audit().ListByAttempt(ctx, attemptID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return &AuditLogList{Logs: logs, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *auditService) ListSuspicious(ctx context.Context, filters repositories.AuditFilters, user models.Identity) (*AuditLogList, error) {
	if err := requireStaff(user, filters.QuizID, "audit", "list suspicious activity"); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(&filters); err != nil {
		return nil, err
	}

	filters.Limit = repositories.NormalizeLimit(filters.Limit)
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	logs, total, err := s.repo.Audit().ListSuspicious(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list suspicious activity: %w", err)
	}
	return &AuditLogList{Logs: logs, Total: total, Limit: filters.Limit, Offset: filters.Offset}, nil
}

// signalFromTelemetry maps browser events onto integrity signals. Tab
// visibility is left to the tab counter so it is never counted twice.
func signalFromTelemetry(e *TelemetryEvent) (*Signal, bool) {
	switch e.EventType {
	case models.TelemetryCopyPaste:
		detail, _ := e.Data["action"].(string)
		return &Signal{Type: models.SignalCopyPaste, Detail: detail, ClientTimestamp: e.Timestamp}, true
	case models.TelemetryFullscreenChanged:
		if fs, ok := e.Data["fullscreen"].(bool); ok && !fs {
			return &Signal{Type: models.SignalFullscreenExit, ClientTimestamp: e.Timestamp}, true
		}
	}
	return nil, false
}

func telemetrySeverity(e *TelemetryEvent) *models.Severity {
	suspicious, _ := e.Data["suspicious"].(bool)
	if !suspicious && e.EventType != models.TelemetrySuspiciousActivity {
		return nil
	}
	sev := models.SeverityLow
	if raw, ok := e.Data["severity"].(string); ok {
		if candidate := models.Severity(raw); candidate.Rank() > 0 {
			sev = candidate
		}
	}
	return &sev
}

func withField(data map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[key] = value
	return out
}
