package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditSource string

const (
	AuditSourceSignal    AuditSource = "signal"
	AuditSourceTelemetry AuditSource = "telemetry"
	AuditSourceSystem    AuditSource = "system"
)

// Telemetry event names sent by the browser client.
const (
	TelemetryQuizStarted        = "QUIZ_STARTED"
	TelemetryTabBlurred         = "TAB_BLURRED"
	TelemetryTabFocused         = "TAB_FOCUSED"
	TelemetryWindowBlurred      = "WINDOW_BLURRED"
	TelemetryCopyPaste          = "COPY_PASTE_DETECTED"
	TelemetryRightClick         = "RIGHT_CLICK_DETECTED"
	TelemetryFullscreenChanged  = "FULLSCREEN_CHANGED"
	TelemetryAnswerChanged      = "ANSWER_CHANGED"
	TelemetryQuestionNavigated  = "QUESTION_NAVIGATED"
	TelemetrySuspiciousActivity = "SUSPICIOUS_ACTIVITY"
	TelemetryTimeExpired        = "TIME_EXPIRED"
)

// AuditLog is append-only. Rows are never updated or deleted.
type AuditLog struct {
	ID        uint        `json:"id" gorm:"primaryKey"`
	AttemptID string      `json:"attempt_id" gorm:"size:36;not null;index"`
	QuizID    string      `json:"quiz_id" gorm:"size:64;index"`
	UserID    string      `json:"user_id" gorm:"size:64;index"`
	Source    AuditSource `json:"source" gorm:"size:20;not null"`
	EventType string      `json:"event_type" gorm:"size:64;not null;index"`
	Severity  *Severity   `json:"severity,omitempty" gorm:"size:10"`

	Data            datatypes.JSON `json:"data,omitempty" gorm:"type:jsonb"`
	IPAddress       string         `json:"ip_address,omitempty" gorm:"size:45"`
	UserAgent       string         `json:"user_agent,omitempty" gorm:"type:text"`
	ClientTimestamp *time.Time     `json:"client_timestamp,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (AuditLog) TableName() string {
	return "attempt_audit_logs"
}
