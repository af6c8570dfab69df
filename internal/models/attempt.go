package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptInProgress        AttemptStatus = "in_progress"
	AttemptSubmitted         AttemptStatus = "submitted"
	AttemptAutoGraded        AttemptStatus = "auto_graded"
	AttemptFlagged           AttemptStatus = "flagged"
	AttemptNeedsManualReview AttemptStatus = "needs_manual_review"
	AttemptTimedOut          AttemptStatus = "timed_out"
	AttemptGraded            AttemptStatus = "graded"
)

// IsTerminal reports whether answers are frozen.
func (s AttemptStatus) IsTerminal() bool {
	return s != AttemptInProgress && s != ""
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

type SignalType string

const (
	SignalTabHidden      SignalType = "tab_hidden"
	SignalFullscreenExit SignalType = "fullscreen_exit"
	SignalCopyPaste      SignalType = "copy_paste"
	SignalIPObserved     SignalType = "ip_observed"
)

// SubmitTrigger records what moved an attempt out of in_progress.
type SubmitTrigger string

const (
	TriggerUser      SubmitTrigger = "user"
	TriggerClient    SubmitTrigger = "client_auto"
	TriggerDeadline  SubmitTrigger = "deadline"
	TriggerIntegrity SubmitTrigger = "integrity"
)

// QuestionSnapshot is the presentation copy of a question, fixed at attempt start.
type QuestionSnapshot struct {
	QuestionID string       `json:"question_id"`
	Position   int          `json:"position"`
	Type       QuestionType `json:"type"`
	Prompt     string       `json:"prompt"`
	Choices    []Choice     `json:"choices,omitempty"`
	Marks      float64      `json:"marks"`
}

type AnswerEntry struct {
	Value           datatypes.JSON `json:"value"`
	ClientTimestamp *time.Time     `json:"client_timestamp,omitempty"`
	SavedAt         time.Time      `json:"saved_at"`
}

type FlagReason struct {
	Signal    SignalType `json:"signal"`
	Reason    string     `json:"reason"`
	Severity  Severity   `json:"severity"`
	CreatedAt time.Time  `json:"created_at"`
}

type IntegrityCounters struct {
	TabSwitches             int      `json:"tab_switches"`
	LastReportedTabSwitches int      `json:"last_reported_tab_switches"`
	FullscreenExits         int      `json:"fullscreen_exits"`
	CopyPasteCount          int      `json:"copy_paste_count"`
	IPAtStart               string   `json:"ip_at_start,omitempty"`
	IPAtEnd                 string   `json:"ip_at_end,omitempty"`
	MismatchedIPs           []string `json:"mismatched_ips,omitempty"`
}

// AttemptSettings are copied from the quiz when the attempt starts.
type AttemptSettings struct {
	DurationMinutes           int     `json:"duration_minutes"`
	PassingMarks              float64 `json:"passing_marks"`
	ShowCorrectAnswers        bool    `json:"show_correct_answers"`
	ShowResultsImmediately    bool    `json:"show_results_immediately"`
	TabSwitchDetection        bool    `json:"tab_switch_detection"`
	MaxTabSwitches            int     `json:"max_tab_switches"`
	TrackIPAddress            bool    `json:"track_ip_address"`
	AllowIPChange             bool    `json:"allow_ip_change"`
	FullscreenFlagThreshold   int     `json:"fullscreen_flag_threshold"`
	FullscreenSubmitThreshold int     `json:"fullscreen_submit_threshold"`
}

type QuestionResult struct {
	QuestionID        string         `json:"question_id"`
	Type              QuestionType   `json:"type"`
	SubmittedAnswer   datatypes.JSON `json:"submitted_answer,omitempty"`
	Answered          bool           `json:"answered"`
	IsCorrect         bool           `json:"is_correct"`
	IsPartial         bool           `json:"is_partial"`
	NeedsManualReview bool           `json:"needs_manual_review"`
	ManuallyGraded    bool           `json:"manually_graded,omitempty"`
	Score             float64        `json:"score"`
	MaxScore          float64        `json:"max_score"`
	Feedback          string         `json:"feedback,omitempty"`
}

type GradingResult struct {
	Questions          []QuestionResult `json:"questions"`
	TotalScore         float64          `json:"total_score"`
	MaxScore           float64          `json:"max_score"`
	CorrectCount       int              `json:"correct_count"`
	WrongCount         int              `json:"wrong_count"`
	PartialCount       int              `json:"partial_count"`
	UnansweredCount    int              `json:"unanswered_count"`
	PendingReviewCount int              `json:"pending_review_count"`
	Passed             bool             `json:"passed"`
	GradedAt           time.Time        `json:"graded_at"`
}

type Attempt struct {
	ID            string        `json:"id" gorm:"primaryKey;size:36"`
	QuizID        string        `json:"quiz_id" gorm:"size:64;not null;index:idx_attempts_user_quiz_status,priority:2;index:idx_attempts_quiz"`
	UserID        string        `json:"user_id" gorm:"size:64;not null;index:idx_attempts_user_quiz_status,priority:1"`
	AttemptNumber int           `json:"attempt_number" gorm:"not null"`
	Status        AttemptStatus `json:"status" gorm:"size:32;not null;index:idx_attempts_user_quiz_status,priority:3"`

	// Seed fixes question and choice order for this attempt.
	Seed      int64               `json:"-" gorm:"not null"`
	Snapshot  []QuestionSnapshot  `json:"questions" gorm:"type:jsonb;serializer:json"`
	Questions map[string]Question `json:"-" gorm:"column:question_records;type:jsonb;serializer:json"`
	Settings  AttemptSettings     `json:"settings" gorm:"type:jsonb;serializer:json"`

	StartTime  time.Time  `json:"start_time" gorm:"not null"`
	DeadlineAt time.Time  `json:"deadline_at" gorm:"not null;index"`
	EndTime    *time.Time `json:"end_time"`

	Answers   map[string]AnswerEntry `json:"answers" gorm:"type:jsonb;serializer:json"`
	Integrity IntegrityCounters      `json:"integrity" gorm:"type:jsonb;serializer:json"`

	IsAutoSubmit  bool          `json:"is_auto_submit"`
	SubmitTrigger SubmitTrigger `json:"submit_trigger,omitempty" gorm:"size:20"`
	IsFlagged     bool          `json:"is_flagged" gorm:"index"`
	FlagReasons   []FlagReason  `json:"flag_reasons" gorm:"type:jsonb;serializer:json"`

	Grading          *GradingResult `json:"grading,omitempty" gorm:"type:jsonb;serializer:json"`
	TotalScore       float64        `json:"total_score"`
	MaxScore         float64        `json:"max_score"`
	CorrectCount     int            `json:"correct_count"`
	WrongCount       int            `json:"wrong_count"`
	PartialCount     int            `json:"partial_count"`
	UnansweredCount  int            `json:"unanswered_count"`
	TimeSpentSeconds int            `json:"time_spent_seconds"`
	Passed           bool           `json:"passed"`

	ClientTimeSpentSeconds *int   `json:"client_time_spent_seconds,omitempty"`
	ClientFingerprint      string `json:"client_fingerprint,omitempty" gorm:"size:255"`

	// Version is the per-attempt sequence number used for write fencing.
	Version   int64     `json:"version" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Attempt) TableName() string {
	return "attempts"
}

func (a *Attempt) HasHighSeverityFlag() bool {
	for _, r := range a.FlagReasons {
		if r.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// AddFlag appends an audit reason. Reasons are never removed.
func (a *Attempt) AddFlag(signal SignalType, severity Severity, reason string, at time.Time) {
	a.FlagReasons = append(a.FlagReasons, FlagReason{
		Signal:    signal,
		Reason:    reason,
		Severity:  severity,
		CreatedAt: at,
	})
	a.IsFlagged = true
}

func (a *Attempt) SnapshotQuestion(questionID string) (QuestionSnapshot, bool) {
	for _, q := range a.Snapshot {
		if q.QuestionID == questionID {
			return q, true
		}
	}
	return QuestionSnapshot{}, false
}

// ApplyGrading copies aggregate fields from the grading result.
func (a *Attempt) ApplyGrading(result *GradingResult) {
	a.Grading = result
	a.TotalScore = result.TotalScore
	a.MaxScore = result.MaxScore
	a.CorrectCount = result.CorrectCount
	a.WrongCount = result.WrongCount
	a.PartialCount = result.PartialCount
	a.UnansweredCount = result.UnansweredCount
	a.Passed = result.Passed
}
