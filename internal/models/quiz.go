package models

import (
	"time"
)

type QuizStatus string

const (
	QuizDraft     QuizStatus = "draft"
	QuizPublished QuizStatus = "published"
	QuizActive    QuizStatus = "active"
	QuizExpired   QuizStatus = "expired"
	QuizArchived  QuizStatus = "archived"
)

type QuestionMode string

const (
	ModeFixedList  QuestionMode = "fixed_list"
	ModePoolRandom QuestionMode = "pool_random"
)

// PoolFilter selects questions for pool_random quizzes.
type PoolFilter struct {
	Subject    string       `json:"subject"`
	Difficulty []Difficulty `json:"difficulty,omitempty"`
	Tags       []string     `json:"tags,omitempty"`
	Count      int          `json:"count"`
}

type AntiCheatSettings struct {
	EnableTabSwitchDetection bool `json:"enable_tab_switch_detection"`
	MaxTabSwitches           int  `json:"max_tab_switches"`
	TrackIPAddress           bool `json:"track_ip_address"`
	AllowIPChange            bool `json:"allow_ip_change"`
	EnableFullScreen         bool `json:"enable_full_screen"`
	DisableCopyPaste         bool `json:"disable_copy_paste"`
	EnableWebcam             bool `json:"enable_webcam"`
}

// Quiz is owned by the authoring service; this service only reads it.
type Quiz struct {
	ID          string     `json:"id" gorm:"primaryKey;size:64"`
	Title       string     `json:"title" gorm:"not null;size:200"`
	Subject     string     `json:"subject" gorm:"size:100;index"`
	Status      QuizStatus `json:"status" gorm:"size:20;index"`
	Description *string    `json:"description" gorm:"type:text"`

	DurationMinutes int        `json:"duration_minutes" gorm:"not null"`
	AttemptsAllowed int        `json:"attempts_allowed" gorm:"default:1"`
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`

	QuestionMode QuestionMode `json:"question_mode" gorm:"size:20;default:fixed_list"`
	QuestionIDs  []string     `json:"question_ids" gorm:"type:jsonb;serializer:json"`
	PoolFilter   *PoolFilter  `json:"question_pool_filter,omitempty" gorm:"type:jsonb;serializer:json"`

	ShuffleQuestions bool `json:"shuffle_questions"`
	ShuffleChoices   bool `json:"shuffle_choices"`

	TotalMarks             float64 `json:"total_marks"`
	PassingMarks           float64 `json:"passing_marks"`
	ShowResultsImmediately bool    `json:"show_results_immediately" gorm:"default:true"`
	ShowCorrectAnswers     bool    `json:"show_correct_answers"`

	AntiCheat AntiCheatSettings `json:"anti_cheat_settings" gorm:"type:jsonb;serializer:json"`

	CreatedBy string    `json:"created_by" gorm:"size:64;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// IsOpen reports whether students may start attempts at now.
func (q *Quiz) IsOpen(now time.Time) bool {
	if q.Status != QuizPublished && q.Status != QuizActive {
		return false
	}
	if q.StartTime != nil && now.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && now.After(*q.EndTime) {
		return false
	}
	return true
}

// MaxAttempts treats a missing limit as a single attempt.
func (q *Quiz) MaxAttempts() int {
	if q.AttemptsAllowed <= 0 {
		return 1
	}
	return q.AttemptsAllowed
}
