package models

import (
	"strings"
	"time"
)

type QuestionType string

const (
	SingleChoice QuestionType = "single_choice"
	MultiChoice  QuestionType = "multi_choice"
	ShortAnswer  QuestionType = "short_answer"
	Numeric      QuestionType = "numeric"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// Choice ids are stable handles; shuffling only reorders presentation.
type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// AnswerKey holds the authoritative answer. Which field is used depends on the question type.
type AnswerKey struct {
	ChoiceID  string   `json:"choice_id,omitempty"`
	ChoiceIDs []string `json:"choice_ids,omitempty"`
	Text      *string  `json:"text,omitempty"`
	Number    *float64 `json:"number,omitempty"`
}

// Question belongs to the question bank, which this service treats as read-only.
type Question struct {
	ID         string       `json:"id" gorm:"primaryKey;size:64"`
	Type       QuestionType `json:"type" gorm:"size:20;not null"`
	Prompt     string       `json:"prompt" gorm:"type:text;not null"`
	Choices    []Choice     `json:"choices" gorm:"type:jsonb;serializer:json"`
	Key        AnswerKey    `json:"correct_answer" gorm:"type:jsonb;serializer:json"`
	Tolerance  *float64     `json:"tolerance,omitempty"`
	Marks      float64      `json:"marks" gorm:"not null;default:1"`
	Difficulty Difficulty   `json:"difficulty" gorm:"size:10;index"`
	Subject    string       `json:"subject" gorm:"size:100;index"`
	Tags       []string     `json:"tags" gorm:"type:jsonb;serializer:json"`
	IsActive   bool         `json:"is_active" gorm:"not null;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Question) TableName() string {
	return "questions"
}

func (q *Question) HasChoice(id string) bool {
	for _, c := range q.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}

// HasTag matches case-insensitively.
func (q *Question) HasTag(tag string) bool {
	for _, t := range q.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
