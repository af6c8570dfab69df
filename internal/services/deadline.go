package services

import (
	"math"
	"time"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

// Clock is injected so tests can move time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }

// DeadlineFor is startTime + duration.
func DeadlineFor(start time.Time, durationMinutes int) time.Time {
	return start.Add(time.Duration(durationMinutes) * time.Minute)
}

// RemainingSeconds is never negative, never increases as now advances, and is
// exactly 0 from the deadline on.
func RemainingSeconds(a *models.Attempt, now time.Time) int64 {
	left := a.DeadlineAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(math.Ceil(left.Seconds()))
}

func IsExpired(a *models.Attempt, now time.Time) bool {
	return !now.Before(a.DeadlineAt)
}

// TimeRemaining is the polling view of the deadline.
type TimeRemaining struct {
	AttemptID        string               `json:"attempt_id"`
	Status           models.AttemptStatus `json:"status"`
	RemainingSeconds int64                `json:"remaining_seconds"`
	Deadline         time.Time            `json:"deadline"`
	ServerTime       time.Time            `json:"server_time"`
	Expired          bool                 `json:"expired"`
}
