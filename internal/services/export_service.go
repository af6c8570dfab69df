package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/repositories"
)

const (
	resultsSheet   = "Results"
	questionsSheet = "Questions"
	exportPageSize = 100

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type exportService struct {
	repo   repositories.Repository
	clock  Clock
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, clock Clock, logger *slog.Logger) ExportService {
	if clock == nil {
		clock = SystemClock()
	}
	return &exportService{repo: repo, clock: clock, logger: logger}
}

// ExportQuizResults writes one row per attempt and one row per graded question.
func (s *exportService) ExportQuizResults(ctx context.Context, quizID string, user models.Identity) (*ExportFile, error) {
	if err := requireStaff(user, quizID, "quiz", "export results"); err != nil {
		return nil, err
	}
	quiz, err := s.repo.Quizzes().GetByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	attempts, err := s.collectAttempts(ctx, quizID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with Sheet1; rename it rather than leave it empty.
	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	if _, err := f.NewSheet(questionsSheet); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}

	if err := writeResultsSheet(f, attempts); err != nil {
		return nil, err
	}
	if err := writeQuestionsSheet(f, attempts); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	s.logger.Info("Quiz results exported",
		"quiz_id", quiz.ID,
		"user_id", user.UserID,
		"attempt_count", len(attempts))

	return &ExportFile{
		FileName:    fmt.Sprintf("quiz-%s-results-%s.xlsx", quiz.ID, s.clock.Now().UTC().Format("20060102-150405")),
		ContentType: xlsxContentType,
		Data:        buf.Bytes(),
	}, nil
}

func (s *exportService) collectAttempts(ctx context.Context, quizID string) ([]*models.Attempt, error) {
	var all []*models.Attempt
	filters := repositories.AttemptFilters{Limit: exportPageSize, SortOrder: "asc"}
	for {
		page, total, err := s.repo.Attempts().ListByQuiz(ctx, quizID, filters)
		if err != nil {
			return nil, fmt.Errorf("failed to list attempts: %w", err)
		}
		all = append(all, page...)
		filters.Offset += len(page)
		if len(page) == 0 || int64(filters.Offset) >= total {
			return all, nil
		}
	}
}

func writeResultsSheet(f *excelize.File, attempts []*models.Attempt) error {
	headers := []interface{}{
		"Attempt ID", "User ID", "Attempt #", "Status", "Start Time", "End Time",
		"Score", "Max Score", "Passed", "Correct", "Partial", "Wrong", "Unanswered",
		"Pending Review", "Time Spent (s)", "Auto Submitted", "Flagged", "Flag Reasons",
		"Tab Switches", "Fullscreen Exits", "Copy/Paste", "IP At Start", "IP At End",
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for i, a := range attempts {
		pending := 0
		if a.Grading != nil {
			pending = a.Grading.PendingReviewCount
		}
		row := []interface{}{
			a.ID, a.UserID, a.AttemptNumber, string(a.Status), formatTime(&a.StartTime), formatTime(a.EndTime),
			a.TotalScore, a.MaxScore, a.Passed, a.CorrectCount, a.PartialCount, a.WrongCount, a.UnansweredCount,
			pending, a.TimeSpentSeconds, a.IsAutoSubmit, a.IsFlagged, len(a.FlagReasons),
			a.Integrity.TabSwitches, a.Integrity.FullscreenExits, a.Integrity.CopyPasteCount,
			a.Integrity.IPAtStart, a.Integrity.IPAtEnd,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write attempt %s: %w", a.ID, err)
		}
	}
	return nil
}

func writeQuestionsSheet(f *excelize.File, attempts []*models.Attempt) error {
	headers := []interface{}{
		"Attempt ID", "User ID", "Question ID", "Type", "Answered", "Correct", "Partial",
		"Needs Review", "Manually Graded", "Score", "Max Score", "Feedback",
	}
	if err := f.SetSheetRow(questionsSheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	rowIndex := 2
	for _, a := range attempts {
		if a.Grading == nil {
			continue
		}
		for _, q := range a.Grading.Questions {
			row := []interface{}{
				a.ID, a.UserID, q.QuestionID, string(q.Type), q.Answered, q.IsCorrect, q.IsPartial,
				q.NeedsManualReview, q.ManuallyGraded, q.Score, q.MaxScore, q.Feedback,
			}
			cell, err := excelize.CoordinatesToCellName(1, rowIndex)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(questionsSheet, cell, &row); err != nil {
				return fmt.Errorf("failed to write question row: %w", err)
			}
			rowIndex++
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
