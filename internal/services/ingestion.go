package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/grading"
	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

// AnswerInput is one entry of a save or submit batch.
type AnswerInput struct {
	QuestionID      string          `json:"question_id" validate:"required,max=64"`
	Answer          json.RawMessage `json:"answer"`
	ClientTimestamp *time.Time      `json:"client_timestamp,omitempty"`
}

// MergeResult counts what happened to each entry of a batch.
type MergeResult struct {
	Applied   int              `json:"applied"`
	Cleared   int              `json:"cleared"`
	Unchanged int              `json:"unchanged"`
	Stale     int              `json:"stale"`
	Rejected  ValidationErrors `json:"rejected,omitempty"`
}

func (r MergeResult) Changed() bool {
	return r.Applied > 0 || r.Cleared > 0
}

// AnswerIngestor validates answers against the attempt snapshot and merges them.
type AnswerIngestor struct {
	maxTextLength int
}

func NewAnswerIngestor(maxTextLength int) *AnswerIngestor {
	if maxTextLength <= 0 {
		maxTextLength = 2000
	}
	return &AnswerIngestor{maxTextLength: maxTextLength}
}

// Merge applies the batch in order. A malformed entry is rejected on its own
// and never discards the rest of the batch.
func (ing *AnswerIngestor) Merge(a *models.Attempt, batch []AnswerInput, now time.Time) MergeResult {
	var res MergeResult
	if a.Answers == nil {
		a.Answers = make(map[string]models.AnswerEntry)
	}

	for i, in := range batch {
		field := fmt.Sprintf("answers[%d]", i)
		snap, ok := a.SnapshotQuestion(in.QuestionID)
		if !ok {
			res.Rejected = append(res.Rejected, *NewValidationError(field+".question_id", "is not part of this attempt", in.QuestionID))
			continue
		}

		canonical, empty, err := ing.normalize(&snap, in.Answer)
		if err != nil {
			res.Rejected = append(res.Rejected, *NewValidationError(field+".answer", err.Error(), string(in.Answer)))
			continue
		}

		existing, had := a.Answers[in.QuestionID]
		if had && isStale(in.ClientTimestamp, existing.ClientTimestamp) {
			res.Stale++
			continue
		}

		if empty {
			if had {
				delete(a.Answers, in.QuestionID)
				res.Cleared++
			} else {
				res.Unchanged++
			}
			continue
		}

		if had && sameJSON(existing.Value, canonical) {
			res.Unchanged++
			continue
		}

		a.Answers[in.QuestionID] = models.AnswerEntry{
			Value:           canonical,
			ClientTimestamp: in.ClientTimestamp,
			SavedAt:         now,
		}
		res.Applied++
	}
	return res
}

// sameJSON ignores whitespace differences a jsonb round trip may introduce.
func sameJSON(a, b []byte) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func isStale(incoming, stored *time.Time) bool {
	return incoming != nil && stored != nil && incoming.Before(*stored)
}

// normalize returns the canonical stored form of an answer, or empty=true when
// the answer clears the question.
func (ing *AnswerIngestor) normalize(snap *models.QuestionSnapshot, raw json.RawMessage) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, true, nil
	}

	switch snap.Type {
	case models.SingleChoice:
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return nil, false, fmt.Errorf("must be a choice id")
		}
		if id == "" {
			return nil, true, nil
		}
		if !snapshotHasChoice(snap, id) {
			return nil, false, fmt.Errorf("choice %q is not offered for this question", id)
		}
		b, _ := json.Marshal(id)
		return b, false, nil

	case models.MultiChoice:
		var ids []string
		if err := json.Unmarshal(trimmed, &ids); err != nil {
			return nil, false, fmt.Errorf("must be a list of choice ids")
		}
		picked := make(map[string]bool, len(ids))
		for _, id := range ids {
			if !snapshotHasChoice(snap, id) {
				return nil, false, fmt.Errorf("choice %q is not offered for this question", id)
			}
			picked[id] = true
		}
		if len(picked) == 0 {
			return nil, true, nil
		}
		// Canonical order is the snapshot's choice order, so equal sets store equal bytes.
		ordered := make([]string, 0, len(picked))
		for _, c := range snap.Choices {
			if picked[c.ID] {
				ordered = append(ordered, c.ID)
			}
		}
		b, _ := json.Marshal(ordered)
		return b, false, nil

	case models.Numeric:
		var s string
		if json.Unmarshal(trimmed, &s) == nil && strings.TrimSpace(s) == "" {
			return nil, true, nil
		}
		n, err := grading.ParseNumber(trimmed)
		if err != nil {
			return nil, false, err
		}
		b, _ := json.Marshal(n)
		return b, false, nil

	case models.ShortAnswer:
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, false, fmt.Errorf("must be text")
		}
		if strings.TrimSpace(text) == "" {
			return nil, true, nil
		}
		if utf8.RuneCountInString(text) > ing.maxTextLength {
			return nil, false, fmt.Errorf("must be at most %d characters", ing.maxTextLength)
		}
		b, _ := json.Marshal(text)
		return b, false, nil
	}
	return nil, false, fmt.Errorf("unsupported question type %q", snap.Type)
}

func snapshotHasChoice(snap *models.QuestionSnapshot, id string) bool {
	for _, c := range snap.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}
