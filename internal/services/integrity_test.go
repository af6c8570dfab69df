package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

func attemptWithSettings(s models.AttemptSettings) *models.Attempt {
	return &models.Attempt{ID: "a1", Status: models.AttemptInProgress, Settings: s}
}

func TestApplySignal(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("tab hidden forces submit past the limit", func(t *testing.T) {
		a := attemptWithSettings(models.AttemptSettings{TabSwitchDetection: true, MaxTabSwitches: 2})
		for i := 0; i < 2; i++ {
			out, err := ApplySignal(a, Signal{Type: models.SignalTabHidden}, now)
			require.NoError(t, err)
			assert.False(t, out.ForceSubmit)
		}
		out, err := ApplySignal(a, Signal{Type: models.SignalTabHidden}, now)
		require.NoError(t, err)
		assert.True(t, out.ForceSubmit)
		assert.True(t, a.HasHighSeverityFlag())
		assert.Equal(t, models.AttemptInProgress, a.Status)
	})

	t.Run("tab detection off only counts", func(t *testing.T) {
		a := attemptWithSettings(models.AttemptSettings{MaxTabSwitches: 1})
		for i := 0; i < 5; i++ {
			out, err := ApplySignal(a, Signal{Type: models.SignalTabHidden}, now)
			require.NoError(t, err)
			assert.False(t, out.ForceSubmit)
		}
		assert.Equal(t, 5, a.Integrity.TabSwitches)
		assert.False(t, a.IsFlagged)
	})

	t.Run("fullscreen thresholds", func(t *testing.T) {
		a := attemptWithSettings(models.AttemptSettings{FullscreenFlagThreshold: 2, FullscreenSubmitThreshold: 3})
		var outs []SignalOutcome
		for i := 0; i < 3; i++ {
			out, err := ApplySignal(a, Signal{Type: models.SignalFullscreenExit}, now)
			require.NoError(t, err)
			outs = append(outs, out)
		}
		assert.Empty(t, outs[0].NewFlags)
		require.Len(t, outs[1].NewFlags, 1)
		assert.Equal(t, models.SeverityMedium, outs[1].NewFlags[0].Severity)
		assert.True(t, outs[2].ForceSubmit)
		assert.Len(t, a.FlagReasons, 2)
	})

	t.Run("copy paste flags every event", func(t *testing.T) {
		a := attemptWithSettings(models.AttemptSettings{})
		for i := 0; i < 3; i++ {
			_, err := ApplySignal(a, Signal{Type: models.SignalCopyPaste}, now)
			require.NoError(t, err)
		}
		assert.Equal(t, 3, a.Integrity.CopyPasteCount)
		assert.Len(t, a.FlagReasons, 3)
		assert.False(t, a.HasHighSeverityFlag())
	})

	t.Run("ip change flagged once per address", func(t *testing.T) {
		a := attemptWithSettings(models.AttemptSettings{TrackIPAddress: true})
		for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.2", "10.0.0.3", "10.0.0.1"} {
			_, err := ApplySignal(a, Signal{Type: models.SignalIPObserved, IP: ip}, now)
			require.NoError(t, err)
		}
		assert.Equal(t, "10.0.0.1", a.Integrity.IPAtStart)
		assert.Equal(t, "10.0.0.1", a.Integrity.IPAtEnd)
		assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, a.Integrity.MismatchedIPs)
		assert.Len(t, a.FlagReasons, 2)
	})

	t.Run("ip change allowed", func(t *testing.T) {
		a := attemptWithSettings(models.AttemptSettings{TrackIPAddress: true, AllowIPChange: true})
		_, err := ApplySignal(a, Signal{Type: models.SignalIPObserved, IP: "10.0.0.1"}, now)
		require.NoError(t, err)
		_, err = ApplySignal(a, Signal{Type: models.SignalIPObserved, IP: "10.0.0.2"}, now)
		require.NoError(t, err)
		assert.False(t, a.IsFlagged)
	})

	t.Run("reasons are never removed", func(t *testing.T) {
		a := attemptWithSettings(models.AttemptSettings{TabSwitchDetection: true, MaxTabSwitches: 0})
		_, err := ApplySignal(a, Signal{Type: models.SignalCopyPaste}, now)
		require.NoError(t, err)
		_, err = ApplySignal(a, Signal{Type: models.SignalTabHidden}, now)
		require.NoError(t, err)
		assert.Len(t, a.FlagReasons, 2)
		assert.Equal(t, models.SignalCopyPaste, a.FlagReasons[0].Signal)
	})

	t.Run("invalid signals", func(t *testing.T) {
		a := attemptWithSettings(models.AttemptSettings{})
		_, err := ApplySignal(a, Signal{Type: models.SignalIPObserved}, now)
		assert.True(t, IsValidation(err))
		_, err = ApplySignal(a, Signal{Type: "webcam_lost"}, now)
		assert.True(t, IsValidation(err))
	})
}

func TestTabSignalsFromCounter(t *testing.T) {
	a := attemptWithSettings(models.AttemptSettings{})
	a.Integrity.TabSwitches = 2

	assert.Zero(t, tabSignalsFromCounter(a, nil))

	lower := 1
	assert.Zero(t, tabSignalsFromCounter(a, &lower))
	assert.Equal(t, 1, a.Integrity.LastReportedTabSwitches)

	higher := 5
	assert.Equal(t, 3, tabSignalsFromCounter(a, &higher))
}

func TestRemainingSeconds(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	a := &models.Attempt{StartTime: start, DeadlineAt: DeadlineFor(start, 30)}

	prev := RemainingSeconds(a, start)
	assert.Equal(t, int64(1800), prev)
	for step := time.Duration(0); step <= 31*time.Minute; step += 7 * time.Second {
		got := RemainingSeconds(a, start.Add(step))
		assert.LessOrEqual(t, got, prev)
		assert.GreaterOrEqual(t, got, int64(0))
		prev = got
	}

	assert.Equal(t, int64(1), RemainingSeconds(a, a.DeadlineAt.Add(-time.Millisecond)))
	assert.Zero(t, RemainingSeconds(a, a.DeadlineAt))
	assert.True(t, IsExpired(a, a.DeadlineAt))
	assert.False(t, IsExpired(a, a.DeadlineAt.Add(-time.Nanosecond)))
}
