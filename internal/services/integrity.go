package services

import (
	"fmt"
	"time"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

// Signal is one integrity observation reported for an attempt.
type Signal struct {
	Type            models.SignalType `json:"type" validate:"required,signal_type"`
	IP              string            `json:"ip,omitempty" validate:"omitempty,ip"`
	Detail          string            `json:"detail,omitempty" validate:"max=500"`
	ClientTimestamp *time.Time        `json:"client_timestamp,omitempty"`
}

// SignalOutcome tells the caller what applying a signal changed.
type SignalOutcome struct {
	NewFlags    []models.FlagReason
	ForceSubmit bool
}

// ApplySignal updates counters and appends flag reasons. It never removes
// reasons and never changes status; a forced submission is left to the caller.
func ApplySignal(a *models.Attempt, sig Signal, now time.Time) (SignalOutcome, error) {
	var out SignalOutcome
	flag := func(severity models.Severity, reason string) {
		a.AddFlag(sig.Type, severity, reason, now)
		out.NewFlags = append(out.NewFlags, a.FlagReasons[len(a.FlagReasons)-1])
	}
	s := a.Settings
	c := &a.Integrity

	switch sig.Type {
	case models.SignalTabHidden:
		c.TabSwitches++
		if s.TabSwitchDetection && c.TabSwitches > s.MaxTabSwitches {
			flag(models.SeverityHigh, fmt.Sprintf("tab switched %d times, limit is %d", c.TabSwitches, s.MaxTabSwitches))
			out.ForceSubmit = true
		}

	case models.SignalFullscreenExit:
		c.FullscreenExits++
		if s.FullscreenFlagThreshold > 0 && c.FullscreenExits == s.FullscreenFlagThreshold {
			flag(models.SeverityMedium, fmt.Sprintf("left fullscreen %d times", c.FullscreenExits))
		}
		if s.FullscreenSubmitThreshold > 0 && c.FullscreenExits >= s.FullscreenSubmitThreshold {
			flag(models.SeverityHigh, fmt.Sprintf("left fullscreen %d times, limit is %d", c.FullscreenExits, s.FullscreenSubmitThreshold))
			out.ForceSubmit = true
		}

	case models.SignalCopyPaste:
		c.CopyPasteCount++
		reason := "copy/paste attempt detected"
		if sig.Detail != "" {
			reason = reason + ": " + sig.Detail
		}
		flag(models.SeverityLow, reason)

	case models.SignalIPObserved:
		if sig.IP == "" {
			return out, NewValidationError("ip", "is required for ip_observed", nil)
		}
		if c.IPAtStart == "" {
			c.IPAtStart = sig.IP
		}
		c.IPAtEnd = sig.IP
		if sig.IP != c.IPAtStart && s.TrackIPAddress && !s.AllowIPChange && !containsString(c.MismatchedIPs, sig.IP) {
			c.MismatchedIPs = append(c.MismatchedIPs, sig.IP)
			flag(models.SeverityMedium, fmt.Sprintf("IP address changed from %s to %s", c.IPAtStart, sig.IP))
		}

	default:
		return out, NewValidationError("type", "unknown signal type", sig.Type)
	}
	return out, nil
}

// tabSignalsFromCounter turns the client's absolute tab-switch count into the
// number of tab_hidden signals still to apply.
func tabSignalsFromCounter(a *models.Attempt, reported *int) int {
	if reported == nil {
		return 0
	}
	a.Integrity.LastReportedTabSwitches = *reported
	delta := *reported - a.Integrity.TabSwitches
	if delta < 0 {
		return 0
	}
	return delta
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
