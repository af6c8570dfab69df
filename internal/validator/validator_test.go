package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

type signalRequest struct {
	Type   models.SignalType    `json:"type" validate:"required,signal_type"`
	IP     string               `json:"ip,omitempty" validate:"omitempty,ip"`
	Status models.AttemptStatus `json:"status,omitempty" validate:"omitempty,attempt_status"`
}

func TestValidator_DomainTags(t *testing.T) {
	v := New()

	tests := []struct {
		name      string
		req       signalRequest
		wantField string
		wantRule  string
	}{
		{name: "valid signal", req: signalRequest{Type: models.SignalTabHidden}},
		{name: "valid ip", req: signalRequest{Type: models.SignalIPObserved, IP: "10.0.0.1"}},
		{name: "missing type", req: signalRequest{}, wantField: "type", wantRule: "required"},
		{name: "unknown type", req: signalRequest{Type: "mouse_left"}, wantField: "type", wantRule: "signal_type"},
		{name: "bad ip", req: signalRequest{Type: models.SignalIPObserved, IP: "not-an-ip"}, wantField: "ip", wantRule: "ip"},
		{name: "bad status", req: signalRequest{Type: models.SignalCopyPaste, Status: "done"}, wantField: "status", wantRule: "attempt_status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			verrs, ok := err.(ValidationErrors)
			require.True(t, ok, "expected ValidationErrors, got %T", err)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.wantField, verrs[0].Field)
			assert.Equal(t, tt.wantRule, verrs[0].Rule)
			assert.NotEmpty(t, verrs[0].Message)
		})
	}
}
