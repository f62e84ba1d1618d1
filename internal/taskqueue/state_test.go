package taskqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Unified(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   Unified
	}{
		{
			name:   "pending maps to queued",
			status: Status{State: StatePending, Progress: ProgressUnknown},
			want:   Unified{Status: "queued", Progress: 0, Message: "Job is queued"},
		},
		{
			name:   "processing carries stored progress and message",
			status: Status{State: StateProcessing, Progress: 10, Message: "Starting transcription"},
			want:   Unified{Status: "processing", Progress: 10, Message: "Starting transcription"},
		},
		{
			name:   "processing without progress defaults to 30",
			status: Status{State: StateProcessing, Progress: ProgressUnknown},
			want:   Unified{Status: "processing", Progress: 30, Message: "Processing"},
		},
		{
			name:   "success maps to completed at 100",
			status: Status{State: StateSuccess, Progress: 100},
			want:   Unified{Status: "completed", Progress: 100, Message: "Transcription completed"},
		},
		{
			name:   "failure carries stored error",
			status: Status{State: StateFailure, Message: "Transcription timeout (30 minutes exceeded)"},
			want:   Unified{Status: "failed", Progress: 0, Message: "Transcription timeout (30 minutes exceeded)"},
		},
		{
			name:   "failure without message gets fallback",
			status: Status{State: StateFailure, Progress: ProgressUnknown},
			want:   Unified{Status: "failed", Progress: 0, Message: "Unknown error"},
		},
		{
			name:   "revoked falls into default arm",
			status: Status{State: StateRevoked, Message: "Job cancelled"},
			want:   Unified{Status: "revoked", Progress: 0, Message: "Job cancelled"},
		},
		{
			name:   "unknown state is lowercased passthrough",
			status: Status{State: State("RETRY"), Progress: 55},
			want:   Unified{Status: "retry", Progress: 0, Message: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Unified())
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, Status{State: StatePending}.Terminal())
	assert.False(t, Status{State: StateProcessing}.Terminal())
	assert.True(t, Status{State: StateSuccess}.Terminal())
	assert.True(t, Status{State: StateFailure}.Terminal())
	assert.True(t, Status{State: StateRevoked}.Terminal())
}
