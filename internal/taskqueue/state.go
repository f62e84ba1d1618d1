package taskqueue

import "strings"

// State is the task queue's native task state
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateSuccess    State = "SUCCESS"
	StateFailure    State = "FAILURE"
	StateRevoked    State = "REVOKED"
)

// ProgressUnknown marks a task state record without a stored progress value
const ProgressUnknown = -1

// Status is a snapshot of a task's native state record
type Status struct {
	State    State
	Progress int
	Message  string
	Result   string
}

// Terminal reports whether the task has reached a final state
func (s Status) Terminal() bool {
	switch s.State {
	case StateSuccess, StateFailure, StateRevoked:
		return true
	default:
		return false
	}
}

// Unified is the client-observable job status merged from the native
// task state and the metadata record
type Unified struct {
	Status   string
	Progress int
	Message  string
}

// Unified maps the native state to the client-observable status. The
// mapping is total: states this build does not know about fall into the
// default arm as a lowercased passthrough.
func (s Status) Unified() Unified {
	switch s.State {
	case StatePending:
		return Unified{Status: "queued", Progress: 0, Message: "Job is queued"}

	case StateProcessing:
		progress := s.Progress
		if progress == ProgressUnknown {
			progress = 30
		}
		message := s.Message
		if message == "" {
			message = "Processing"
		}
		return Unified{Status: "processing", Progress: progress, Message: message}

	case StateSuccess:
		return Unified{Status: "completed", Progress: 100, Message: "Transcription completed"}

	case StateFailure:
		message := s.Message
		if message == "" {
			message = "Unknown error"
		}
		return Unified{Status: "failed", Progress: 0, Message: message}

	default:
		return Unified{Status: strings.ToLower(string(s.State)), Progress: 0, Message: s.Message}
	}
}
