package a2a

import "time"

/*
TaskState enumerates the mutually‑exclusive states a task may be in.  The
zero value is "unknown" per the A2A protocol.
*/
type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateInputReq  TaskState = "input-required"
	TaskStateCompleted TaskState = "completed"
	TaskStateCanceled  TaskState = "canceled"
	TaskStateFailed    TaskState = "failed"
	TaskStateUnknown   TaskState = "unknown"
)

// Terminal reports whether the state ends a task for good.  A terminal task
// accepts no further status, artifact or history mutation.
func (state TaskState) Terminal() bool {
	switch state {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// Valid reports whether the string names a known task state.
func (state TaskState) Valid() bool {
	switch state {
	case TaskStateSubmitted, TaskStateWorking, TaskStateInputReq,
		TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateUnknown:
		return true
	default:
		return false
	}
}

type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
