package domain

import "time"

// TaskStatus is the lifecycle state of an ingestion task.
type TaskStatus string

// Task lifecycle states.
const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskError      TaskStatus = "error"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskProcessing, TaskCompleted, TaskError:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state.
// error is only semi-terminal: an explicit reprocess may move it back to pending.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskError
}

// CanTransition reports whether the edge from -> to is legal.
// Legal edges: pending -> processing, processing -> completed|error,
// error -> pending (reprocess). Everything else is a state conflict.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		return to == TaskProcessing
	case TaskProcessing:
		return to == TaskCompleted || to == TaskError
	case TaskError:
		return to == TaskPending
	}
	return false
}

// Task tracks one ingestion cycle for a document. At most one task per
// document exists; a reprocess reuses the same row, preserving the
// latest error message as audit history.
type Task struct {
	ID           string
	DocumentID   string
	Status       TaskStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TaskStats holds per-status task counts.
type TaskStats struct {
	Pending    int
	Processing int
	Completed  int
	Error      int
}
