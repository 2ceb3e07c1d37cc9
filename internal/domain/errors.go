package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrTaskNotFound signals a missing ingestion task.
	ErrTaskNotFound = errors.New("task not found")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrValidation signals a rejected request before any store mutation.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized signals a bad or missing dispatcher credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStateConflict signals an illegal task state transition.
	ErrStateConflict = errors.New("state conflict")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrGenerationProviderError signals a chat completion provider failure.
	ErrGenerationProviderError = errors.New("generation provider error")
	// ErrRetrievalFailed signals that both the primary strategy and the
	// degraded fallback could not read the chunk store.
	ErrRetrievalFailed = errors.New("retrieval failed")
)

// StateConflictError wraps ErrStateConflict with the attempted edge.
type StateConflictError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s: task %s cannot move %s -> %s",
		ErrStateConflict.Error(), e.TaskID, e.From, e.To)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// NewStateConflict creates a state conflict error for the given edge.
func NewStateConflict(taskID string, from, to TaskStatus) error {
	return &StateConflictError{TaskID: taskID, From: from, To: to}
}
