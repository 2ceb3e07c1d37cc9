// Package worker launches the external embedding process that turns an
// uploaded document into text fragments with vectors.
package worker

import (
	"github.com/atenea-labs/atenea/internal/domain"
)

// Descriptor identifies the document the worker must process.
type Descriptor struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Result is a successful worker run.
type Result struct {
	Fragments  []domain.Fragment
	ArchiveURL string
}

// FailureKind is a coarse, human-readable failure category. It leads
// the task error message, so operators can triage without reading raw
// subprocess output.
type FailureKind string

const (
	KindTimeout           FailureKind = "Timeout"
	KindDependencyMissing FailureKind = "Worker dependency missing"
	KindFileNotFound      FailureKind = "Source file not found"
	KindMalformedInput    FailureKind = "Malformed worker input"
	KindConnectivity      FailureKind = "Connectivity failure"
	KindOutOfMemory       FailureKind = "Out of memory"
	KindMalformedOutput   FailureKind = "Malformed worker output"
	KindGeneric           FailureKind = "Worker failure"
)

// Error is a classified worker failure.
type Error struct {
	Kind   FailureKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}
