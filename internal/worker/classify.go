package worker

import "strings"

// stderr patterns mapped to failure categories, checked in order.
// Patterns follow CPython's error surface since the reference worker is
// a Python script, but matching is substring-based and tolerant.
var failurePatterns = []struct {
	kind     FailureKind
	patterns []string
}{
	{KindDependencyMissing, []string{"modulenotfounderror", "no module named", "importerror"}},
	{KindFileNotFound, []string{"filenotfounderror", "no such file or directory"}},
	{KindMalformedInput, []string{"jsondecodeerror", "expecting value", "keyerror", "unicodedecodeerror"}},
	{KindConnectivity, []string{"connectionerror", "connection refused", "connection reset",
		"getaddrinfo", "temporary failure in name resolution", "read timed out", "ssl"}},
	{KindOutOfMemory, []string{"memoryerror", "out of memory", "oom"}},
}

// classifyStderr maps raw subprocess stderr to a classified failure.
// The detail keeps only the last meaningful line; full output goes to
// logs, never onto the task.
func classifyStderr(stderr string) *Error {
	kind := classifyKind(stderr)

	detail := lastLine(stderr)
	if detail == "" {
		detail = "worker exited with non-zero status"
	}
	return &Error{Kind: kind, Detail: detail}
}

// classifyMessage classifies a failure message the worker reported
// itself in its result payload.
func classifyMessage(msg string) *Error {
	return &Error{Kind: classifyKind(msg), Detail: msg}
}

func classifyKind(text string) FailureKind {
	lower := strings.ToLower(text)
	for _, group := range failurePatterns {
		for _, p := range group.patterns {
			if strings.Contains(lower, p) {
				return group.kind
			}
		}
	}
	return KindGeneric
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
