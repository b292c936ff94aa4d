package bench

import (
	"github.com/pkg/errors"
)

// Sentinel errors classifying the failure modes the evaluator cares about.
// Fatal kinds abort the run; the rest are logged and the run continues.
var (
	// ErrDuplicateTestCaseID is raised when log-based replay finds two log
	// entries that map to the same test case id.
	ErrDuplicateTestCaseID = errors.New("duplicate test case id")

	// ErrJSONRepairFailed is raised when a truncated log file cannot be
	// recovered into a valid JSON array.
	ErrJSONRepairFailed = errors.New("json repair failed")

	// ErrInsufficientFiller means a person's pool of irrelevant conversations
	// was smaller than the dilution target. The test case is still emitted.
	ErrInsufficientFiller = errors.New("insufficient filler conversations")

	// ErrNoConversations means the corpus directory was missing or empty.
	ErrNoConversations = errors.New("no conversations loaded")

	// ErrNoEvidence means the evidence directory was missing or empty.
	ErrNoEvidence = errors.New("no evidence items loaded")

	// ErrNoAnswer means the memory system failed to produce an answer after
	// exhausting retries. The evidence item is counted as incorrect.
	ErrNoAnswer = errors.New("failed to get answer")
)

type fatalError struct {
	err error
}

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal marks an error as run-aborting. The evaluator's top-level loop
// propagates fatal errors and exits non-zero.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether the error (anywhere in its chain) was marked fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}
