// Package errs defines the error kinds the engine surfaces to the CLI layer,
// each mapped to a distinct process exit code.
package errs

import "github.com/pkg/errors"

// Kind categorizes a terminal error so main can choose an exit code and a
// presentation without re-parsing error strings.
type Kind int

const (
	// Generic covers an empty or otherwise unclassified failure.
	Generic Kind = iota + 1
	// Usage covers bad flags, invalid tag combinations, invalid refs, and
	// structural violations of the relative/base-branch invariants.
	Usage
	// Conflict covers a merge-tree reporting path conflicts while
	// synthesizing commits.
	Conflict
	// ShellFailure covers an auxiliary subprocess (editor, pre-upload hook)
	// exiting non-zero.
	ShellFailure
	// ReviewPlatform covers the remote returning GraphQL errors outside the
	// retryable set.
	ReviewPlatform
	// Request covers a non-2xx HTTP response after retry exhaustion.
	Request
)

// ExitCode returns the process exit code for the kind, per spec.
func (k Kind) ExitCode() int {
	switch k {
	case Generic:
		return 1
	case Usage:
		return 2
	case Conflict:
		return 3
	case ShellFailure:
		return 4
	case ReviewPlatform:
		return 5
	case Request:
		return 6
	default:
		return 1
	}
}

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

// Usagef builds a Usage error with a formatted message, wrapped with a stack
// trace.
func Usagef(format string, args ...interface{}) error {
	return errors.WithStack(&kindError{kind: Usage, msg: errors.Errorf(format, args...).Error()})
}

// ShellFailuref builds a ShellFailure error.
func ShellFailuref(format string, args ...interface{}) error {
	return errors.WithStack(&kindError{kind: ShellFailure, msg: errors.Errorf(format, args...).Error()})
}

// ReviewPlatformf builds a ReviewPlatform error.
func ReviewPlatformf(format string, args ...interface{}) error {
	return errors.WithStack(&kindError{kind: ReviewPlatform, msg: errors.Errorf(format, args...).Error()})
}

// Requestf builds a Request error.
func Requestf(format string, args ...interface{}) error {
	return errors.WithStack(&kindError{kind: Request, msg: errors.Errorf(format, args...).Error()})
}

// Runtimef builds a Runtime invariant-breach error. These indicate bugs.
func Runtimef(format string, args ...interface{}) error {
	return errors.WithStack(&kindError{kind: Generic, msg: "internal error: " + errors.Errorf(format, args...).Error()})
}

// ConflictError carries the context needed to render actionable advice about
// a merge-tree conflict encountered while synthesizing a commit.
type ConflictError struct {
	Topic        string
	CommitTitle  string
	CommitHash   string
	ParentSource string
	ResultTree   string
	Conflicts    []string
}

func (e *ConflictError) Error() string {
	msg := errors.Errorf(
		"conflict synthesizing %q (%s) in topic %q onto %s",
		e.CommitTitle, e.CommitHash[:min(8, len(e.CommitHash))], e.Topic, e.ParentSource,
	).Error()
	if len(e.Conflicts) > 0 {
		msg += ": " + e.Conflicts[0]
	}
	return msg
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// KindOf extracts the Kind from err if it (or something it wraps) carries
// one, defaulting to Generic.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return Conflict
	}
	return Generic
}
