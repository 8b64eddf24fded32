package errs

import (
	"testing"

	"github.com/pkg/errors"
)

func TestKindOfRecognizesEachConstructor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"usage", Usagef("bad flag %s", "--foo"), Usage},
		{"shell", ShellFailuref("editor exited %d", 1), ShellFailure},
		{"review-platform", ReviewPlatformf("graphql error"), ReviewPlatform},
		{"request", Requestf("HTTP %d", 500), Request},
		{"runtime", Runtimef("unreachable"), Generic},
		{"plain", errors.New("boom"), Generic},
		{"nil", nil, Kind(0)},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Errorf("%s: KindOf = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestKindOfSeesThroughWrapping(t *testing.T) {
	wrapped := errors.Wrap(Usagef("nope"), "while doing a thing")
	if got := KindOf(wrapped); got != Usage {
		t.Errorf("KindOf(wrapped) = %v, want Usage", got)
	}
}

func TestConflictErrorIsReportedAsConflictKind(t *testing.T) {
	err := &ConflictError{
		Topic:        "widgets",
		CommitTitle:  "Add widget",
		CommitHash:   "deadbeefcafe",
		ParentSource: "origin/main",
		Conflicts:    []string{"path/to/file.go"},
	}
	if got := KindOf(err); got != Conflict {
		t.Errorf("KindOf(ConflictError) = %v, want Conflict", got)
	}
	msg := err.Error()
	if !contains(msg, "Add widget") || !contains(msg, "widgets") || !contains(msg, "path/to/file.go") {
		t.Errorf("ConflictError.Error() = %q, missing expected pieces", msg)
	}
}

func TestConflictErrorHandlesShortHash(t *testing.T) {
	err := &ConflictError{CommitTitle: "x", CommitHash: "ab", ParentSource: "main"}
	// Must not panic slicing CommitHash[:8] on a 2-character hash.
	_ = err.Error()
}

func TestExitCodes(t *testing.T) {
	cases := map[Kind]int{
		Generic:        1,
		Usage:          2,
		Conflict:       3,
		ShellFailure:   4,
		ReviewPlatform: 5,
		Request:        6,
		Kind(99):       1,
	}
	for kind, want := range cases {
		if got := kind.ExitCode(); got != want {
			t.Errorf("%v.ExitCode() = %d, want %d", kind, got, want)
		}
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
