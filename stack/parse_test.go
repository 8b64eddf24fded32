package stack

import (
	"context"
	"testing"

	"github.com/bitcomplete/revup/gitops"
)

func TestParseTagsRecognizesTrailers(t *testing.T) {
	msg := "Add widget support\n\n" +
		"Body line one.\n" +
		"Topic: widgets\n" +
		"Relative: base-widget\n" +
		"Reviewers: alice, bob\n" +
		"Assignee: carol\n" +
		"Labels: enhancement, ui\n"

	tags, _, err := ParseTags(msg, "origin", false)
	if err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	if tags.Topic != "widgets" {
		t.Errorf("Topic = %q, want widgets", tags.Topic)
	}
	if tags.Relative != "base-widget" {
		t.Errorf("Relative = %q, want base-widget", tags.Relative)
	}
	if got, want := tags.Reviewers, []string{"alice", "bob"}; !equalStrings(got, want) {
		t.Errorf("Reviewers = %v, want %v", got, want)
	}
	if got, want := tags.Assignees, []string{"carol"}; !equalStrings(got, want) {
		t.Errorf("Assignees = %v, want %v", got, want)
	}
	if got, want := tags.Labels, []string{"enhancement", "ui"}; !equalStrings(got, want) {
		t.Errorf("Labels = %v, want %v", got, want)
	}
}

func TestParseTagsRelativeBranchGetsRemotePrefix(t *testing.T) {
	tags, _, err := ParseTags("Relative-Branch: feature/foo\n", "origin", false)
	if err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	if tags.RelativeBranch != "origin/feature/foo" {
		t.Errorf("RelativeBranch = %q, want origin/feature/foo", tags.RelativeBranch)
	}

	// Already prefixed: left alone.
	tags, _, err = ParseTags("Relative-Branch: origin/feature/foo\n", "origin", false)
	if err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	if tags.RelativeBranch != "origin/feature/foo" {
		t.Errorf("RelativeBranch = %q, want origin/feature/foo (no double prefix)", tags.RelativeBranch)
	}
}

func TestParseTagsStripRecognized(t *testing.T) {
	msg := "Title line\n\nBody.\nTopic: widgets\nReviewer: alice\n"
	_, stripped, err := ParseTags(msg, "origin", true)
	if err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	want := "Title line\n\nBody."
	if stripped != want {
		t.Errorf("stripped message = %q, want %q", stripped, want)
	}
}

func TestParseTagsRejectsDuplicateTopic(t *testing.T) {
	_, _, err := ParseTags("Topic: a\nTopic: b\n", "origin", false)
	if err == nil {
		t.Fatal("expected an error for a commit naming two topics")
	}
}

func TestParseTagsUnrecognizedLinesAreKept(t *testing.T) {
	msg := "Title\n\nSome-Other-Header: value"
	tags, kept, err := ParseTags(msg, "origin", true)
	if err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	if tags.Topic != "" {
		t.Errorf("Topic = %q, want empty", tags.Topic)
	}
	if kept != msg {
		t.Errorf("kept = %q, want message unchanged since no recognized tag existed", kept)
	}
}

func TestAutoTopicName(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Fix the widget renderer", "fix_the_widget_renderer"},
		{"[ui] Polish: button spacing across the board", "ui_polish_button_spacing_across"},
		{"one two three four five six seven", "one_two_three_four_five"},
	}
	for _, c := range cases {
		if got := autoTopicName(c.title); got != c.want {
			t.Errorf("autoTopicName(%q) = %q, want %q", c.title, got, c.want)
		}
	}
}

func TestBuildTopicStackGroupsByTopic(t *testing.T) {
	headers := []gitops.CommitHeader{
		{CommitID: "c1", CommitMsg: "First\n\nTopic: widgets\n", Title: "First"},
		{CommitID: "c2", CommitMsg: "Second\n\nno tags here\n", Title: "Second"},
		{CommitID: "c3", CommitMsg: "Third\n\nTopic: widgets\n", Title: "Third"},
		{CommitID: "c4", CommitMsg: "Fourth\n\nTopic: gadgets\n", Title: "Fourth"},
	}
	s, err := BuildTopicStack(context.Background(), headers, BuildOpts{RemoteName: "origin"})
	if err != nil {
		t.Fatalf("BuildTopicStack: %v", err)
	}
	if len(s.Topics) != 3 {
		t.Fatalf("got %d topics, want 3 (widgets, topicless, gadgets)", len(s.Topics))
	}
	widgets := s.ByName["widgets"]
	if widgets == nil || len(widgets.Commits) != 2 {
		t.Fatalf("widgets topic = %+v, want 2 commits", widgets)
	}
	if widgets.Commits[0].Header.CommitID != "c1" || widgets.Commits[1].Header.CommitID != "c3" {
		t.Errorf("widgets commits out of order: %+v", widgets.Commits)
	}
	if s.Topics[1].Name != "" || len(s.Topics[1].Commits) != 1 {
		t.Errorf("expected a single topicless commit between the two named topics, got %+v", s.Topics[1])
	}
}

func TestBuildTopicStackAutoTopic(t *testing.T) {
	headers := []gitops.CommitHeader{
		{CommitID: "c1", CommitMsg: "Fix the thing\n", Title: "Fix the thing"},
	}
	s, err := BuildTopicStack(context.Background(), headers, BuildOpts{RemoteName: "origin", AutoTopic: true})
	if err != nil {
		t.Fatalf("BuildTopicStack: %v", err)
	}
	if len(s.Topics) != 1 || s.Topics[0].Name != "fix_the_thing" {
		t.Fatalf("got topics %+v, want one named fix_the_thing", s.Topics)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
