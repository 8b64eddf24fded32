package stack

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/gitops"
)

func testContext() context.Context {
	discard := log.New(io.Discard, "", 0)
	return deps.ContextWithDeps(context.Background(), &deps.Deps{
		ErrorLog: discard,
		InfoLog:  discard,
		DebugLog: discard,
	})
}

func TestResolveDerivesRemoteBranchAndBaseRefOid(t *testing.T) {
	ctx := testContext()
	s := &TopicStack{ByName: map[string]*Topic{}}
	topic := &Topic{
		Name: "widgets",
		Commits: []Commit{{
			Header: gitops.CommitHeader{
				Title:   "Add widget",
				Parents: []gitops.GitCommitHash{"base123"},
			},
			Tags: Tags{Topic: "widgets", Uploader: "alice"},
		}},
	}
	s.Topics = append(s.Topics, topic)
	s.ByName["widgets"] = topic

	err := Resolve(ctx, s, ResolveOpts{
		RemoteName: "origin",
		BaseBranch: "origin/main",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(topic.Reviews) != 1 || topic.Reviews[0].RemoteHead != "alice/revup/main/widgets" {
		t.Errorf("RemoteHead = %+v, want alice/revup/main/widgets", topic.Reviews)
	}
	if topic.Reviews[0].BaseRefOid != "base123" {
		t.Errorf("Review.BaseRefOid = %+v, want base123", topic.Reviews[0])
	}
	if topic.BaseBranch != "origin/main" {
		t.Errorf("BaseBranch = %q, want origin/main", topic.BaseBranch)
	}
}

func TestResolveRequiresUploader(t *testing.T) {
	ctx := testContext()
	s := &TopicStack{ByName: map[string]*Topic{}}
	topic := &Topic{
		Name: "widgets",
		Commits: []Commit{{
			Header: gitops.CommitHeader{Title: "Add widget", Parents: []gitops.GitCommitHash{"base123"}},
			Tags:   Tags{Topic: "widgets"},
		}},
	}
	s.Topics = append(s.Topics, topic)
	s.ByName["widgets"] = topic

	err := Resolve(ctx, s, ResolveOpts{RemoteName: "origin", BaseBranch: "origin/main"})
	if err == nil {
		t.Fatal("expected an error when no uploader is configured")
	}
}

func TestResolveExtractsDraftLabel(t *testing.T) {
	ctx := testContext()
	s := &TopicStack{ByName: map[string]*Topic{}}
	topic := &Topic{
		Name: "widgets",
		Commits: []Commit{{
			Header: gitops.CommitHeader{Title: "Add widget", Parents: []gitops.GitCommitHash{"base123"}},
			Tags:   Tags{Topic: "widgets", Uploader: "alice", Labels: []string{"draft", "ui"}},
		}},
	}
	s.Topics = append(s.Topics, topic)
	s.ByName["widgets"] = topic

	if err := Resolve(ctx, s, ResolveOpts{RemoteName: "origin", BaseBranch: "origin/main"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r := topic.Reviews[0]
	if !r.IsDraft {
		t.Error("a 'draft' label should set IsDraft")
	}
	if len(r.Labels) != 1 || r.Labels[0] != "ui" {
		t.Errorf("Labels = %v, want [ui] with draft stripped out", r.Labels)
	}
}

func TestResolveChainsRelativeTopics(t *testing.T) {
	ctx := testContext()
	s := &TopicStack{ByName: map[string]*Topic{}}
	base := &Topic{
		Name: "base",
		Commits: []Commit{{
			Header: gitops.CommitHeader{Title: "Base work", Parents: []gitops.GitCommitHash{"root"}},
			Tags:   Tags{Topic: "base", Uploader: "alice"},
		}},
	}
	top := &Topic{
		Name: "top",
		Commits: []Commit{{
			Header: gitops.CommitHeader{Title: "Top work", Parents: []gitops.GitCommitHash{"basehash"}},
			Tags:   Tags{Topic: "top", Relative: "base", Uploader: "alice"},
		}},
	}
	s.Topics = append(s.Topics, base, top)
	s.ByName["base"] = base
	s.ByName["top"] = top

	if err := Resolve(ctx, s, ResolveOpts{RemoteName: "origin", BaseBranch: "origin/main"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if top.Base != base {
		t.Error("top's Base should resolve to the base topic via Relative:")
	}
	if top.BaseBranch != base.BaseBranch {
		t.Errorf("top.BaseBranch = %q, want it to inherit base's %q", top.BaseBranch, base.BaseBranch)
	}
	// Relative topics don't get a BaseRefOid computed directly against a
	// branch; that's only for topics with no relative topic.
	if top.Reviews[0].BaseRefOid != "" {
		t.Errorf("top.Reviews[0].BaseRefOid = %q, want empty since it chains onto another topic", top.Reviews[0].BaseRefOid)
	}
}

func TestResolveMultipleBranchesProduceOneReviewEach(t *testing.T) {
	// The origin/release Review is not on the base branch, so Resolve looks
	// its base up through Git; give it a repository with that branch.
	g, ctx := newClassifyTestGit(t)
	runGit(t, g.Sh.Cwd, "push", "origin", "main:release")
	runGit(t, g.Sh.Cwd, "fetch", "origin")
	s := &TopicStack{ByName: map[string]*Topic{}}
	topic := &Topic{
		Name: "widgets",
		Commits: []Commit{{
			Header: gitops.CommitHeader{Title: "Add widget", Parents: []gitops.GitCommitHash{"base123"}},
			Tags: Tags{
				Topic:    "widgets",
				Uploader: "alice",
				Branch:   []string{"origin/main", "origin/release"},
			},
		}},
	}
	s.Topics = append(s.Topics, topic)
	s.ByName["widgets"] = topic

	if err := Resolve(ctx, s, ResolveOpts{RemoteName: "origin", BaseBranch: "origin/main"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(topic.Reviews) != 2 {
		t.Fatalf("got %d reviews, want 2 (one per Branch:)", len(topic.Reviews))
	}
	main := topic.ReviewForBranch("origin/main")
	release := topic.ReviewForBranch("origin/release")
	if main == nil || release == nil {
		t.Fatalf("ReviewForBranch missing a branch: %+v", topic.Reviews)
	}
	if main.RemoteHead != "alice/revup/main/widgets" {
		t.Errorf("main RemoteHead = %q, want alice/revup/main/widgets", main.RemoteHead)
	}
	if release.RemoteHead != "alice/revup/release/widgets" {
		t.Errorf("release RemoteHead = %q, want alice/revup/release/widgets", release.RemoteHead)
	}
	if topic.BaseBranch != "origin/main" {
		t.Errorf("BaseBranch = %q, want the first declared branch origin/main", topic.BaseBranch)
	}
}

func TestResolveRejectsBranchNotAmongRelativeTopics(t *testing.T) {
	ctx := testContext()
	s := &TopicStack{ByName: map[string]*Topic{}}
	base := &Topic{
		Name: "base",
		Commits: []Commit{{
			Header: gitops.CommitHeader{Title: "Base work", Parents: []gitops.GitCommitHash{"root"}},
			Tags:   Tags{Topic: "base", Uploader: "alice", Branch: []string{"origin/main"}},
		}},
	}
	top := &Topic{
		Name: "top",
		Commits: []Commit{{
			Header: gitops.CommitHeader{Title: "Top work", Parents: []gitops.GitCommitHash{"basehash"}},
			Tags:   Tags{Topic: "top", Relative: "base", Uploader: "alice", Branch: []string{"origin/release"}},
		}},
	}
	s.Topics = append(s.Topics, base, top)
	s.ByName["base"] = base
	s.ByName["top"] = top

	if err := Resolve(ctx, s, ResolveOpts{RemoteName: "origin", BaseBranch: "origin/main"}); err == nil {
		t.Fatal("expected an error: top's branch isn't among its relative's branches")
	}
}
