package stack

import (
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/gitops"
)

// These tests drive a real scratch repository rather than mocking git,
// mirroring gitops' own tests.

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newClassifyTestGit(t *testing.T) (*gitops.Git, context.Context) {
	t.Helper()
	root := t.TempDir()
	remoteDir := filepath.Join(root, "origin.git")
	workDir := filepath.Join(root, "work")

	runGit(t, root, "init", "--bare", remoteDir)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	runGit(t, workDir, "init", "-b", "main")
	runGit(t, workDir, "config", "user.email", "test@example.com")
	runGit(t, workDir, "config", "user.name", "Test")
	runGit(t, workDir, "remote", "add", "origin", remoteDir)

	writeTestFile(t, workDir, "README.md", "hello\n")
	runGit(t, workDir, "add", "README.md")
	runGit(t, workDir, "commit", "-m", "Initial commit")
	runGit(t, workDir, "push", "origin", "main")

	ctx := context.Background()
	sh := gitops.NewShell(true, workDir)
	g, err := gitops.NewGit(ctx, sh, "", "origin", "main", "", false, "true")
	if err != nil {
		t.Fatalf("NewGit: %v", err)
	}
	discard := log.New(io.Discard, "", 0)
	ctx = deps.ContextWithDeps(ctx, &deps.Deps{
		Git:      g,
		ErrorLog: discard,
		InfoLog:  discard,
		DebugLog: discard,
	})
	return g, ctx
}

func commitHeader(t *testing.T, ctx context.Context, g *gitops.Git, rev string) gitops.CommitHeader {
	t.Helper()
	out, err := g.RevList(ctx, rev, gitops.RevListOpts{Header: true, MaxRevs: 1})
	if err != nil {
		t.Fatalf("RevList: %v", err)
	}
	all := gitops.ParseRevList(out)
	if len(all) == 0 {
		t.Fatalf("no commit found for %s", rev)
	}
	return all[0]
}

// TestMarkRebasesPureRebaseGoesNoChange verifies that a Review whose local
// commit carries the same patch as the already-pushed remote tip, and whose
// base hasn't moved, is classified NOCHANGE rather than re-pushed.
func TestMarkRebasesPureRebaseGoesNoChange(t *testing.T) {
	g, ctx := newClassifyTestGit(t)

	mainHash, err := g.ToCommitHash(ctx, "main")
	if err != nil {
		t.Fatalf("ToCommitHash: %v", err)
	}

	writeTestFile(t, g.Sh.Cwd, "widget.txt", "v1\n")
	runGit(t, g.Sh.Cwd, "add", "widget.txt")
	runGit(t, g.Sh.Cwd, "commit", "-m", "Add widget")
	localHash := gitops.GitCommitHash(runGit(t, g.Sh.Cwd, "rev-parse", "HEAD"))
	localHeader := commitHeader(t, ctx, g, string(localHash))

	t1 := &Topic{
		Name:       "widgets",
		Commits:    []Commit{{Header: localHeader}},
		BaseBranch: "origin/main",
	}
	r := &Review{
		Topic:            t1,
		BaseBranch:       "origin/main",
		BaseRefOid:       string(mainHash),
		Number:           1,
		State:            "OPEN",
		HeadRefOid:       string(localHash),
		RemoteBaseRefOid: string(mainHash),
	}
	t1.Reviews = []*Review{r}
	s := &TopicStack{Topics: []*Topic{t1}, ByName: map[string]*Topic{"widgets": t1}}

	if err := MarkRebases(ctx, s, ClassifyOpts{}); err != nil {
		t.Fatalf("MarkRebases: %v", err)
	}
	if !r.IsRebase || !r.IsPure {
		t.Errorf("IsRebase/IsPure = %v/%v, want true/true", r.IsRebase, r.IsPure)
	}
	if r.PushStatus != PushStatusNoChange {
		t.Errorf("PushStatus = %v, want nochange", r.PushStatus)
	}
	if r.Tip != localHash {
		t.Errorf("Tip = %v, want %v copied from remote head", r.Tip, localHash)
	}
}

// TestPromoteRebasesLiftsAncestor verifies the promotion pass (spec §3, §4.4
// step 7): a REBASE-classified ancestor on the same branch as a PUSHED
// descendant gets promoted to PUSHED, since a PR can never be force-pushed
// onto an ancestor commit the remote hasn't seen yet.
func TestPromoteRebasesLiftsAncestor(t *testing.T) {
	discard := log.New(io.Discard, "", 0)
	d := &deps.Deps{ErrorLog: discard, InfoLog: discard, DebugLog: discard}

	base := &Topic{Name: "base", BaseBranch: "origin/main"}
	baseReview := &Review{Topic: base, BaseBranch: "origin/main", PushStatus: PushStatusRebase}
	base.Reviews = []*Review{baseReview}

	top := &Topic{Name: "top", Base: base, BaseBranch: "origin/main"}
	topReview := &Review{Topic: top, BaseBranch: "origin/main", PushStatus: PushStatusPushed}
	top.Reviews = []*Review{topReview}

	s := &TopicStack{Topics: []*Topic{base, top}, ByName: map[string]*Topic{"base": base, "top": top}}

	promoteRebases(d, s)

	if baseReview.PushStatus != PushStatusPushed {
		t.Errorf("base PushStatus = %v, want pushed after promotion", baseReview.PushStatus)
	}
}

// TestPromoteRebasesLeavesOtherBranchesAlone verifies the promotion pass
// only walks a Review's own branch's ancestor chain: a REBASE Review for a
// different base branch on the same ancestor topic must not be touched.
func TestPromoteRebasesLeavesOtherBranchesAlone(t *testing.T) {
	discard := log.New(io.Discard, "", 0)
	d := &deps.Deps{ErrorLog: discard, InfoLog: discard, DebugLog: discard}

	base := &Topic{Name: "base"}
	relevantAncestor := &Review{Topic: base, BaseBranch: "origin/main", PushStatus: PushStatusRebase}
	otherAncestor := &Review{Topic: base, BaseBranch: "origin/release", PushStatus: PushStatusRebase}
	base.Reviews = []*Review{relevantAncestor, otherAncestor}

	top := &Topic{Name: "top", Base: base}
	topReview := &Review{Topic: top, BaseBranch: "origin/main", PushStatus: PushStatusPushed}
	top.Reviews = []*Review{topReview}

	s := &TopicStack{Topics: []*Topic{base, top}, ByName: map[string]*Topic{"base": base, "top": top}}
	promoteRebases(d, s)

	if relevantAncestor.PushStatus != PushStatusPushed {
		t.Errorf("origin/main ancestor PushStatus = %v, want pushed", relevantAncestor.PushStatus)
	}
	if otherAncestor.PushStatus != PushStatusRebase {
		t.Errorf("origin/release ancestor PushStatus = %v, want left as rebase", otherAncestor.PushStatus)
	}
}
