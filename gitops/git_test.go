package gitops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// These tests exercise the real git binary against scratch repositories
// rather than mocking it, mirroring the package's own "never touch a git
// object directly" philosophy: there is nothing to fake here, only a real
// repo to drive.

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

// newTestGit sets up a bare "origin" remote and a working clone on a "main"
// branch with one pushed commit, and returns a *Git bound to the clone.
func newTestGit(t *testing.T) (*Git, string) {
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
	sh := NewShell(true, workDir)
	g, err := NewGit(ctx, sh, "", "origin", "main", "", false, "true")
	if err != nil {
		t.Fatalf("NewGit: %v", err)
	}
	return g, workDir
}

func TestForkPointFindsCommonAncestor(t *testing.T) {
	g, dir := newTestGit(t)
	ctx := context.Background()

	base := runGit(t, dir, "rev-parse", "HEAD")
	writeTestFile(t, dir, "a.txt", "a\n")
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-m", "Add a")
	writeTestFile(t, dir, "b.txt", "b\n")
	runGit(t, dir, "add", "b.txt")
	runGit(t, dir, "commit", "-m", "Add b")

	fork, err := g.ForkPoint(ctx, "HEAD", "origin/main")
	if err != nil {
		t.Fatalf("ForkPoint: %v", err)
	}
	if string(fork) != base {
		t.Errorf("ForkPoint = %s, want %s", fork, base)
	}
}

func TestForkPointNoNewCommitsReturnsRef(t *testing.T) {
	g, _ := newTestGit(t)
	ctx := context.Background()

	fork, err := g.ForkPoint(ctx, "HEAD", "origin/main")
	if err != nil {
		t.Fatalf("ForkPoint: %v", err)
	}
	if fork != "HEAD" {
		t.Errorf("ForkPoint = %s, want HEAD when ref introduces no commits", fork)
	}
}

func TestRevListAndParseRevList(t *testing.T) {
	g, dir := newTestGit(t)
	ctx := context.Background()

	writeTestFile(t, dir, "a.txt", "a\n")
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-m", "Add a")
	writeTestFile(t, dir, "b.txt", "b\n")
	runGit(t, dir, "add", "b.txt")
	runGit(t, dir, "commit", "-m", "Add b")

	out, err := g.RevList(ctx, "HEAD", RevListOpts{Exclude: "origin/main", Header: true})
	if err != nil {
		t.Fatalf("RevList: %v", err)
	}
	headers := ParseRevList(out)
	if len(headers) != 2 {
		t.Fatalf("got %d headers, want 2", len(headers))
	}
	if headers[0].Title != "Add a" || headers[1].Title != "Add b" {
		t.Errorf("headers out of order: %+v", headers)
	}
	if headers[1].Parents[0] != headers[0].CommitID {
		t.Errorf("Add b's parent = %s, want %s", headers[1].Parents[0], headers[0].CommitID)
	}
}

func TestGetGitHubRepoInfoHTTPS(t *testing.T) {
	g, dir := newTestGit(t)
	ctx := context.Background()
	runGit(t, dir, "remote", "set-url", "origin", "https://github.com/acme/widgets.git")

	info, err := g.GetGitHubRepoInfo(ctx, "github.com", "origin")
	if err != nil {
		t.Fatalf("GetGitHubRepoInfo: %v", err)
	}
	if info.Owner != "acme" || info.Name != "widgets" {
		t.Errorf("GetGitHubRepoInfo = %+v, want acme/widgets", info)
	}
}

func TestGetGitHubRepoInfoSSH(t *testing.T) {
	g, dir := newTestGit(t)
	ctx := context.Background()
	runGit(t, dir, "remote", "set-url", "origin", "git@github.com:acme/widgets.git")

	info, err := g.GetGitHubRepoInfo(ctx, "github.com", "origin")
	if err != nil {
		t.Fatalf("GetGitHubRepoInfo: %v", err)
	}
	if info.Owner != "acme" || info.Name != "widgets" {
		t.Errorf("GetGitHubRepoInfo = %+v, want acme/widgets", info)
	}
}

func TestGetGitHubRepoInfoUnknownRemoteIsEmpty(t *testing.T) {
	g, _ := newTestGit(t)
	ctx := context.Background()

	info, err := g.GetGitHubRepoInfo(ctx, "github.com", "nonexistent")
	if err != nil {
		t.Fatalf("GetGitHubRepoInfo: %v", err)
	}
	if info.Owner != "" || info.Name != "" {
		t.Errorf("GetGitHubRepoInfo on a missing remote = %+v, want zero value", info)
	}
}

func TestGetBestBaseBranchSingleCandidate(t *testing.T) {
	g, dir := newTestGit(t)
	ctx := context.Background()
	writeTestFile(t, dir, "a.txt", "a\n")
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-m", "Add a")

	best, err := g.GetBestBaseBranch(ctx, "HEAD", true, false)
	if err != nil {
		t.Fatalf("GetBestBaseBranch: %v", err)
	}
	if best != "origin/main" {
		t.Errorf("GetBestBaseBranch = %s, want origin/main", best)
	}
}

func TestIsAncestor(t *testing.T) {
	g, dir := newTestGit(t)
	ctx := context.Background()
	base := runGit(t, dir, "rev-parse", "HEAD")
	writeTestFile(t, dir, "a.txt", "a\n")
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-m", "Add a")

	ok, err := g.IsAncestor(ctx, "HEAD", base)
	if err != nil {
		t.Fatalf("IsAncestor: %v", err)
	}
	if !ok {
		t.Error("IsAncestor(HEAD, base) = false, want true")
	}

	ok, err = g.IsAncestor(ctx, base, "HEAD")
	if err != nil {
		t.Fatalf("IsAncestor: %v", err)
	}
	if ok {
		t.Error("IsAncestor(base, HEAD) = true, want false")
	}
}

func TestHaveIdenticalTrees(t *testing.T) {
	g, dir := newTestGit(t)
	ctx := context.Background()
	head := GitCommitHash(runGit(t, dir, "rev-parse", "HEAD"))

	same, err := g.HaveIdenticalTrees(ctx, head, head)
	if err != nil {
		t.Fatalf("HaveIdenticalTrees: %v", err)
	}
	if !same {
		t.Error("a commit should have an identical tree to itself")
	}

	writeTestFile(t, dir, "a.txt", "a\n")
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-m", "Add a")
	newHead := GitCommitHash(runGit(t, dir, "rev-parse", "HEAD"))

	same, err = g.HaveIdenticalTrees(ctx, head, newHead)
	if err != nil {
		t.Fatalf("HaveIdenticalTrees: %v", err)
	}
	if same {
		t.Error("commits with different content should not have identical trees")
	}
}

func TestCommitTreeReusesExistingTree(t *testing.T) {
	g, dir := newTestGit(t)
	ctx := context.Background()
	head := runGit(t, dir, "rev-parse", "HEAD")
	tree := runGit(t, dir, "rev-parse", "HEAD^{tree}")

	newHash, err := g.CommitTree(ctx, CommitHeader{
		Tree:           GitTreeHash(tree),
		Parents:        []GitCommitHash{GitCommitHash(head)},
		AuthorName:     "Test",
		AuthorEmail:    "test@example.com",
		CommitterName:  "Test",
		CommitterEmail: "test@example.com",
		CommitMsg:      "Synthetic commit",
	})
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}

	gotTree := runGit(t, dir, "rev-parse", string(newHash)+"^{tree}")
	if gotTree != tree {
		t.Errorf("new commit's tree = %s, want %s", gotTree, tree)
	}
	gotParent := runGit(t, dir, "rev-parse", string(newHash)+"^")
	if gotParent != head {
		t.Errorf("new commit's parent = %s, want %s", gotParent, head)
	}
}

func TestSoftResetMovesBranchOnly(t *testing.T) {
	g, dir := newTestGit(t)
	ctx := context.Background()
	base := runGit(t, dir, "rev-parse", "HEAD")
	writeTestFile(t, dir, "a.txt", "a\n")
	runGit(t, dir, "add", "a.txt")
	runGit(t, dir, "commit", "-m", "Add a")

	if err := g.SoftReset(ctx, GitCommitHash(base), nil); err != nil {
		t.Fatalf("SoftReset: %v", err)
	}
	if got := runGit(t, dir, "rev-parse", "HEAD"); got != base {
		t.Errorf("HEAD after SoftReset = %s, want %s", got, base)
	}
	// The working tree and index are untouched by --soft: a.txt should still
	// be staged.
	status := runGit(t, dir, "diff", "--cached", "--name-only")
	if status != "a.txt" {
		t.Errorf("staged files after SoftReset = %q, want a.txt", status)
	}
}

func TestIsCommitHash(t *testing.T) {
	if !IsCommitHash("deadbeef") {
		t.Error("an 8-char hex string should look like a commit hash")
	}
	if IsCommitHash("main") {
		t.Error("a branch name should not look like a commit hash")
	}
}

func TestCommitsMatch(t *testing.T) {
	a := CommitHeader{Title: "x", AuthorName: "a", AuthorEmail: "a@x.com", CommitterName: "a", CommitterEmail: "a@x.com", CommitMsg: "x\n"}
	b := a
	b.CommitID = "somethingdifferent"
	if !CommitsMatch(a, b) {
		t.Error("commits differing only in CommitID should match")
	}
	b.Title = "y"
	if CommitsMatch(a, b) {
		t.Error("commits with different titles should not match")
	}
}
