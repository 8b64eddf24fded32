package actions

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/gitops"
	"github.com/urfave/cli/v2"
)

func TestJoinComma(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b", "c"}, "a, b, c"},
	}
	for _, c := range cases {
		if got := joinComma(c.in); got != c.want {
			t.Errorf("joinComma(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func runActionsGit(t *testing.T, dir string, args ...string) string {
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

// newTestDeps sets up a scratch repo with a pushed "origin/main" and returns
// a context carrying Deps bound to it, along with the working directory.
func newTestDeps(t *testing.T) (context.Context, string) {
	t.Helper()
	root := t.TempDir()
	remoteDir := filepath.Join(root, "origin.git")
	workDir := filepath.Join(root, "work")

	runActionsGit(t, root, "init", "--bare", remoteDir)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	runActionsGit(t, workDir, "init", "-b", "main")
	runActionsGit(t, workDir, "config", "user.email", "test@example.com")
	runActionsGit(t, workDir, "config", "user.name", "Test")
	runActionsGit(t, workDir, "remote", "add", "origin", remoteDir)

	if err := os.WriteFile(filepath.Join(workDir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runActionsGit(t, workDir, "add", "README.md")
	runActionsGit(t, workDir, "commit", "-m", "Initial commit")
	runActionsGit(t, workDir, "push", "origin", "main")

	ctx := context.Background()
	sh := gitops.NewShell(true, workDir)
	g, err := gitops.NewGit(ctx, sh, "", "origin", "main", "", false, "true")
	if err != nil {
		t.Fatalf("NewGit: %v", err)
	}
	ctx = deps.ContextWithDeps(ctx, &deps.Deps{Git: g, RemoteName: "origin"})
	return ctx, workDir
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func TestToolkitDetectBranch(t *testing.T) {
	ctx, _ := newTestDeps(t)
	app := &cli.App{
		Name: "test",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-limit"},
			&cli.BoolFlag{Name: "show-all"},
		},
		Action: ToolkitDetectBranch,
	}
	out := captureStdout(t, func() {
		if err := app.RunContext(ctx, []string{"test"}); err != nil {
			t.Fatalf("app.Run: %v", err)
		}
	})
	if strings.TrimSpace(out) != "origin/main" {
		t.Errorf("ToolkitDetectBranch printed %q, want origin/main", out)
	}
}

func TestToolkitForkPoint(t *testing.T) {
	ctx, dir := newTestDeps(t)
	base := runActionsGit(t, dir, "rev-parse", "HEAD")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runActionsGit(t, dir, "add", "a.txt")
	runActionsGit(t, dir, "commit", "-m", "Add a")

	app := &cli.App{Name: "test", Action: ToolkitForkPoint}
	out := captureStdout(t, func() {
		if err := app.RunContext(ctx, []string{"test", "HEAD", "origin/main"}); err != nil {
			t.Fatalf("app.Run: %v", err)
		}
	})
	if strings.TrimSpace(out) != base {
		t.Errorf("ToolkitForkPoint printed %q, want %q", out, base)
	}
}

func TestToolkitForkPointRequiresTwoArgs(t *testing.T) {
	ctx, _ := newTestDeps(t)
	app := &cli.App{Name: "test", Action: ToolkitForkPoint}
	err := app.RunContext(ctx, []string{"test", "HEAD"})
	if err == nil {
		t.Fatal("expected an error when fork-point is given only one branch")
	}
}

func TestToolkitListTopicsPrintsTopicNames(t *testing.T) {
	ctx, dir := newTestDeps(t)

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runActionsGit(t, dir, "add", "a.txt")
	runActionsGit(t, dir, "commit", "-m", "Add widget\n\nTopic: widgets\n")

	app := &cli.App{
		Name: "test",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base-branch"},
			&cli.StringFlag{Name: "relative-branch"},
			&cli.BoolFlag{Name: "commit-ids"},
			&cli.BoolFlag{Name: "titles"},
		},
		Action: ToolkitListTopics,
	}
	out := captureStdout(t, func() {
		if err := app.RunContext(ctx, []string{"test"}); err != nil {
			t.Fatalf("app.Run: %v", err)
		}
	})
	if strings.TrimSpace(out) != "widgets" {
		t.Errorf("ToolkitListTopics printed %q, want widgets", out)
	}
}
