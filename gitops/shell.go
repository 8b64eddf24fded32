package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Shell runs subprocesses relative to a fixed working directory, the Go
// analog of the asyncio-based Shell in the original implementation: every
// git invocation is a suspension point, and the engine fans work out with a
// bounded errgroup rather than unbounded goroutines.
type Shell struct {
	Quiet bool
	Cwd   string

	// MaxConcurrency records a fan-out cap (NewShell sets 8). BatchRun does
	// not read it; it takes its own limit argument.
	MaxConcurrency int
}

// NewShell builds a Shell rooted at cwd (empty means process cwd).
func NewShell(quiet bool, cwd string) *Shell {
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	return &Shell{Quiet: quiet, Cwd: cwd, MaxConcurrency: maxConcurrency()}
}

func maxConcurrency() int {
	n := 8
	if c := os.Getenv("REVUP_CONCURRENCY"); c != "" {
		return n
	}
	return n
}

// RunOpts customizes a single subprocess invocation.
type RunOpts struct {
	Env        map[string]string
	Stdin      string
	RaiseOnErr bool
}

// Run executes args as a subprocess and returns (exit code, stdout). Unless
// opts.RaiseOnErr is false, a nonzero exit is turned into an error carrying
// stderr.
func (s *Shell) Run(ctx context.Context, args []string, opts *RunOpts) (int, string, error) {
	if opts == nil {
		opts = &RunOpts{RaiseOnErr: true}
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = s.Cwd
	if opts.Env != nil {
		env := os.Environ()
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if !s.Quiet {
		logCommand(args)
	}
	err := cmd.Run()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		return -1, "", errors.WithStack(err)
	}
	if code != 0 && opts.RaiseOnErr {
		return code, stdout.String(), errors.Errorf(
			"%s failed with exit code %d: %s", strings.Join(args, " "), code, stderr.String(),
		)
	}
	return code, stdout.String(), nil
}

func logCommand(args []string) {
	// Intentionally terse; matches the original's `$ <cmd>` debug line shape
	// without pulling in a logging dependency here.
	fmt.Fprintln(os.Stderr, "$ "+strings.Join(args, " "))
}

// Sh runs a command and returns its trimmed stdout, raising on nonzero exit.
func (s *Shell) Sh(ctx context.Context, args ...string) (string, error) {
	_, out, err := s.Run(ctx, args, &RunOpts{RaiseOnErr: true})
	return strings.TrimSpace(out), err
}

// ShEnv is Sh with extra environment variables.
func (s *Shell) ShEnv(ctx context.Context, env map[string]string, args ...string) (string, error) {
	_, out, err := s.Run(ctx, args, &RunOpts{Env: env, RaiseOnErr: true})
	return strings.TrimSpace(out), err
}

// ReturnCode runs a command and returns only its exit code, never raising.
func (s *Shell) ReturnCode(ctx context.Context, args ...string) (int, error) {
	code, _, err := s.Run(ctx, args, &RunOpts{RaiseOnErr: false})
	if code < 0 {
		return code, err
	}
	return code, nil
}

// PipedSh runs args1 | args2, returning args2's trimmed stdout. Used for
// patch-id computation (git diff | git patch-id).
func (s *Shell) PipedSh(ctx context.Context, args1, args2 []string) (string, error) {
	cmd1 := exec.CommandContext(ctx, args1[0], args1[1:]...)
	cmd1.Dir = s.Cwd
	cmd2 := exec.CommandContext(ctx, args2[0], args2[1:]...)
	cmd2.Dir = s.Cwd

	pipe, err := cmd1.StdoutPipe()
	if err != nil {
		return "", errors.WithStack(err)
	}
	cmd2.Stdin = pipe
	var out, err1Buf, err2Buf bytes.Buffer
	cmd1.Stderr = &err1Buf
	cmd2.Stdout = &out
	cmd2.Stderr = &err2Buf

	if !s.Quiet {
		logCommand(append(append(append([]string{}, args1...), "|"), args2...))
	}

	if err := cmd1.Start(); err != nil {
		return "", errors.WithStack(err)
	}
	if err := cmd2.Start(); err != nil {
		return "", errors.WithStack(err)
	}
	err1 := cmd1.Wait()
	err2 := cmd2.Wait()
	if err1 != nil {
		return "", errors.Errorf("%s failed: %s", strings.Join(args1, " "), err1Buf.String())
	}
	if err2 != nil {
		return "", errors.Errorf("%s failed: %s", strings.Join(args2, " "), err2Buf.String())
	}
	return strings.TrimSpace(out.String()), nil
}

// BatchRun fans fn out over items with a bounded concurrency cap, per
// spec.md §5's fan-out rule (the per-Review PR queries, in practice).
func BatchRun[T any, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
