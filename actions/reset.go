package actions

import (
	"fmt"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
	"github.com/urfave/cli/v2"
)

// Reset hard-resets the current branch to its upstream tracking branch.
// Outside the topic-stack engine entirely: no topic parsing involved.
func Reset(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)

	currentBranch, err := d.Git.GitStdout(ctx, "branch", "--show-current")
	if err != nil {
		return err
	}
	if currentBranch == "" {
		return errs.Usagef("not on a branch")
	}

	const upstreamRef = "@{u}"
	if _, err := d.Git.GitStdout(ctx, "rev-parse", "--verify", upstreamRef); err != nil {
		return errs.Usagef("%s has no upstream tracking branch", currentBranch)
	}

	if err := d.Git.HardReset(ctx, upstreamRef); err != nil {
		return err
	}
	fmt.Printf("reset %s to %s\n", currentBranch, upstreamRef)
	return nil
}
