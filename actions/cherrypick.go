package actions

import (
	"strings"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
	"github.com/bitcomplete/revup/gitops"
	"github.com/urfave/cli/v2"
)

// CherryPick lands a whole branch's content onto HEAD as one squashed
// commit. Unlike every other command, it performs a real `git cherry-pick`
// and so is the one place in revup that touches the working tree.
func CherryPick(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)

	branch := c.Args().First()
	if branch == "" {
		return errs.Usagef("cherry-pick requires a branch argument")
	}

	branchRef, err := resolveOrFetchBranch(c, branch)
	if err != nil {
		return err
	}

	baseBranch := c.String("base-branch")
	if baseBranch == "" {
		baseBranch, err = d.Git.GetBestBaseBranch(ctx, branchRef, true, false)
		if err != nil {
			return err
		}
	}

	mergePoint, err := d.Git.ForkPoint(ctx, branchRef, baseBranch)
	if err != nil {
		return err
	}

	tree, err := d.Git.GitStdout(ctx, "rev-parse", branchRef+"^{tree}")
	if err != nil {
		return err
	}
	msg, err := d.Git.GitStdout(ctx, "log", "-1", "--format=%B", branchRef)
	if err != nil {
		return err
	}

	synthetic, err := d.Git.CommitTree(ctx, gitops.CommitHeader{
		Tree:      gitops.GitTreeHash(tree),
		Parents:   []gitops.GitCommitHash{mergePoint},
		CommitMsg: msg,
	})
	if err != nil {
		return err
	}

	code, err := d.Git.GitReturnCode(ctx, "cherry-pick", string(synthetic))
	if code != 0 {
		return cli.NewExitError(err, code)
	}
	return err
}

// resolveOrFetchBranch returns a ref that names branch, fetching it from the
// configured remote first if it doesn't already resolve locally.
func resolveOrFetchBranch(c *cli.Context, branch string) (string, error) {
	ctx := c.Context
	d := deps.FromContext(ctx)

	if ok, _ := d.Git.IsBranchOrCommit(ctx, branch); ok {
		return branch, nil
	}

	remoteRef := branch
	if !strings.HasPrefix(branch, d.RemoteName+"/") {
		remoteRef = d.RemoteName + "/" + branch
	}
	if ok, _ := d.Git.IsBranchOrCommit(ctx, remoteRef); ok {
		return remoteRef, nil
	}

	if _, err := d.Git.GitStdout(ctx, "fetch", d.RemoteName, branch); err != nil {
		return "", errs.Usagef("could not resolve or fetch branch %q: %v", branch, err)
	}
	if _, err := d.Git.GitStdout(ctx, "rev-parse", "--verify", "FETCH_HEAD"); err != nil {
		return "", errs.Usagef("fetched %q but could not resolve FETCH_HEAD", branch)
	}
	return "FETCH_HEAD", nil
}
