package actions

import (
	"fmt"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
	"github.com/bitcomplete/revup/gitops"
	"github.com/bitcomplete/revup/stack"
	"github.com/urfave/cli/v2"
)

// ToolkitDetectBranch prints the best base branch (or, with --show-all, every
// tied candidate) for HEAD.
func ToolkitDetectBranch(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)
	limitToBaseBranches := !c.Bool("no-limit")

	if c.Bool("show-all") {
		candidates, err := d.Git.GetBestBaseBranchCandidates(ctx, "HEAD", limitToBaseBranches, false)
		if err != nil {
			return err
		}
		fmt.Println(joinComma(candidates))
		return nil
	}
	branch, err := d.Git.GetBestBaseBranch(ctx, "HEAD", limitToBaseBranches, false)
	if err != nil {
		return err
	}
	fmt.Println(branch)
	return nil
}

// ToolkitCherryPick prints the hash of a synthetic cherry-pick of --commit
// onto --parent, without touching the working tree or HEAD.
func ToolkitCherryPick(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)

	commit := c.String("commit")
	parent := c.String("parent")
	if err := d.Git.VerifyBranchOrCommit(ctx, commit); err != nil {
		return err
	}
	if err := d.Git.VerifyBranchOrCommit(ctx, parent); err != nil {
		return err
	}

	out, err := d.Git.RevList(ctx, commit, gitops.RevListOpts{MaxRevs: 1, Header: true})
	if err != nil {
		return err
	}
	headers := gitops.ParseRevList(out)
	if len(headers) != 1 {
		return errs.Usagef("commit %s doesn't exist", commit)
	}

	parentHash, err := d.Git.ToCommitHash(ctx, parent)
	if err != nil {
		return err
	}
	hash, err := d.Git.SyntheticCherryPickFromCommit(ctx, headers[0], parentHash)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// ToolkitDiffTarget prints the hash of a virtual diff target built from the
// given old/new head and base commits.
func ToolkitDiffTarget(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)

	oldHead := c.String("old-head")
	newHead := c.String("new-head")
	if err := d.Git.VerifyBranchOrCommit(ctx, oldHead); err != nil {
		return err
	}
	if err := d.Git.VerifyBranchOrCommit(ctx, newHead); err != nil {
		return err
	}

	oldBase := c.String("old-base")
	if oldBase == "" {
		oldBase = oldHead + "~"
	}
	newBase := c.String("new-base")
	if newBase == "" {
		newBase = newHead + "~"
	}

	oldHeadHash, err := d.Git.ToCommitHash(ctx, oldHead)
	if err != nil {
		return err
	}
	oldBaseHash, err := d.Git.ToCommitHash(ctx, oldBase)
	if err != nil {
		return err
	}
	newHeadHash, err := d.Git.ToCommitHash(ctx, newHead)
	if err != nil {
		return err
	}
	newBaseHash, err := d.Git.ToCommitHash(ctx, newBase)
	if err != nil {
		return err
	}
	var parentHash gitops.GitCommitHash
	if p := c.String("parent"); p != "" {
		parentHash, err = d.Git.ToCommitHash(ctx, p)
		if err != nil {
			return err
		}
	}

	hash, err := d.Git.MakeVirtualDiffTarget(ctx, oldBaseHash, oldHeadHash, newBaseHash, newHeadHash, parentHash)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// ToolkitForkPoint prints the first-parent fork point of its two branch
// arguments.
func ToolkitForkPoint(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)

	if c.Args().Len() != 2 {
		return errs.Usagef("fork-point requires exactly two branches")
	}
	a, b := c.Args().Get(0), c.Args().Get(1)
	if err := d.Git.VerifyBranchOrCommit(ctx, a); err != nil {
		return err
	}
	if err := d.Git.VerifyBranchOrCommit(ctx, b); err != nil {
		return err
	}

	point, err := d.Git.ForkPoint(ctx, a, b)
	if err != nil {
		return err
	}
	fmt.Println(point)
	return nil
}

// ToolkitClosestBranch prints the best base branch for a single commit/branch
// argument, without limiting to release branches.
func ToolkitClosestBranch(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)

	if c.Args().Len() != 1 {
		return errs.Usagef("closest-branch requires exactly one branch")
	}
	branch := c.Args().Get(0)
	if err := d.Git.VerifyBranchOrCommit(ctx, branch); err != nil {
		return err
	}

	best, err := d.Git.GetBestBaseBranch(ctx, branch, false, c.Bool("allow-self"))
	if err != nil {
		return err
	}
	fmt.Println(best)
	return nil
}

// ToolkitListTopics runs just the topic parser between the base branch and
// HEAD and prints the resulting topic names, optionally with each topic's
// commit ids or titles indented beneath it.
func ToolkitListTopics(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)

	baseBranch := c.String("base-branch")
	if baseBranch == "" {
		var err error
		baseBranch, err = d.Git.GetBestBaseBranch(ctx, "HEAD", true, false)
		if err != nil {
			return err
		}
	}
	forkRef := baseBranch
	if rel := c.String("relative-branch"); rel != "" {
		forkRef = rel
	}

	forkPoint, err := d.Git.ForkPoint(ctx, "HEAD", forkRef)
	if err != nil {
		return err
	}
	out, err := d.Git.RevList(ctx, "HEAD", gitops.RevListOpts{
		Exclude:     string(forkPoint),
		FirstParent: true,
		Header:      true,
	})
	if err != nil {
		return err
	}
	headers := gitops.ParseRevList(out)

	s, err := stack.BuildTopicStack(ctx, headers, stack.BuildOpts{
		RemoteName: d.RemoteName,
		AutoTopic:  false,
	})
	if err != nil {
		return err
	}

	for _, t := range s.Topics {
		name := t.Name
		if name == "" {
			name = "(topicless)"
		}
		fmt.Println(name)
		for _, commit := range t.Commits {
			switch {
			case c.Bool("commit-ids"):
				fmt.Printf("  %s\n", commit.Header.CommitID)
			case c.Bool("titles"):
				fmt.Printf("  %s\n", commit.Header.Title)
			}
		}
	}
	return nil
}

func joinComma(s []string) string {
	out := ""
	for i, v := range s {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}
