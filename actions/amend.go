package actions

import (
	"github.com/bitcomplete/revup/config"
	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
	"github.com/bitcomplete/revup/gitops"
	"github.com/bitcomplete/revup/stack"
	"github.com/urfave/cli/v2"
)

// Amend folds the currently staged changes into an existing topic, then
// restacks everything above it.
func Amend(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)

	if config.ResolveBool(c, "all") {
		if _, err := d.Git.GitStdout(ctx, "add", "--update"); err != nil {
			return err
		}
	}
	tree, err := d.Git.GitStdout(ctx, "write-tree")
	if err != nil {
		return errs.Usagef("nothing staged to amend (index has conflicts or is empty): %v", err)
	}

	mainBranch := d.Git.MainBranch
	forkPoint, err := d.Git.ForkPoint(ctx, "HEAD", d.RemoteName+"/"+mainBranch)
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
	if len(headers) == 0 {
		return errs.Usagef("no commits to amend between %s and HEAD", mainBranch)
	}

	target := c.String("topic")
	if target == "" {
		tags, _, err := stack.ParseTags(headers[len(headers)-1].CommitMsg, d.RemoteName, false)
		if err != nil {
			return err
		}
		target = tags.Topic
		if target == "" {
			return errs.Usagef("HEAD carries no Topic:, pass --topic explicitly")
		}
	}

	_, err = stack.Amend(
		ctx,
		headers,
		stack.AmendOpts{
			TargetTopic: target,
			Insert:      config.ResolveBool(c, "insert"),
			StagedTree:  gitops.GitTreeHash(tree),
			Message:     c.String("message"),
		},
		stack.BuildOpts{RemoteName: d.RemoteName, AutoTopic: true},
		stack.ResolveOpts{
			RemoteName: d.RemoteName,
			BaseBranch: d.RemoteName + "/" + mainBranch,
			Uploader:   defaultUploader(d),
		},
	)
	if err != nil {
		if ce, ok := err.(*errs.ConflictError); ok {
			d.ErrorLog.Println(ce.Error())
		}
		return err
	}

	d.InfoLog.Printf("amended topic %q\n", target)
	return nil
}
