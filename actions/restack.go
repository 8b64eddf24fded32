package actions

import (
	"github.com/bitcomplete/revup/config"
	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
	"github.com/bitcomplete/revup/gitops"
	"github.com/bitcomplete/revup/stack"
	"github.com/urfave/cli/v2"
)

// Restack rebuilds the local commit stack so every commit reflects its
// topic's current base, without touching the remote.
func Restack(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)

	if err := requireCleanIndex(ctx); err != nil {
		return err
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
		d.InfoLog.Println("nothing to restack")
		return nil
	}

	s, err := stack.Restack(ctx, headers, stack.RestackOpts{
		BuildOpts: stack.BuildOpts{
			RemoteName: d.RemoteName,
			AutoTopic:  true,
		},
		ResolveOpts: stack.ResolveOpts{
			RemoteName: d.RemoteName,
			BaseBranch: d.RemoteName + "/" + mainBranch,
			Uploader:   defaultUploader(d),
		},
		TopiclessLast: config.ResolveBool(c, "topicless-last"),
	})
	if err != nil {
		if ce, ok := err.(*errs.ConflictError); ok {
			d.ErrorLog.Println(ce.Error())
		}
		return err
	}

	d.InfoLog.Printf("restacked %d topic(s)\n", len(s.Topics))
	return nil
}
