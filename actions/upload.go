package actions

import (
	"context"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/bitcomplete/revup/config"
	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
	"github.com/bitcomplete/revup/stack"
	"github.com/urfave/cli/v2"
)

// Upload synthesizes the local topic stack against any existing PRs, force
// pushes every topic that changed, and creates/updates the PRs themselves.
func Upload(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)

	if err := requireCleanIndex(ctx); err != nil {
		return err
	}
	if d.Auth == nil {
		return errs.Usagef("not logged in, run `revup auth` first")
	}

	gitHubRepo, err := newGitHubRepo(ctx, d.Git, d.Token(), d.GitHubURL, d.RemoteName)
	if err != nil {
		return err
	}

	s, err := loadTopicStack(ctx, true)
	if err != nil {
		return err
	}
	if len(s.Topics) == 0 {
		d.InfoLog.Println("nothing to upload")
		return nil
	}

	if err := stack.QueryExisting(ctx, gitHubRepo.Owner(), gitHubRepo.Name(), s.Topics); err != nil {
		return err
	}

	if err := stack.MarkRebases(ctx, s, stack.ClassifyOpts{SkipRebase: !config.ResolveBool(c, "rebase")}); err != nil {
		return err
	}

	if err := stack.Synthesize(ctx, s); err != nil {
		if ce, ok := err.(*errs.ConflictError); ok {
			d.ErrorLog.Println(ce.Error())
		}
		return err
	}

	if !config.ResolveBool(c, "skip-confirm") {
		ok, err := confirmUpload(s)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	if err := stack.ResolveUsersAndLabels(ctx, gitHubRepo.Client(), gitHubRepo.Owner(), gitHubRepo.Name(), s); err != nil {
		d.ErrorLog.Printf("warning: could not resolve reviewers/assignees/labels to ids: %v", err)
	}

	if err := stack.Push(ctx, s, stack.PushOpts{
		Owner:      gitHubRepo.Owner(),
		Repo:       gitHubRepo.Name(),
		RemoteName: d.RemoteName,
	}); err != nil {
		return err
	}

	for _, t := range s.Topics {
		if t.Name == "" {
			continue
		}
		for _, r := range t.Reviews {
			d.InfoLog.Printf("%s (%s): %s (%s)\n", t.Name, r.BaseBranch, r.URL, r.PrStatus)
		}
	}
	return nil
}

func confirmUpload(s *stack.TopicStack) (bool, error) {
	named := 0
	for _, t := range s.Topics {
		if t.Name != "" {
			named++
		}
	}
	if named == 0 {
		return false, nil
	}
	fmt.Printf("about to push %d topic(s):\n", named)
	for _, t := range s.Topics {
		if t.Name == "" {
			continue
		}
		for _, r := range t.Reviews {
			status := "new"
			switch {
			case r.PushStatus == stack.PushStatusNoChange:
				status = "no change"
			case r.PushStatus == stack.PushStatusRebase:
				status = "rebase only"
			case r.Number != 0:
				status = "updated"
			}
			fmt.Printf("  %s (%s): %s (%s)\n", t.Name, r.BaseBranch, t.Title(), status)
		}
	}
	confirmed := false
	prompt := &survey.Confirm{Message: "continue?", Default: true}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false, err
	}
	return confirmed, nil
}

func requireCleanIndex(ctx context.Context) error {
	d := deps.FromContext(ctx)
	out, err := d.Git.GitStdout(ctx, "status", "--porcelain")
	if err != nil {
		return err
	}
	if out != "" {
		return errs.Usagef("working tree is not clean, commit or stash your changes first")
	}
	return nil
}
