package actions

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/gitops"
	"github.com/bitcomplete/revup/stack"
	"github.com/urfave/cli/v2"
)

// Status prints the current topic stack, one line per Review of each topic
// (one per commit for commits with no topic), with its PR status and (if
// pushed) URL.
func Status(c *cli.Context) error {
	ctx := c.Context
	d := deps.FromContext(ctx)

	s, err := loadTopicStack(ctx, false)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(d.InfoLog.Writer(), 0, 0, 1, ' ', 0)
	for _, t := range s.Topics {
		printTopicStatus(w, t)
	}
	w.Flush()
	return nil
}

// loadTopicStack parses and resolves (but does not query the remote or
// synthesize) the topic stack between the configured main branch and HEAD,
// shared by status and upload.
func loadTopicStack(ctx context.Context, autoTopic bool) (*stack.TopicStack, error) {
	d := deps.FromContext(ctx)

	mainBranch := d.Git.MainBranch
	forkPoint, err := d.Git.ForkPoint(ctx, "HEAD", d.RemoteName+"/"+mainBranch)
	if err != nil {
		return nil, err
	}
	out, err := d.Git.RevList(ctx, "HEAD", gitops.RevListOpts{
		Exclude:     string(forkPoint),
		FirstParent: true,
		Header:      true,
	})
	if err != nil {
		return nil, err
	}
	headers := gitops.ParseRevList(out)

	s, err := stack.BuildTopicStack(ctx, headers, stack.BuildOpts{
		RemoteName:      d.RemoteName,
		AutoTopic:       autoTopic,
		StripRecognized: false,
	})
	if err != nil {
		return nil, err
	}
	if err := stack.Resolve(ctx, s, stack.ResolveOpts{
		RemoteName: d.RemoteName,
		BaseBranch: d.RemoteName + "/" + mainBranch,
		Uploader:   defaultUploader(d),
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// defaultUploader is the identity used to namespace a topic's remote
// branches when it carries no explicit Uploader: tag: the uploader config
// override if set, otherwise the configured GitHub username.
func defaultUploader(d *deps.Deps) string {
	if u := d.Conf.String("uploader", ""); u != "" {
		return u
	}
	return d.Conf.String("github-username", "")
}

func printTopicStatus(w io.Writer, t *stack.Topic) {
	const (
		asciiColorReset  = "\033[m"
		asciiColorYellow = "\033[33m"
		asciiColorGreen  = "\033[32m"
		asciiColorRed    = "\033[31m"
		asciiColorCyan   = "\033[36m"
	)
	if t.Name == "" {
		for _, c := range t.Commits {
			fmt.Fprintf(w, "%s%s\t%s\t(topicless)%s\n", asciiColorRed, c.Header.CommitID[:8], shortTitle(c.Header.Title), asciiColorReset)
		}
		return
	}

	for _, r := range t.Reviews {
		statusText := "not pushed"
		color := asciiColorYellow
		switch {
		case r.IsMerged():
			statusText = "merged"
			color = asciiColorCyan
		case r.PrStatus == stack.PrStatusNew:
			statusText = "new"
			color = asciiColorYellow
		case r.PrStatus == stack.PrStatusUpdated:
			statusText = "updated"
			color = asciiColorGreen
		case r.PrStatus == stack.PrStatusNoChange:
			statusText = "current"
			color = asciiColorGreen
		}
		name := t.Name
		if len(t.Reviews) > 1 {
			name = fmt.Sprintf("%s (%s)", t.Name, r.BaseBranch)
		}
		fmt.Fprintf(
			w,
			"%s%s\t%s\t(%s)\t%s%s\n",
			color,
			name,
			shortTitle(t.Title()),
			statusText,
			r.URL,
			asciiColorReset,
		)
	}
}

func shortTitle(title string) string {
	title = strings.TrimSpace(title)
	if len(title) > 60 {
		return title[:60] + "..."
	}
	return title
}
