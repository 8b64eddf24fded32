package actions

import (
	"fmt"
	"os"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/gitops"
	"github.com/bitcomplete/revup/stack"
	"github.com/urfave/cli/v2"
)

// Log prints an ASCII graph of the local topic stack between the base
// branch and HEAD, labeling each commit with its topic and title, the way
// `git log --graph` labels commits with ref names.
func Log(c *cli.Context) error {
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

	forkPoint, err := d.Git.ForkPoint(ctx, "HEAD", baseBranch)
	if err != nil {
		return err
	}
	out, err := d.Git.RevList(ctx, "HEAD", gitops.RevListOpts{
		Exclude: string(forkPoint),
		Header:  true,
	})
	if err != nil {
		return err
	}
	headers := gitops.ParseRevList(out)
	if len(headers) == 0 {
		fmt.Println("nothing to show between", baseBranch, "and HEAD")
		return nil
	}

	firstParentOut, err := d.Git.RevList(ctx, "HEAD", gitops.RevListOpts{
		Exclude:     string(forkPoint),
		FirstParent: true,
		Header:      true,
	})
	if err != nil {
		return err
	}
	s, err := stack.BuildTopicStack(ctx, gitops.ParseRevList(firstParentOut), stack.BuildOpts{
		RemoteName: d.RemoteName,
		AutoTopic:  false,
	})
	if err != nil {
		return err
	}
	topicByCommit := map[string]string{}
	for _, t := range s.Topics {
		name := t.Name
		if name == "" {
			continue
		}
		for _, commit := range t.Commits {
			topicByCommit[string(commit.Header.CommitID)] = name
		}
	}

	commits := make(map[string]*commitNode, len(headers))
	nodes := make([]*commitNode, len(headers))
	for i, h := range headers {
		parents := make([]string, len(h.Parents))
		for j, p := range h.Parents {
			parents[j] = string(p)
		}
		topic := topicByCommit[string(h.CommitID)]
		label := h.Title
		if topic != "" {
			label = fmt.Sprintf("[%s] %s", topic, h.Title)
		}
		node := &commitNode{hash: string(h.CommitID), parents: parents, label: label}
		commits[node.hash] = node
		nodes[i] = node
	}

	// ParseRevList returns oldest-first (rev-list --reverse); the graph
	// renderer wants children before parents, so reverse to newest-first.
	sorted := make([]*commitNode, len(nodes))
	for i, n := range nodes {
		sorted[len(nodes)-1-i] = n
	}

	g := newGraph(commits, os.Stdout)
	g.render(sorted)
	return nil
}
