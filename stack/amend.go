package stack

import (
	"context"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
	"github.com/bitcomplete/revup/gitops"
)

// AmendOpts configures Amend.
type AmendOpts struct {
	// TargetTopic names the topic whose tip commit absorbs the staged
	// changes. It must name a topic in the stack; callers resolve HEAD's
	// topic themselves.
	TargetTopic string
	// Insert, when true, creates a new commit on top of TargetTopic instead
	// of folding into its tip.
	Insert bool
	// All folds the staged changes into every commit of TargetTopic rather
	// than just its tip.
	All bool
	// StagedTree is the tree hash currently in the index, holding whatever
	// changes are being amended in.
	StagedTree gitops.GitTreeHash
	// Message is used as the new commit's message when Insert is set;
	// ignored otherwise (the amended commit keeps its original message).
	Message string
}

// Amend folds a staged change into an existing topic's commit(s), or
// inserts a new commit after it, then restacks everything above it — the
// Commit Amender (spec §4.8). It returns the rebuilt stack so the caller can
// push it.
func Amend(ctx context.Context, headers []gitops.CommitHeader, opts AmendOpts, build BuildOpts, resolve ResolveOpts) (*TopicStack, error) {
	d := deps.FromContext(ctx)

	s, err := BuildTopicStack(ctx, headers, build)
	if err != nil {
		return nil, err
	}

	target, ok := s.ByName[opts.TargetTopic]
	if !ok {
		return nil, errs.Usagef("no topic named %q in the current stack", opts.TargetTopic)
	}

	stagedInfo := gitops.CommitHeader{
		Tree:    opts.StagedTree,
		Parents: []gitops.GitCommitHash{target.TipCommit().CommitID},
	}

	if opts.Insert {
		stagedInfo.CommitMsg = opts.Message
		stagedInfo.Title = firstLine(opts.Message)
		newHash, err := d.Git.CommitTree(ctx, stagedInfo)
		if err != nil {
			return nil, err
		}
		newHeader, err := fetchHeader(ctx, d.Git, newHash)
		if err != nil {
			return nil, err
		}
		target.Commits = append(target.Commits, Commit{Header: newHeader, Tags: target.Commits[len(target.Commits)-1].Tags})
	} else {
		stagedHash, err := d.Git.CommitTree(ctx, stagedInfo)
		if err != nil {
			return nil, err
		}
		stagedInfo.CommitID = stagedHash
		idxs := []int{len(target.Commits) - 1}
		if opts.All {
			idxs = allIndexes(len(target.Commits))
		}
		for _, i := range idxs {
			amended, err := d.Git.SyntheticAmend(ctx, target.Commits[i].Header, stagedInfo)
			if err != nil {
				return nil, err
			}
			newHeader, err := fetchHeader(ctx, d.Git, amended)
			if err != nil {
				return nil, err
			}
			target.Commits[i].Header = newHeader
		}
	}

	if err := Resolve(ctx, s, resolve); err != nil {
		return s, err
	}
	tip, err := SynthesizeLocal(ctx, s)
	if err != nil {
		return s, err
	}
	if err := d.Git.SoftReset(ctx, tip, nil); err != nil {
		return s, err
	}
	return s, nil
}

func firstLine(msg string) string {
	for i, r := range msg {
		if r == '\n' {
			return msg[:i]
		}
	}
	return msg
}

func allIndexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// fetchHeader re-reads a single commit's metadata after it's been built by
// commit-tree, since CommitTree only returns the new hash.
func fetchHeader(ctx context.Context, git *gitops.Git, hash gitops.GitCommitHash) (gitops.CommitHeader, error) {
	out, err := git.RevList(ctx, string(hash), gitops.RevListOpts{Header: true, MaxRevs: 1})
	if err != nil {
		return gitops.CommitHeader{}, err
	}
	all := gitops.ParseRevList(out)
	if len(all) == 0 {
		return gitops.CommitHeader{}, errs.Runtimef("commit-tree produced a commit rev-list cannot find")
	}
	return all[0], nil
}
