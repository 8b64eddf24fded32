package stack

import (
	"context"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
	"github.com/bitcomplete/revup/gitops"
)

// Synthesize implements the Commit Synthesizer (spec §4.5): for every
// Review whose push_status is PUSHED, rebuild its commit chain on top of
// its (possibly just-rebuilt) base, setting Tip to the result. Reviews left
// NOCHANGE or REBASE by MarkRebases are left untouched — their Tip is
// either already set (NOCHANGE) or irrelevant (REBASE: nothing is pushed).
// On conflict it returns an *errs.ConflictError identifying the offending
// topic and aborts the remaining stack.
func Synthesize(ctx context.Context, s *TopicStack) error {
	d := deps.FromContext(ctx)
	for _, t := range s.Topics {
		for _, r := range t.Reviews {
			if r.PushStatus != PushStatusPushed {
				continue
			}
			if err := synthesizeReview(ctx, d, t, r); err != nil {
				if ce, ok := err.(*gitops.ConflictError); ok {
					return newConflictError(t, ce)
				}
				return err
			}
		}
	}
	return nil
}

// SynthesizeLocal rebuilds every topic's commits on top of its base, for
// Restack and Amend, which operate on a single local branch and never
// contact the remote or run the Rebase Classifier. It returns the final tip
// of the whole rebuilt chain.
func SynthesizeLocal(ctx context.Context, s *TopicStack) (gitops.GitCommitHash, error) {
	d := deps.FromContext(ctx)
	tips := map[*Topic]gitops.GitCommitHash{}
	var last gitops.GitCommitHash

	for _, t := range s.Topics {
		base, err := localBaseCommit(ctx, d, t, tips)
		if err != nil {
			return "", err
		}
		tip, err := buildLocalChain(ctx, d, t, base)
		if err != nil {
			if ce, ok := err.(*gitops.ConflictError); ok {
				return "", newConflictError(t, ce)
			}
			return "", err
		}
		tips[t] = tip
		last = tip
	}
	return last, nil
}

func localBaseCommit(ctx context.Context, d *deps.Deps, t *Topic, tips map[*Topic]gitops.GitCommitHash) (gitops.GitCommitHash, error) {
	if t.Base != nil {
		return tips[t.Base], nil
	}
	if len(t.Reviews) > 0 && t.Reviews[0].BaseRefOid != "" {
		return gitops.GitCommitHash(t.Reviews[0].BaseRefOid), nil
	}
	return d.Git.ToCommitHash(ctx, t.BaseBranch)
}

func newConflictError(t *Topic, ce *gitops.ConflictError) error {
	tip := t.TipCommit()
	var msgs []string
	for _, c := range ce.Conflicts {
		if c.Type == "Auto-merging" {
			continue
		}
		msgs = append(msgs, c.Message)
	}
	return &errs.ConflictError{
		Topic:        t.Name,
		CommitTitle:  tip.Title,
		CommitHash:   string(tip.CommitID),
		ParentSource: t.BaseBranch,
		ResultTree:   string(ce.Tree),
		Conflicts:    msgs,
	}
}

func synthesizeReview(ctx context.Context, d *deps.Deps, t *Topic, r *Review) error {
	base, err := resolveBaseCommit(ctx, d, t, r)
	if err != nil {
		return err
	}
	tip, err := buildLocalChain(ctx, d, t, base)
	if err != nil {
		return err
	}
	r.Tip = tip

	// Post-check (spec §4.5 step 5): despite passing only a weak patch-id
	// test, the synthesized tip might still match the existing head
	// bit-for-bit; pushing it again would be wasteful.
	if r.HeadRefOid != "" && gitops.GitCommitHash(r.HeadRefOid) == tip {
		wasNew := r.PrStatus == PrStatusNew
		r.PushStatus = PushStatusNoChange
		if wasNew && r.Number != 0 {
			r.PrStatus = PrStatusMerged
		}
	}
	return nil
}

// resolveBaseCommit returns the commit a Review's synthesized chain should
// start from: its base topic's matching Review's tip if it stacks on
// another topic, otherwise the base_ref Resolve computed for it.
func resolveBaseCommit(ctx context.Context, d *deps.Deps, t *Topic, r *Review) (gitops.GitCommitHash, error) {
	if t.Base != nil {
		if relRev := t.Base.ReviewForBranch(r.BaseBranch); relRev != nil && relRev.Tip != "" {
			return relRev.Tip, nil
		}
	}
	return gitops.GitCommitHash(r.BaseRefOid), nil
}

// buildLocalChain cherry-picks t's commits in order onto base, synthesizing
// each one (spec §4.5 step 3).
func buildLocalChain(ctx context.Context, d *deps.Deps, t *Topic, base gitops.GitCommitHash) (gitops.GitCommitHash, error) {
	tip := base
	for _, c := range t.Commits {
		var next gitops.GitCommitHash
		var err error
		if len(c.Header.Parents) == 0 {
			next, err = d.Git.CherryPickFromTree(ctx, c.Header, tip)
		} else {
			next, err = d.Git.SyntheticCherryPickFromCommit(ctx, c.Header, tip)
		}
		if err != nil {
			return "", err
		}
		tip = next
	}
	return tip, nil
}
