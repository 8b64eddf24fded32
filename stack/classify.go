package stack

import (
	"context"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/gitops"
)

// ClassifyOpts configures the Remote Query & Rebase Classifier.
type ClassifyOpts struct {
	// SkipRebase is the default (no --rebase passed): a Review whose
	// relative topic's Review is not being pushed gets push_status REBASE
	// instead of PUSHED, so it's neither pushed nor mutated.
	SkipRebase bool
}

// MarkRebases implements the Remote Query & Rebase Classifier (spec §4.4).
// It must run after QueryExisting (so Reviews carry observed remote state)
// and before Synthesize (which only rebuilds Reviews left with push_status
// PUSHED). For each Review, in topic-then-branch order, it:
//  1. collapses remote_base to the base branch when the relative topic's
//     Review for the same branch has merged;
//  2. classifies is_rebase/is_pure_rebase by comparing per-commit patch ids
//     against the remote PR's commits;
//  3. derives push_status;
//  4. on NOCHANGE, copies the remote tip into Tip so children can stack on
//     top of it without it ever being pushed.
//
// A final promotion pass then walks every PUSHED Review's relative chain
// and promotes any REBASE ancestor to PUSHED, since a PR can never be
// pushed on top of an ancestor the remote hasn't seen yet.
func MarkRebases(ctx context.Context, s *TopicStack, opts ClassifyOpts) error {
	d := deps.FromContext(ctx)

	for _, t := range s.Topics {
		if t.Name == "" {
			continue
		}
		for _, r := range t.Reviews {
			if err := classifyReview(ctx, d, t, r); err != nil {
				return err
			}
			derivePushStatus(t, r, opts)
		}
	}

	promoteRebases(d, s)
	return nil
}

func classifyReview(ctx context.Context, d *deps.Deps, t *Topic, r *Review) error {
	// Step 1/2: a merged relative (same branch) means this PR's base has
	// already collapsed onto the base branch on GitHub's side.
	if t.Base != nil {
		if relRev := t.Base.ReviewForBranch(r.BaseBranch); relRev != nil && relRev.IsMerged() {
			r.RemoteBase = relRev.RemoteBase
		}
	}

	if r.Number == 0 {
		r.IsRebase = false
		r.IsPure = false
		return nil
	}

	localIDs, err := topicPatchIDs(ctx, d, t)
	if err != nil {
		return err
	}
	remoteHeaders, err := RevListOids(ctx, d.Git, gitops.GitCommitHash(r.HeadRefOid), gitops.GitCommitHash(r.RemoteBaseRefOid))
	if err != nil {
		return err
	}
	remoteIDs := make([]string, len(remoteHeaders))
	for i, h := range remoteHeaders {
		id, err := d.Git.GetPatchID(ctx, h.CommitID)
		if err != nil {
			return err
		}
		remoteIDs[i] = id
	}

	r.IsRebase = len(remoteIDs) == len(localIDs)
	if r.IsRebase {
		for i := range localIDs {
			if localIDs[i] != remoteIDs[i] {
				r.IsRebase = false
				break
			}
		}
	}
	r.IsPure = r.IsRebase && commitsMatchExactly(t.Commits, remoteHeaders)
	return nil
}

// topicPatchIDs lazily computes and caches one patch id per local commit in
// t, shared across every Review the topic has (they all replay the same
// commits onto different bases).
func topicPatchIDs(ctx context.Context, d *deps.Deps, t *Topic) ([]string, error) {
	if t.patchIDs != nil {
		return t.patchIDs, nil
	}
	ids := make([]string, len(t.Commits))
	for i, c := range t.Commits {
		id, err := d.Git.GetPatchID(ctx, c.Header.CommitID)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	t.patchIDs = ids
	return ids, nil
}

func commitsMatchExactly(local []Commit, remote []gitops.CommitHeader) bool {
	if len(local) != len(remote) {
		return false
	}
	for i := range local {
		lh, rh := local[i].Header, remote[i]
		if lh.Title != rh.Title || lh.CommitMsg != rh.CommitMsg ||
			lh.AuthorName != rh.AuthorName || lh.AuthorEmail != rh.AuthorEmail ||
			lh.CommitterName != rh.CommitterName || lh.CommitterEmail != rh.CommitterEmail {
			return false
		}
	}
	return true
}

// derivePushStatus implements spec §4.4 step 5. It assumes t.Base's Reviews
// have already been classified, which holds because topics are visited in
// first-appearance order and a relative topic always appears earlier.
func derivePushStatus(t *Topic, r *Review, opts ClassifyOpts) {
	var relRev *Review
	if t.Base != nil {
		relRev = t.Base.ReviewForBranch(r.BaseBranch)
	}
	switch {
	case r.IsPure && (r.BaseRefOid == r.RemoteBaseRefOid || (relRev != nil && relRev.PushStatus == PushStatusNoChange)):
		r.PushStatus = PushStatusNoChange
		r.Tip = gitops.GitCommitHash(r.HeadRefOid)
	case r.State == "MERGED" || (opts.SkipRebase && relRev != nil && relRev.PushStatus != PushStatusPushed):
		r.PushStatus = PushStatusRebase
	default:
		r.PushStatus = PushStatusPushed
	}
}

// promoteRebases walks up from every PUSHED Review and promotes any REBASE
// ancestor on the same branch to PUSHED, enforcing the invariant that a
// pushed PR never sits on an ancestor the remote hasn't seen (spec §3, §8).
func promoteRebases(d *deps.Deps, s *TopicStack) {
	for _, t := range s.Topics {
		for _, r := range t.Reviews {
			if r.PushStatus != PushStatusPushed {
				continue
			}
			anc := t.Base
			for anc != nil {
				ar := anc.ReviewForBranch(r.BaseBranch)
				if ar == nil {
					break
				}
				if ar.PushStatus == PushStatusRebase {
					if ar.State == "MERGED" {
						d.ErrorLog.Printf(
							"warning: topic %q was rebased across merged ancestor %q, promoting to pushed",
							t.Name, anc.Name,
						)
					}
					ar.PushStatus = PushStatusPushed
				}
				anc = anc.Base
			}
		}
	}
}
