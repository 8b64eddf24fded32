// Package stack implements revup's core engine: parsing commit tags into a
// DAG of topics, resolving them against existing GitHub PRs, synthesizing
// the commits each PR should show, and pushing/creating/updating PRs to
// match. It never touches a git object directly; all durable git state goes
// through gitops.Git.
package stack

import (
	"github.com/bitcomplete/revup/gitops"
)

// PrStatus summarizes how a topic's PR compares to the local commit stack.
type PrStatus string

const (
	PrStatusNew      PrStatus = "new"
	PrStatusUpdated  PrStatus = "updated"
	PrStatusNoChange PrStatus = "nochange"
	PrStatusMerged   PrStatus = "merged"
)

// PushStatus summarizes what, if anything, needs to happen to a Review's
// remote branch: PUSHED (force-push and mutate the PR), REBASE (ancestry
// changed underneath but nothing worth pushing yet), NOCHANGE (remote
// already matches).
type PushStatus string

const (
	PushStatusPushed   PushStatus = "pushed"
	PushStatusRebase   PushStatus = "rebase"
	PushStatusNoChange PushStatus = "nochange"
)

// Tags is the parsed set of commit-message trailers that drive the engine,
// one per commit. Relative and RelativeBranch are mutually exclusive ways
// of naming the topic's parent in the stack. Branch may carry more than one
// value: a topic can target several base branches, one Review each.
type Tags struct {
	Topic          string
	Relative       string
	RelativeBranch string
	Branch         []string
	Reviewers      []string
	Assignees      []string
	Labels         []string
	Uploader       string
}

// Commit is one parsed commit header plus the tags pulled from its message.
type Commit struct {
	Header gitops.CommitHeader
	Tags   Tags
}

// Topic is a named, ordered run of local commits that share a Topic: tag.
// Commits within a topic are kept in the order they appear in the local
// branch (oldest first). A topic with more than one Branch: value produces
// one Review per branch, all sharing the same commits.
type Topic struct {
	Name    string
	Commits []Commit

	// Base is the topic this one stacks on (nil for a topic whose base is a
	// remote branch rather than another topic), derived from the first
	// Relative tag among the topic's commits, or from the previous topic
	// when relative chaining is on.
	Base *Topic

	// BaseBranch names the primary remote branch this topic (or its base
	// chain) ultimately stacks on, e.g. "origin/main". For a topic with
	// multiple target branches this is Reviews[0].BaseBranch; restack and
	// amend, which only ever produce one local commit chain, take the
	// target branch from this field (and the local base commit from
	// Reviews[0].BaseRefOid).
	BaseBranch string

	// Reviews holds one entry per branch in tags[branch] (spec §4.3), in
	// the order the branches were declared.
	Reviews []*Review

	patchIDs []string // lazily computed local per-commit patch ids, shared across this topic's Reviews
}

// ReviewForBranch returns the topic's Review targeting the given base
// branch, or nil if the topic has no Review for it.
func (t *Topic) ReviewForBranch(branch string) *Review {
	for _, r := range t.Reviews {
		if r.BaseBranch == branch {
			return r
		}
	}
	return nil
}

// BranchNames returns the base branches this topic has a Review for, in
// declaration order.
func (t *Topic) BranchNames() []string {
	names := make([]string, len(t.Reviews))
	for i, r := range t.Reviews {
		names[i] = r.BaseBranch
	}
	return names
}

// UnionTags merges the tags carried by every commit in the topic, the "union
// its tags into the topic" step of the Topic Parser. Reviewers/Assignees/
// Labels/Branch accumulate and dedupe; singular fields take the first
// non-empty value seen.
func (t *Topic) UnionTags() Tags {
	var union Tags
	seen := map[string]map[string]bool{"r": {}, "a": {}, "l": {}, "b": {}}
	for _, c := range t.Commits {
		if union.Relative == "" {
			union.Relative = c.Tags.Relative
		}
		if union.RelativeBranch == "" {
			union.RelativeBranch = c.Tags.RelativeBranch
		}
		if union.Uploader == "" {
			union.Uploader = c.Tags.Uploader
		}
		for _, br := range c.Tags.Branch {
			if !seen["b"][br] {
				seen["b"][br] = true
				union.Branch = append(union.Branch, br)
			}
		}
		for _, r := range c.Tags.Reviewers {
			if !seen["r"][r] {
				seen["r"][r] = true
				union.Reviewers = append(union.Reviewers, r)
			}
		}
		for _, a := range c.Tags.Assignees {
			if !seen["a"][a] {
				seen["a"][a] = true
				union.Assignees = append(union.Assignees, a)
			}
		}
		for _, l := range c.Tags.Labels {
			if !seen["l"][l] {
				seen["l"][l] = true
				union.Labels = append(union.Labels, l)
			}
		}
	}
	return union
}

// Title returns the topic's PR title, the first line of its tip commit.
func (t *Topic) Title() string {
	if len(t.Commits) == 0 {
		return t.Name
	}
	return t.Commits[len(t.Commits)-1].Header.Title
}

// TipCommit returns the most recent commit in the topic.
func (t *Topic) TipCommit() gitops.CommitHeader {
	return t.Commits[len(t.Commits)-1].Header
}

// Review is a single target pull request for a (Topic, base branch) pair
// (spec §3). Desired fields are computed locally by Resolve from commit
// tags; Remote-prefixed fields are observed from GitHub by QueryExisting.
// Keeping them apart means a push can always compute "what's missing on the
// remote" instead of one clobbering the other.
type Review struct {
	Topic      *Topic
	BaseBranch string // target branch, e.g. "origin/main"
	RemoteHead string // uploader/revup/<base>/<topic>, the PR's head ref name
	RemoteBase string // name of the ref this PR's base should point at

	// Desired state, from Resolve.
	BaseRefOid string // local commit the synthesized chain starts from; unset when chaining onto another topic's Review
	IsDraft    bool
	Reviewers  []string
	Assignees  []string
	Labels     []string

	// Observed remote state, from QueryExisting. Zero values mean no PR
	// exists yet for this Review.
	Number            int
	NodeID            string
	State             string // "OPEN", "CLOSED", "MERGED"
	RemoteIsDraft     bool
	RemoteBaseRefOid  string
	RemoteBaseRefName string
	HeadRefOid        string
	URL               string
	RemoteTitle       string
	RemoteBody        string
	RemoteReviewers   []string
	RemoteAssignees   []string
	RemoteLabels      []string

	// ExistingComments maps a maintained comment's sentinel first line (see
	// reviewGraphSentinel/patchsetsSentinel in push.go) to its GraphQL node
	// id, so an update mutation can target the right comment instead of
	// creating a duplicate.
	ExistingComments map[string]string

	// Tip is the commit (spec's new_commits[-1]) this Review's remote
	// branch should point at, set by MarkRebases (NOCHANGE: copied from the
	// remote head) or Synthesize (PUSHED: freshly built).
	Tip gitops.GitCommitHash

	IsRebase bool
	IsPure   bool // true when the rebase changed no diff, only ancestry

	PushStatus PushStatus
	PrStatus   PrStatus
}

// IsMerged reports whether the PR backing this review has been merged.
func (r *Review) IsMerged() bool {
	return r != nil && r.State == "MERGED"
}

// TopicStack is the ordered set of topics derived from one local commit
// range, from the branch point (exclusive) to HEAD (inclusive).
type TopicStack struct {
	Topics []*Topic

	// ByName indexes Topics by name for Relative: lookups during parsing.
	ByName map[string]*Topic

	// UserIDs and LabelIDs cache GitHub login/name -> GraphQL node id,
	// populated by ResolveUsersAndLabels before annotating PRs.
	UserIDs  map[string]string
	LabelIDs map[string]string
}

// Topicless returns the commits that carried no Topic: tag, in local order.
// In the stack they stay as nameless pseudo-topics in place, or are moved
// to the end by the topicless-last restack option.
func (s *TopicStack) Topicless() []Commit {
	var out []Commit
	for _, t := range s.Topics {
		if t.Name == "" {
			out = append(out, t.Commits...)
		}
	}
	return out
}
