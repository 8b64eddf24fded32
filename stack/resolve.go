package stack

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
)

// ResolveOpts configures the Review Resolver.
type ResolveOpts struct {
	RemoteName     string
	BaseBranch     string // e.g. "origin/main", stripped of remote prefix for remote_base comparisons
	RelativeBranch string
	Uploader       string
	RelativeChain  bool
	SelfOnly       bool
	UserEmail      string
	UserAliases    map[string]string // alias -> target reviewer/assignee login
	Labels         []string          // extra labels applied to every topic (--labels)
}

// Resolve walks the stack in first-appearance order, validating tag
// singularity and deriving, for every branch a topic targets, that branch's
// Review: remote head/base, draft state, and (for a topic with no relative
// topic) the base_ref it chains onto — the Review Resolver (spec §4.3). It
// populates Topic.Base, Topic.BaseBranch, and Topic.Reviews but does not
// contact the remote.
func Resolve(ctx context.Context, s *TopicStack, opts ResolveOpts) error {
	d := deps.FromContext(ctx)
	var prevTopic *Topic

	for _, t := range s.Topics {
		if t.Name == "" {
			// Topicless: chains onto whatever came before it but gets no
			// PR of its own.
			t.Base = prevTopic
			if prevTopic != nil {
				t.BaseBranch = prevTopic.BaseBranch
			} else {
				t.BaseBranch = opts.BaseBranch
			}
			prevTopic = t
			continue
		}

		union := t.UnionTags()
		for _, c := range t.Commits {
			if (c.Tags.Uploader != "" && c.Tags.Uploader != union.Uploader) ||
				(c.Tags.Relative != "" && c.Tags.Relative != union.Relative) ||
				(c.Tags.RelativeBranch != "" && c.Tags.RelativeBranch != union.RelativeBranch) {
				return errs.Usagef("topic %q has conflicting uploader/relative/relative-branch tags", t.Name)
			}
		}

		if opts.SelfOnly && opts.UserEmail != "" {
			authored := false
			for _, c := range t.Commits {
				if strings.EqualFold(c.Header.AuthorEmail, opts.UserEmail) {
					authored = true
					break
				}
			}
			if !authored {
				d.DebugLog.Printf("dropping topic %q: not authored by %s", t.Name, opts.UserEmail)
				continue
			}
		}

		uploader := firstNonEmptyTag(union.Uploader, opts.Uploader)
		if uploader == "" {
			return errs.Usagef("topic %q has no uploader (set Uploader: or --uploader)", t.Name)
		}

		var relativeTopic *Topic
		switch {
		case opts.RelativeChain:
			relativeTopic = prevTopic
		case union.Relative != "":
			if rt, ok := s.ByName[union.Relative]; ok {
				relativeTopic = rt
			} else {
				d.ErrorLog.Printf(
					"warning: topic %q names unknown relative %q, treating as merged",
					t.Name, union.Relative,
				)
			}
		}
		t.Base = relativeTopic

		branches := union.Branch
		if relativeTopic != nil {
			relBranches := relativeTopic.BranchNames()
			if len(branches) == 0 {
				branches = relBranches
			} else {
				for _, b := range branches {
					if !containsStr(relBranches, b) {
						return errs.Usagef(
							"topic %q's branch %q is not among relative topic %q's branches %v",
							t.Name, b, relativeTopic.Name, relBranches,
						)
					}
				}
			}
		}
		if len(branches) == 0 {
			branches = []string{opts.BaseBranch}
		}
		t.BaseBranch = branches[0]

		expandAliases(&union, opts.UserAliases)
		union.Labels = append(union.Labels, opts.Labels...)
		applyTitlePrefixLabel(t, &union)

		isDraft := false
		var keptLabels []string
		for _, l := range union.Labels {
			if strings.EqualFold(l, "draft") {
				isDraft = true
				continue
			}
			keptLabels = append(keptLabels, l)
		}
		union.Labels = keptLabels

		t.Reviews = nil
		for _, branch := range branches {
			r := &Review{
				Topic:      t,
				BaseBranch: branch,
				IsDraft:    isDraft,
				Reviewers:  union.Reviewers,
				Assignees:  union.Assignees,
				Labels:     union.Labels,
			}
			baseForHead := strings.TrimPrefix(branch, opts.RemoteName+"/")
			r.RemoteHead = fmt.Sprintf("%s/revup/%s/%s", uploader, baseForHead, t.Name)

			if relativeTopic != nil {
				if relRev := relativeTopic.ReviewForBranch(branch); relRev != nil {
					r.RemoteBase = relRev.RemoteHead
				}
			} else {
				relBranch := opts.RelativeBranch
				if relBranch == "" {
					relBranch = branch
				}
				if relBranch == opts.BaseBranch {
					r.BaseRefOid = string(t.Commits[0].Header.Parents[0])
				} else {
					hash, err := d.Git.ToCommitHash(ctx, relBranch)
					if err != nil {
						return err
					}
					r.BaseRefOid = string(hash)
				}
				r.RemoteBase = strings.TrimPrefix(relBranch, opts.RemoteName+"/")
			}
			t.Reviews = append(t.Reviews, r)
		}

		prevTopic = t
	}
	return nil
}

func containsStr(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

func firstNonEmptyTag(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func expandAliases(t *Tags, aliases map[string]string) {
	if len(aliases) == 0 {
		return
	}
	rewrite := func(vals []string) []string {
		out := make([]string, len(vals))
		for i, v := range vals {
			if target, ok := aliases[v]; ok {
				out[i] = target
			} else {
				out[i] = v
			}
		}
		return out
	}
	t.Reviewers = rewrite(t.Reviewers)
	t.Assignees = rewrite(t.Assignees)
}

// applyTitlePrefixLabel maps a `foo: …` or `[foo] …` prefix on the topic's
// first commit title into a `label` tag.
func applyTitlePrefixLabel(t *Topic, tags *Tags) {
	if len(t.Commits) == 0 {
		return
	}
	title := t.Commits[0].Header.Title
	if m := strings.SplitN(title, ":", 2); len(m) == 2 && !strings.Contains(m[0], " ") && m[0] != "" {
		tags.Labels = append(tags.Labels, strings.TrimSpace(m[0]))
		return
	}
	if strings.HasPrefix(title, "[") {
		if end := strings.Index(title, "]"); end > 1 {
			tags.Labels = append(tags.Labels, title[1:end])
		}
	}
}
