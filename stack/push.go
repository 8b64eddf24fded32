package stack

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
	"github.com/bitcomplete/revup/gitops"
	"github.com/shurcooL/graphql"
)

// reviewGraphSentinel and patchsetsSentinel are the first lines of revup's
// two maintained PR comments, used to find an existing comment to update
// instead of creating a duplicate on every push.
const (
	reviewGraphSentinel = "<!-- revup: review graph, do not edit -->"
	patchsetsSentinel   = "<!-- revup: patchsets, do not edit -->"
)

// PushOpts configures the Push & PR Mutator.
type PushOpts struct {
	Owner, Repo string
	RemoteName  string
}

// Push force-pushes every Review's synthesized tip to its remote branch and
// creates or updates the PR backing it, then refreshes the maintained
// review-graph and patchsets comments across the whole stack — the Push &
// PR Mutator (spec §4.6). Reviews with push_status REBASE or NOCHANGE are
// never pushed; a NOCHANGE Review's PR still has its title, body and base
// updated where they differ. MERGED Reviews are skipped entirely.
func Push(ctx context.Context, s *TopicStack, opts PushOpts) error {
	d := deps.FromContext(ctx)

	var specs []gitops.PushSpec
	for _, t := range s.Topics {
		for _, r := range t.Reviews {
			if r.PushStatus != PushStatusPushed || r.PrStatus == PrStatusMerged {
				continue
			}
			specs = append(specs, gitops.PushSpec{
				Local:       r.Tip,
				RemoteRef:   "refs/heads/" + r.RemoteHead,
				ExpectedOld: gitops.GitCommitHash(r.HeadRefOid),
			})
		}
	}
	if len(specs) > 0 {
		if err := d.Git.Push(ctx, opts.RemoteName, specs); err != nil {
			return errs.ShellFailuref("push rejected, remote branch moved since last query: %v", err)
		}
	}

	repoID, err := fetchRepositoryID(ctx, d, opts.Owner, opts.Repo)
	if err != nil {
		return err
	}

	for _, t := range s.Topics {
		for _, r := range t.Reviews {
			if r.PushStatus == PushStatusRebase || r.PrStatus == PrStatusMerged {
				continue
			}
			if err := mutateReview(ctx, d, s, repoID, t, r, opts); err != nil {
				return err
			}
			switch {
			case r.PushStatus == PushStatusNoChange:
				if r.PrStatus == "" {
					r.PrStatus = PrStatusNoChange
				}
			default:
				r.HeadRefOid = string(r.Tip)
				if r.PrStatus != PrStatusNew {
					r.PrStatus = PrStatusUpdated
				}
			}
		}
	}

	graph := renderReviewGraph(s)
	for _, t := range s.Topics {
		for _, r := range t.Reviews {
			if r.NodeID == "" {
				continue
			}
			if err := upsertComment(ctx, d, r, reviewGraphSentinel, graph); err != nil {
				d.ErrorLog.Printf("failed to update review graph comment on #%d: %v", r.Number, err)
			}
			patchsets := renderPatchsets(t, r)
			if err := upsertComment(ctx, d, r, patchsetsSentinel, patchsets); err != nil {
				d.ErrorLog.Printf("failed to update patchsets comment on #%d: %v", r.Number, err)
			}
		}
	}
	return nil
}

func fetchRepositoryID(ctx context.Context, d *deps.Deps, owner, repo string) (string, error) {
	var q struct {
		Repository struct {
			ID string `graphql:"id"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	err := d.GraphQL.Query(ctx, &q, map[string]interface{}{
		"owner": graphql.String(owner),
		"name":  graphql.String(repo),
	})
	if err != nil {
		return "", errs.ReviewPlatformf("looking up repository id: %v", err)
	}
	return q.Repository.ID, nil
}

// baseRefNameFor returns the branch name a Review's PR should have as its
// base: the relative topic's head ref normally, collapsing to the plain
// base branch once that relative has merged (spec §4.4 steps 1-2, §4.6).
func baseRefNameFor(t *Topic, r *Review, remoteName string) string {
	if t.Base != nil {
		if relRev := t.Base.ReviewForBranch(r.BaseBranch); relRev != nil && !relRev.IsMerged() {
			return relRev.RemoteHead
		}
	}
	return strings.TrimPrefix(r.BaseBranch, remoteName+"/")
}

func mutateReview(ctx context.Context, d *deps.Deps, s *TopicStack, repoID string, t *Topic, r *Review, opts PushOpts) error {
	if r.Number != 0 {
		title := t.Title()
		body := bodyText(t)
		baseRef := baseRefNameFor(t, r, opts.RemoteName)
		input := map[string]interface{}{"pullRequestId": graphql.ID(r.NodeID)}
		changed := false
		if title != r.RemoteTitle {
			input["title"] = graphql.String(title)
			changed = true
		}
		if body != r.RemoteBody {
			input["body"] = graphql.String(body)
			changed = true
		}
		if baseRef != r.RemoteBaseRefName {
			input["baseRefName"] = graphql.String(baseRef)
			changed = true
		}
		if changed {
			var m struct {
				UpdatePullRequest struct {
					PullRequest struct {
						Number int `graphql:"number"`
					} `graphql:"pullRequest"`
				} `graphql:"updatePullRequest(input: $input)"`
			}
			if err := d.GraphQL.Mutate(ctx, &m, map[string]interface{}{"input": input}); err != nil {
				return errs.ReviewPlatformf("updating PR #%d for topic %q: %v", r.Number, t.Name, err)
			}
		}
		return annotateReview(ctx, d, s, r)
	}

	var m struct {
		CreatePullRequest struct {
			PullRequest struct {
				ID         string `graphql:"id"`
				Number     int    `graphql:"number"`
				URL        string `graphql:"url"`
				HeadRefOid string `graphql:"headRefOid"`
			} `graphql:"pullRequest"`
		} `graphql:"createPullRequest(input: $input)"`
	}
	input := map[string]interface{}{
		"repositoryId": graphql.ID(repoID),
		"baseRefName":  graphql.String(baseRefNameFor(t, r, opts.RemoteName)),
		"headRefName":  graphql.String(r.RemoteHead),
		"title":        graphql.String(t.Title()),
		"body":         graphql.String(bodyText(t)),
		"draft":        graphql.Boolean(r.IsDraft),
	}
	if err := d.GraphQL.Mutate(ctx, &m, map[string]interface{}{"input": input}); err != nil {
		return errs.ReviewPlatformf("creating PR for topic %q: %v", t.Name, err)
	}
	r.Number = m.CreatePullRequest.PullRequest.Number
	r.NodeID = m.CreatePullRequest.PullRequest.ID
	r.URL = m.CreatePullRequest.PullRequest.URL
	r.PrStatus = PrStatusNew

	return annotateReview(ctx, d, s, r)
}

// annotateReview applies the reviewer/assignee/label/draft delta between a
// Review's desired and observed state (spec §4.6): entries already present
// remotely are omitted so an update can't clear an existing approval, and
// draft state is only flipped if it actually differs. Best-effort: a
// failure here shouldn't fail the whole push since the PR mutation already
// succeeded.
func annotateReview(ctx context.Context, d *deps.Deps, s *TopicStack, r *Review) error {
	if missing := diffStrings(r.Reviewers, r.RemoteReviewers); len(missing) > 0 {
		if ids := resolveNodeIDs(d, s.UserIDs, missing); len(ids) > 0 {
			var m struct {
				RequestReviews struct {
					PullRequest struct{ Number int } `graphql:"pullRequest"`
				} `graphql:"requestReviews(input: $input)"`
			}
			input := map[string]interface{}{
				"pullRequestId": graphql.ID(r.NodeID),
				"userIds":       ids,
				"union":         graphql.Boolean(true),
			}
			if err := d.GraphQL.Mutate(ctx, &m, map[string]interface{}{"input": input}); err != nil {
				d.ErrorLog.Printf("requesting reviewers for #%d: %v", r.Number, err)
			}
		}
	}

	if missing := diffStrings(r.Assignees, r.RemoteAssignees); len(missing) > 0 {
		if ids := resolveNodeIDs(d, s.UserIDs, missing); len(ids) > 0 {
			var m struct {
				AddAssigneesToAssignable struct {
					ClientMutationID string `graphql:"clientMutationId"`
				} `graphql:"addAssigneesToAssignable(input: $input)"`
			}
			input := map[string]interface{}{
				"assignableId": graphql.ID(r.NodeID),
				"assigneeIds":  ids,
			}
			if err := d.GraphQL.Mutate(ctx, &m, map[string]interface{}{"input": input}); err != nil {
				d.ErrorLog.Printf("assigning #%d: %v", r.Number, err)
			}
		}
	}

	if missing := diffStrings(r.Labels, r.RemoteLabels); len(missing) > 0 {
		if ids := resolveNodeIDs(d, s.LabelIDs, missing); len(ids) > 0 {
			var m struct {
				AddLabelsToLabelable struct {
					ClientMutationID string `graphql:"clientMutationId"`
				} `graphql:"addLabelsToLabelable(input: $input)"`
			}
			input := map[string]interface{}{
				"labelableId": graphql.ID(r.NodeID),
				"labelIds":    ids,
			}
			if err := d.GraphQL.Mutate(ctx, &m, map[string]interface{}{"input": input}); err != nil {
				d.ErrorLog.Printf("labeling #%d: %v", r.Number, err)
			}
		}
	}

	if r.Number == 0 {
		return nil
	}
	if r.IsDraft && !r.RemoteIsDraft {
		var m struct {
			ConvertPullRequestToDraft struct {
				ClientMutationID string `graphql:"clientMutationId"`
			} `graphql:"convertPullRequestToDraft(input: $input)"`
		}
		input := map[string]interface{}{"pullRequestId": graphql.ID(r.NodeID)}
		if err := d.GraphQL.Mutate(ctx, &m, map[string]interface{}{"input": input}); err != nil {
			d.ErrorLog.Printf("marking #%d draft: %v", r.Number, err)
		}
	} else if !r.IsDraft && r.RemoteIsDraft {
		var m struct {
			MarkPullRequestReadyForReview struct {
				ClientMutationID string `graphql:"clientMutationId"`
			} `graphql:"markPullRequestReadyForReview(input: $input)"`
		}
		input := map[string]interface{}{"pullRequestId": graphql.ID(r.NodeID)}
		if err := d.GraphQL.Mutate(ctx, &m, map[string]interface{}{"input": input}); err != nil {
			d.ErrorLog.Printf("marking #%d ready for review: %v", r.Number, err)
		}
	}
	return nil
}

// diffStrings returns the entries of desired not already present in
// existing.
func diffStrings(desired, existing []string) []string {
	var out []string
	for _, d := range desired {
		found := false
		for _, e := range existing {
			if d == e {
				found = true
				break
			}
		}
		if !found {
			out = append(out, d)
		}
	}
	return out
}

// resolveNodeIDs looks names up in cache, logging and skipping any that
// aren't known assignable users/labels rather than failing the push.
func resolveNodeIDs(d *deps.Deps, cache map[string]string, names []string) []graphql.ID {
	var ids []graphql.ID
	for _, name := range names {
		id, ok := cache[name]
		if !ok {
			d.ErrorLog.Printf("warning: %q is not a known assignable user/label, skipping", name)
			continue
		}
		ids = append(ids, graphql.ID(id))
	}
	return ids
}

func bodyText(t *Topic) string {
	var b strings.Builder
	for i, c := range t.Commits {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		b.WriteString(c.Header.CommitMsg)
	}
	return b.String()
}

var reviewGraphTmpl = template.Must(template.New("graph").Parse(
	reviewGraphSentinel + `
### Stack

{{range .}}{{$t := .}}{{range .Reviews}}* {{if .Number}}#{{.Number}}{{else}}(new){{end}} {{$t.Title}}{{if $t.Base}} (based on {{$t.Base.Name}}){{end}}
{{end}}{{end}}`))

func renderReviewGraph(s *TopicStack) string {
	var buf bytes.Buffer
	_ = reviewGraphTmpl.Execute(&buf, s.Topics)
	return buf.String()
}

func renderPatchsets(t *Topic, r *Review) string {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, patchsetsSentinel)
	fmt.Fprintln(&buf, "| patchset | status |")
	fmt.Fprintln(&buf, "|---|---|")
	status := "pushed"
	switch {
	case r.PushStatus == PushStatusNoChange:
		status = "no change"
	case r.IsPure:
		status = "rebase (no diff change)"
	}
	fmt.Fprintf(&buf, "| %s | %s |\n", strconv.Itoa(len(t.Commits))+" commit(s)", status)
	return buf.String()
}

func upsertComment(ctx context.Context, d *deps.Deps, r *Review, sentinel, body string) error {
	if existingID, ok := r.ExistingComments[sentinel]; ok {
		var m struct {
			UpdateIssueComment struct {
				ClientMutationID string `graphql:"clientMutationId"`
			} `graphql:"updateIssueComment(input: $input)"`
		}
		input := map[string]interface{}{
			"id":   graphql.ID(existingID),
			"body": graphql.String(body),
		}
		return d.GraphQL.Mutate(ctx, &m, map[string]interface{}{"input": input})
	}
	var m struct {
		AddComment struct {
			Subject struct{ ID string } `graphql:"subject"`
		} `graphql:"addComment(input: $input)"`
	}
	input := map[string]interface{}{
		"subjectId": graphql.ID(r.NodeID),
		"body":      graphql.String(body),
	}
	return d.GraphQL.Mutate(ctx, &m, map[string]interface{}{"input": input})
}
