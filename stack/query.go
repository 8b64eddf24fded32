package stack

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/gitops"
	"github.com/pkg/errors"
	"github.com/shurcooL/graphql"
)

// MaxCommentsToQuery bounds how many of a PR's existing comments are
// fetched when looking for the maintained review-graph/patchsets comments.
const MaxCommentsToQuery = 20

type prQuery struct {
	Repository struct {
		Ref struct {
			AssociatedPullRequests struct {
				Nodes []prNode `graphql:"nodes"`
			} `graphql:"associatedPullRequests(states: [OPEN, MERGED], first: 1, orderBy: {field: UPDATED_AT, direction: DESC})"`
		} `graphql:"ref(qualifiedName: $ref)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

type prNode struct {
	ID          string `graphql:"id"`
	Number      int    `graphql:"number"`
	State       string `graphql:"state"`
	IsDraft     bool   `graphql:"isDraft"`
	Title       string `graphql:"title"`
	Body        string `graphql:"body"`
	BaseRefName string `graphql:"baseRefName"`
	HeadRefOid  string `graphql:"headRefOid"`

	OldestCommit struct {
		Nodes []struct {
			Commit struct {
				Parents struct {
					Nodes []struct {
						Oid string `graphql:"oid"`
					} `graphql:"nodes"`
				} `graphql:"parents(first: 1)"`
			} `graphql:"commit"`
		} `graphql:"nodes"`
	} `graphql:"oldestCommit: commits(first: 1)"`

	ReviewRequests struct {
		Nodes []struct {
			RequestedReviewer struct {
				User struct {
					Login string `graphql:"login"`
				} `graphql:"... on User"`
			} `graphql:"requestedReviewer"`
		} `graphql:"nodes"`
	} `graphql:"reviewRequests(first: 20)"`

	Assignees struct {
		Nodes []struct {
			Login string `graphql:"login"`
		} `graphql:"nodes"`
	} `graphql:"assignees(first: 20)"`

	Labels struct {
		Nodes []struct {
			ID   string `graphql:"id"`
			Name string `graphql:"name"`
		} `graphql:"nodes"`
	} `graphql:"labels(first: 20)"`

	Comments struct {
		Nodes []struct {
			ID   string `graphql:"id"`
			Body string `graphql:"body"`
		} `graphql:"nodes"`
	} `graphql:"comments(last: 20)"`
}

// QueryExisting fetches, for each Review, the most recently updated
// open-or-merged PR for its RemoteHead ref, fanned out with a bounded
// concurrency cap rather than one hand-aliased query, since shurcooL/
// graphql's struct-tag query builder can't alias a dynamic number of ref
// lookups. Populates the Remote-prefixed observed fields of each Review
// with an existing PR; Desired fields set by Resolve are left untouched.
func QueryExisting(ctx context.Context, owner, repo string, topics []*Topic) error {
	d := deps.FromContext(ctx)
	type item struct {
		topic  *Topic
		review *Review
	}
	var items []item
	for _, t := range topics {
		for _, r := range t.Reviews {
			if r.RemoteHead != "" {
				items = append(items, item{t, r})
			}
		}
	}

	_, err := gitops.BatchRun(ctx, items, 0, func(ctx context.Context, it item) (struct{}, error) {
		r := it.review
		var q prQuery
		vars := map[string]interface{}{
			"owner": graphql.String(owner),
			"name":  graphql.String(repo),
			"ref":   graphql.String("refs/heads/" + r.RemoteHead),
		}
		if err := d.GraphQL.Query(ctx, &q, vars); err != nil {
			return struct{}{}, errors.Wrapf(err, "querying PR for %s", r.RemoteHead)
		}
		nodes := q.Repository.Ref.AssociatedPullRequests.Nodes
		if len(nodes) == 0 {
			return struct{}{}, nil
		}
		node := nodes[0]
		baseRefOid := ""
		if len(node.OldestCommit.Nodes) > 0 && len(node.OldestCommit.Nodes[0].Commit.Parents.Nodes) > 0 {
			baseRefOid = node.OldestCommit.Nodes[0].Commit.Parents.Nodes[0].Oid
		}
		r.Number = node.Number
		r.NodeID = node.ID
		r.State = node.State
		r.RemoteIsDraft = node.IsDraft
		r.RemoteBaseRefOid = baseRefOid
		r.RemoteBaseRefName = node.BaseRefName
		r.HeadRefOid = node.HeadRefOid
		r.RemoteTitle = node.Title
		r.RemoteBody = node.Body
		r.URL = fmt.Sprintf("https://%s/%s/%s/pull/%d", d.GitHubURL, owner, repo, node.Number)
		for _, rr := range node.ReviewRequests.Nodes {
			if rr.RequestedReviewer.User.Login != "" {
				r.RemoteReviewers = append(r.RemoteReviewers, rr.RequestedReviewer.User.Login)
			}
		}
		for _, a := range node.Assignees.Nodes {
			r.RemoteAssignees = append(r.RemoteAssignees, a.Login)
		}
		for _, l := range node.Labels.Nodes {
			r.RemoteLabels = append(r.RemoteLabels, l.Name)
		}
		if len(node.Comments.Nodes) > 0 {
			r.ExistingComments = map[string]string{}
			for _, c := range node.Comments.Nodes {
				sentinel := c.Body
				if idx := strings.IndexByte(c.Body, '\n'); idx >= 0 {
					sentinel = c.Body[:idx]
				}
				r.ExistingComments[sentinel] = c.ID
			}
		}
		if r.State == "MERGED" {
			r.PrStatus = PrStatusMerged
		}
		return struct{}{}, nil
	})
	return err
}

// RevListOids returns the commit headers of a ref range as reported by
// `rev-list`, oldest first, used to materialize a PR's remote commit chain
// for patch-id comparison.
func RevListOids(ctx context.Context, git *gitops.Git, head, base gitops.GitCommitHash) ([]gitops.CommitHeader, error) {
	out, err := git.RevList(ctx, string(head), gitops.RevListOpts{
		Exclude:     string(base),
		FirstParent: true,
		Header:      true,
	})
	if err != nil {
		return nil, err
	}
	return gitops.ParseRevList(out), nil
}
