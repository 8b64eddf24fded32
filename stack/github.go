package stack

import (
	"context"

	"github.com/google/go-github/v32/github"
	"github.com/pkg/errors"
)

// ResolveUsersAndLabels populates s.UserIDs and s.LabelIDs with every
// assignable collaborator and every label defined on owner/repo, keyed by
// login/name, so the Push & PR Mutator can translate Reviewer:/Assignee:/
// Label: tags into the node ids GraphQL mutations require (spec §3, §4.6).
func ResolveUsersAndLabels(ctx context.Context, client *github.Client, owner, repo string, s *TopicStack) error {
	s.UserIDs = map[string]string{}
	s.LabelIDs = map[string]string{}

	opts := &github.ListCollaboratorsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		users, resp, err := client.Repositories.ListCollaborators(ctx, owner, repo, opts)
		if err != nil {
			return errors.Wrap(err, "listing collaborators")
		}
		for _, u := range users {
			if u.GetLogin() != "" && u.GetNodeID() != "" {
				s.UserIDs[u.GetLogin()] = u.GetNodeID()
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	labelOpts := &github.ListOptions{PerPage: 100}
	for {
		labels, resp, err := client.Issues.ListLabels(ctx, owner, repo, labelOpts)
		if err != nil {
			return errors.Wrap(err, "listing labels")
		}
		for _, l := range labels {
			if l.GetName() != "" && l.GetNodeID() != "" {
				s.LabelIDs[l.GetName()] = l.GetNodeID()
			}
		}
		if resp.NextPage == 0 {
			break
		}
		labelOpts.Page = resp.NextPage
	}
	return nil
}
