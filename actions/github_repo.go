package actions

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bitcomplete/revup/gitops"
	"github.com/google/go-github/v32/github"
	"github.com/pkg/errors"
)

// gitHubRepo wraps a REST client bound to the GitHub repo the current
// directory's remote points at.
type gitHubRepo struct {
	gitHubClient *github.Client
	owner        string
	name         string
}

func newGitHubRepo(ctx context.Context, g *gitops.Git, authToken, githubURL, remoteName string) (*gitHubRepo, error) {
	httpClient := &http.Client{
		Transport: &authTransport{Token: authToken},
	}
	gitHubClient := github.NewClient(httpClient)
	if githubURL != "" && githubURL != "github.com" {
		base, err := github.NewEnterpriseClient(
			fmt.Sprintf("https://%s/api/v3/", githubURL),
			fmt.Sprintf("https://%s/api/uploads/", githubURL),
			httpClient,
		)
		if err == nil {
			gitHubClient = base
		}
	}

	info, err := g.GetGitHubRepoInfo(ctx, githubURL, remoteName)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if info.Owner == "" || info.Name == "" {
		return nil, errors.Errorf("could not parse a GitHub owner/repo from the %q remote", remoteName)
	}

	return &gitHubRepo{
		gitHubClient: gitHubClient,
		owner:        info.Owner,
		name:         info.Name,
	}, nil
}

func (r *gitHubRepo) Client() *github.Client {
	return r.gitHubClient
}

func (r *gitHubRepo) Owner() string {
	return r.owner
}

func (r *gitHubRepo) Name() string {
	return r.name
}

type authTransport struct {
	http.Transport
	Token string
}

func (t *authTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.Header.Add("Authorization", "token "+t.Token)
	return t.Transport.RoundTrip(r)
}
