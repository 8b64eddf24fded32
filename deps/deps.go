// Package deps carries the engine's ambient collaborators through a
// context.Context, the way the teacher threads its loggers and auth.
package deps

import (
	"context"
	"log"

	"github.com/bitcomplete/revup/auth"
	"github.com/bitcomplete/revup/config"
	"github.com/bitcomplete/revup/gitops"
	"github.com/bitcomplete/revup/logs"
	"github.com/shurcooL/graphql"
)

type depsKeyType int

var depsKey depsKeyType

// Deps is the set of ambient collaborators every action needs: loggers (with
// secret redaction wired in), git, the auth token, and a GraphQL client
// pointed at the configured GitHub host.
type Deps struct {
	ErrorLog *log.Logger
	InfoLog  *log.Logger
	DebugLog *log.Logger
	Redactor *logs.Redactor

	*auth.Auth
	Git     *gitops.Git
	GraphQL *graphql.Client

	GitHubURL  string
	RemoteName string
	RepoRoot   string

	Conf *config.Config
}

func ContextWithDeps(ctx context.Context, d *Deps) context.Context {
	return context.WithValue(ctx, depsKey, d)
}

func FromContext(ctx context.Context) *Deps {
	d, _ := ctx.Value(depsKey).(*Deps)
	if d == nil {
		return &Deps{}
	}
	return d
}
