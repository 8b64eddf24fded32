package main

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/bitcomplete/revup/actions"
	"github.com/bitcomplete/revup/auth"
	"github.com/bitcomplete/revup/config"
	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
	"github.com/bitcomplete/revup/gitops"
	"github.com/bitcomplete/revup/logs"
	"github.com/pkg/errors"
	"github.com/shurcooL/graphql"
	"github.com/urfave/cli/v2"
)

const gitHubAppClientID = "Iv1.39b07fd4b206e0ca"

func main() {
	app := &cli.App{
		Name:    "revup",
		Version: "0.1.0",
		Usage:   "stacked pull requests on top of plain git",
		Flags:   config.ToCliFlags(config.GlobalFlags),
		Commands: []*cli.Command{
			{
				Name:   "auth",
				Usage:  "authorize GitHub access",
				Action: actions.Auth,
			},
			{
				Name:   "upload",
				Usage:  "push the local topic stack and create/update its pull requests",
				Flags:  config.ToCliFlags(config.UploadFlags),
				Before: applyConfigDefaults(config.UploadFlags),
				Action: actions.Upload,
			},
			{
				Name:   "restack",
				Usage:  "rebuild the local commit stack onto each topic's current base",
				Flags:  config.ToCliFlags(config.RestackFlags),
				Before: applyConfigDefaults(config.RestackFlags),
				Action: actions.Restack,
			},
			{
				Name:  "amend",
				Usage: "fold staged changes into an existing topic",
				Flags: append(config.ToCliFlags(config.AmendFlags),
					&cli.StringFlag{Name: "topic", Usage: "topic to amend (default: HEAD's topic)"},
					&cli.StringFlag{Name: "message", Usage: "message for the new commit with --insert"},
				),
				Before: applyConfigDefaults(config.AmendFlags),
				Action: actions.Amend,
			},
			{
				Name:  "commit",
				Usage: "alias of `amend --insert`",
				Flags: append(config.ToCliFlags(config.AmendFlags),
					&cli.StringFlag{Name: "topic", Usage: "topic to commit onto (default: HEAD's topic)"},
					&cli.StringFlag{Name: "message", Usage: "message for the new commit"},
				),
				Before: applyConfigDefaults(config.AmendFlags),
				Action: func(c *cli.Context) error {
					if err := c.Set("insert", "true"); err != nil {
						return err
					}
					return actions.Amend(c)
				},
			},
			{
				Name:      "cherry-pick",
				Usage:     "land a whole branch onto HEAD as one squashed commit",
				ArgsUsage: "<branch>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "base-branch", Usage: "base branch (default: autodetected)"},
				},
				Action: actions.CherryPick,
			},
			{
				Name:      "config",
				Usage:     "read or write a single config key",
				ArgsUsage: "<flag> [value]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "repo", Usage: "operate on the repo-local config file"},
					&cli.BoolFlag{Name: "delete", Usage: "delete the key instead of reading/writing it"},
				},
				Action: actions.Config,
			},
			{
				Name:   "reset",
				Usage:  "hard-reset the current branch to its upstream tracking branch",
				Action: actions.Reset,
			},
			{
				Name:  "log",
				Usage: "show an ASCII graph of the local topic stack",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "base-branch", Aliases: []string{"b"}, Usage: "use the given branch as the base instead of autodetecting"},
				},
				Action: actions.Log,
			},
			{
				Name:  "toolkit",
				Usage: "exercise individual pieces of the engine directly, for scripting",
				Subcommands: []*cli.Command{
					{
						Name:  "detect-branch",
						Usage: "detect the base branch of the current branch",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "show-all", Aliases: []string{"s"}, Usage: "show all candidates, not just the best one"},
							&cli.BoolFlag{Name: "no-limit", Aliases: []string{"n"}, Usage: "don't limit to release branches"},
						},
						Action: actions.ToolkitDetectBranch,
					},
					{
						Name:  "cherry-pick",
						Usage: "synthesize a cherry-pick of one commit onto a new parent",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "commit", Aliases: []string{"c"}, Required: true, Usage: "commit to cherry-pick"},
							&cli.StringFlag{Name: "parent", Aliases: []string{"p"}, Required: true, Usage: "parent commit"},
						},
						Action: actions.ToolkitCherryPick,
					},
					{
						Name:  "diff-target",
						Usage: "make a virtual diff target from the given commits",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "old-head", Aliases: []string{"oh"}, Required: true},
							&cli.StringFlag{Name: "old-base", Aliases: []string{"ob"}, Usage: "old base commit (parent of old head by default)"},
							&cli.StringFlag{Name: "new-head", Aliases: []string{"nh"}, Required: true},
							&cli.StringFlag{Name: "new-base", Aliases: []string{"nb"}, Usage: "new base commit (parent of new head by default)"},
							&cli.StringFlag{Name: "parent", Aliases: []string{"p"}, Usage: "parent commit for the result"},
						},
						Action: actions.ToolkitDiffTarget,
					},
					{
						Name:      "fork-point",
						Usage:     "find the first divergence between two branches",
						ArgsUsage: "<branch> <branch>",
						Action:    actions.ToolkitForkPoint,
					},
					{
						Name:      "closest-branch",
						Usage:     "find the nearest base branch to the given commit",
						ArgsUsage: "<branch>",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "allow-self", Usage: `allow the branch itself to be a valid "closest"`},
						},
						Action: actions.ToolkitClosestBranch,
					},
					{
						Name:  "list-topics",
						Usage: "list all topics and their commits",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "base-branch", Aliases: []string{"b"}, Usage: "use the given branch as the base instead of autodetecting"},
							&cli.StringFlag{Name: "relative-branch", Aliases: []string{"e"}, Usage: "use the given relative branch"},
							&cli.BoolFlag{Name: "commit-ids", Aliases: []string{"c"}, Usage: "print the ids for all commits within a topic"},
							&cli.BoolFlag{Name: "titles", Aliases: []string{"t"}, Usage: "print the titles for all commits within a topic"},
						},
						Action: actions.ToolkitListTopics,
					},
				},
			},
		},
		Before: func(c *cli.Context) error {
			d, err := makeDeps(c)
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				// Can't go through ExitErrHandler, which requires deps.
				os.Exit(1)
			}
			c.Context = deps.ContextWithDeps(c.Context, d)
			return nil
		},
		ExitErrHandler: func(c *cli.Context, err error) {
			if err == nil {
				return
			}
			d := deps.FromContext(c.Context)
			if d.ErrorLog == nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(errs.KindOf(err).ExitCode())
			}
			d.ErrorLog.Println(err.Error())
			var stackTracer interface{ StackTrace() errors.StackTrace }
			if errors.As(err, &stackTracer) {
				d.DebugLog.Printf("%+v", stackTracer.StackTrace())
			}
			if exitErr, ok := err.(cli.ExitCoder); ok {
				os.Exit(exitErr.ExitCode())
			}
			os.Exit(errs.KindOf(err).ExitCode())
		},
	}
	_ = app.Run(os.Args)
}

// applyConfigDefaults layers config-file values under the command's own
// flags before its Action runs, mirroring set_defaults_from_config.
func applyConfigDefaults(specs []config.FlagSpec) cli.BeforeFunc {
	return func(c *cli.Context) error {
		d := deps.FromContext(c.Context)
		if d.Conf == nil {
			return nil
		}
		d.Conf.ApplyDefaults(specs, c.IsSet, func(name, value string) {
			_ = c.Set(name, value)
		})
		return nil
	}
}

func makeDeps(c *cli.Context) (*deps.Deps, error) {
	verbose := config.ResolveBool(c, "verbose")
	debugWriter := io.Writer(ioutil.Discard)
	if verbose {
		debugWriter = os.Stdout
	}
	redactor := logs.NewRedactor(os.Stderr)
	infoRedactor := logs.NewRedactor(os.Stdout)

	d := &deps.Deps{
		ErrorLog: log.New(redactor, "", 0),
		InfoLog:  log.New(infoRedactor, "", 0),
		DebugLog: log.New(debugWriter, "[debug] ", log.Ldate|log.Lmicroseconds),
		Redactor: redactor,
	}

	repoRoot, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return nil, errors.Wrap(err, "not inside a git repository")
	}
	d.RepoRoot = strings.TrimSpace(string(repoRoot))

	conf, err := config.Load(config.Path(), d.RepoRoot)
	if err != nil {
		return nil, err
	}
	d.Conf = conf
	conf.ApplyDefaults(config.GlobalFlags, c.IsSet, func(name, value string) {
		_ = c.Set(name, value)
	})

	sh := gitops.NewShell(!verbose, "")
	git, err := gitops.NewGit(
		c.Context,
		sh,
		c.String("git-path"),
		c.String("remote-name"),
		c.String("main-branch"),
		c.String("base-branch-globs"),
		config.ResolveBool(c, "keep-temp"),
		c.String("editor"),
	)
	if err != nil {
		return nil, err
	}
	d.Git = git

	githubURL := c.String("github-url")
	if githubURL == "" {
		githubURL = "github.com"
	}
	d.GitHubURL = githubURL
	d.RemoteName = c.String("remote-name")

	token := c.String("github-oauth")
	if token == "" {
		token = os.Getenv("REVUP_GITHUB_OAUTH")
	}
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	var a *auth.Auth
	if token != "" {
		a = auth.FromToken(token)
	} else {
		a, err = auth.LoadFromKeyRing(gitHubAppClientID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			if cred, credErr := git.Credential(c.Context, githubURL); credErr == nil && cred != "" {
				a = auth.FromToken(cred)
			}
		}
	}
	d.Auth = a
	if d.Auth != nil {
		redactor.Register(d.Auth.Token())
		infoRedactor.Register(d.Auth.Token())
	}

	apiURL := "https://api.github.com/graphql"
	if githubURL != "github.com" {
		apiURL = fmt.Sprintf("https://%s/api/graphql", githubURL)
	}
	d.GraphQL = graphql.NewClient(apiURL, authHTTPClient(d))

	return d, nil
}

// authTransport adds the bearer token to every outgoing GraphQL request.
type authTransport struct {
	token string
}

func (t *authTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.token != "" {
		r.Header.Set("Authorization", "bearer "+t.token)
	}
	return http.DefaultTransport.RoundTrip(r)
}

func authHTTPClient(d *deps.Deps) *http.Client {
	token := ""
	if d.Auth != nil {
		token = d.Auth.Token()
	}
	return &http.Client{Transport: &authTransport{token: token}}
}
