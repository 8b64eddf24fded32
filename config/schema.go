package config

import "github.com/urfave/cli/v2"

// FlagSpec is one entry in the single declarative schema shared between the
// CLI surface and the INI config reader, grounded on the way the original
// implementation builds one argparse parser and feeds `config.get_config()`
// values into it as defaults (RevupArgParser.set_defaults_from_config).
type FlagSpec struct {
	// Name is both the CLI flag name (kebab-case) and, with dashes turned to
	// underscores, the INI key under the [revup] section.
	Name    string
	Usage   string
	IsBool  bool
	Default string
}

// GlobalFlags is the toplevel flag set, applying to every subcommand, the Go
// analog of make_toplevel_parser in the original.
var GlobalFlags = []FlagSpec{
	{Name: "github-oauth", Usage: "GitHub OAuth token; overrides keyring/env auth"},
	{Name: "github-username", Usage: "GitHub username, used to namespace remote branches"},
	{Name: "github-url", Usage: "GitHub host", Default: "github.com"},
	{Name: "remote-name", Usage: "git remote to push to and query PRs against", Default: "origin"},
	{Name: "fork-name", Usage: "accepted but has no effect; pushes always go to remote-name"},
	{Name: "editor", Usage: "editor to invoke for interactive commit message edits"},
	{Name: "verbose", Usage: "show verbose debug output", IsBool: true},
	{Name: "keep-temp", Usage: "keep scratch directory contents after exit", IsBool: true},
	{Name: "git-path", Usage: "path to the git binary"},
	{Name: "main-branch", Usage: "default base branch", Default: "main"},
	{Name: "base-branch-globs", Usage: "newline-separated glob list restricting auto-detected base branches"},
	{Name: "git-version", Usage: "accepted but has no effect; the git version is not checked", Default: "2.30.0"},
}

// UploadFlags is the `upload` subcommand's flag set.
var UploadFlags = []FlagSpec{
	{Name: "rebase", Usage: "force-push pure rebases too, instead of leaving them unpushed until real content changes", IsBool: true},
	{Name: "branch-prefix", Usage: "accepted but has no effect; remote branches are prefixed with the uploader", Default: "{github_username}"},
	{Name: "auto-add-users", Usage: "accepted but has no effect; reviewers/assignees are not added as collaborators", IsBool: true, Default: "true"},
	{Name: "uploader", Usage: "overrides the uploader identity used in remote-ref naming"},
	{Name: "draft", Usage: "accepted but has no effect; draft state comes from a topic's draft label", IsBool: true},
	{Name: "skip-confirm", Usage: "don't prompt for confirmation before pushing", IsBool: true},
}

// RestackFlags is the `restack` subcommand's flag set.
var RestackFlags = []FlagSpec{
	{Name: "topicless-last", Usage: "move commits with no Topic: tag to the end of the stack", IsBool: true, Default: "true"},
}

// AmendFlags is the `amend`/`commit` subcommand's flag set.
var AmendFlags = []FlagSpec{
	{Name: "edit", Usage: "accepted but has no effect; amend opens no editor", IsBool: true, Default: "true"},
	{Name: "insert", Usage: "insert as a new commit instead of amending the current one", IsBool: true},
	{Name: "all", Usage: "stage all tracked changes before amending", IsBool: true},
}

// ToCliFlags converts a FlagSpec list to urfave/cli/v2 flags. Bool flags get
// a matching --no-<name> negation; ResolveBool lets --no-<name> win
// whenever it is passed.
func ToCliFlags(specs []FlagSpec) []cli.Flag {
	var flags []cli.Flag
	for _, spec := range specs {
		if spec.IsBool {
			flags = append(flags, &cli.BoolFlag{
				Name:  spec.Name,
				Usage: spec.Usage,
				Value: spec.Default == "true",
			})
			flags = append(flags, &cli.BoolFlag{
				Name:   "no-" + spec.Name,
				Usage:  "disable --" + spec.Name,
				Hidden: true,
			})
		} else {
			flags = append(flags, &cli.StringFlag{
				Name:  spec.Name,
				Usage: spec.Usage,
				Value: spec.Default,
			})
		}
	}
	return flags
}

// ResolveBool returns a bool flag's effective value, letting --no-<name>
// override --<name> when both are passed (matching argparse's "last flag
// wins" behavior approximated for mutually exclusive negation pairs).
func ResolveBool(c *cli.Context, name string) bool {
	if c.IsSet("no-" + name) {
		return !c.Bool("no-" + name)
	}
	return c.Bool(name)
}
