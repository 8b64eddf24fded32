// Package gitops is the engine's Git Operator: every durable object (tree,
// commit) it needs is built by shelling out to a local git binary, never by
// touching the working tree or index directly (scratch index files under
// GIT_INDEX_FILE are the one exception, for make_virtual_diff_target).
package gitops

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	reRawCommitID      = regexp.MustCompile(`(?m)^(?P<commit>[a-f0-9]+)$`)
	reRawAuthor        = regexp.MustCompile(`(?m)^author (?P<name>[^<]+?) <(?P<email>[^>]+)> (?P<date>[0-9]+ [+-][0-9]+)$`)
	reRawCommitter     = regexp.MustCompile(`(?m)^committer (?P<name>[^<]+?) <(?P<email>[^>]+)> (?P<date>[0-9]+ [+-][0-9]+)$`)
	reRawParent        = regexp.MustCompile(`(?m)^parent (?P<commit>[a-f0-9]+)$`)
	reRawTree          = regexp.MustCompile(`(?m)^tree (?P<tree>.+)$`)
	reRawCommitMsgLine = regexp.MustCompile(`(?m)^    (?P<line>.*)$`)
	reLsFilesLine      = regexp.MustCompile(`(?m)^[0-9]+ (?P<hash>[0-9a-f]+) (?P<stage>[0-9])\t(?P<path>.*)$`)
	reRawDiffTreeLine  = regexp.MustCompile(`(?m)^:[0-9]+ (?P<newMode>[0-9]+) [0-9a-f]+ (?P<newHash>[0-9a-f]+) [a-zA-Z]+\t(?P<path>.*)$`)
	reCommitHash       = regexp.MustCompile(`^[0-9a-f]{8,}`)
	reRemoteRef        = regexp.MustCompile(`^refs/remotes/(?P<branch>.*)$`)
)

// commonMainBranches assumes exactly 2 entries; NewGit falls back from
// one to the other when the configured main branch doesn't exist.
var commonMainBranches = []string{"main", "master"}

// gitDiffArgs is the fixed set of flags used to compute a patch-id-stable
// diff: full blob hashes, no color, no textconv, minimal context.
var gitDiffArgs = []string{"--no-pager", "diff", "--full-index", "--no-color", "--no-textconv", "-U1"}

// HeadCommit is the pseudo-ref for the current commit.
const HeadCommit = GitCommitHash("HEAD")

func findSubmatch(re *regexp.Regexp, s, group string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	idx := re.SubexpIndex(group)
	if idx < 0 || idx >= len(m) {
		return ""
	}
	return m[idx]
}

// ParseCommitHeader parses the output of `git rev-list --header` for one
// commit.
func ParseCommitHeader(raw string) CommitHeader {
	var parents []GitCommitHash
	for _, m := range reRawParent.FindAllStringSubmatch(raw, -1) {
		parents = append(parents, GitCommitHash(m[reRawParent.SubexpIndex("commit")]))
	}
	var lines []string
	for _, m := range reRawCommitMsgLine.FindAllStringSubmatch(raw, -1) {
		lines = append(lines, m[reRawCommitMsgLine.SubexpIndex("line")])
	}
	return CommitHeader{
		CommitID:       GitCommitHash(findSubmatch(reRawCommitID, raw, "commit")),
		Tree:           GitTreeHash(findSubmatch(reRawTree, raw, "tree")),
		Parents:        parents,
		AuthorName:     findSubmatch(reRawAuthor, raw, "name"),
		AuthorEmail:    findSubmatch(reRawAuthor, raw, "email"),
		AuthorDate:     findSubmatch(reRawAuthor, raw, "date"),
		CommitterName:  findSubmatch(reRawCommitter, raw, "name"),
		CommitterEmail: findSubmatch(reRawCommitter, raw, "email"),
		CommitterDate:  findSubmatch(reRawCommitter, raw, "date"),
		CommitMsg:      strings.Join(lines, "\n"),
		Title:          findSubmatch(reRawCommitMsgLine, raw, "line"),
	}
}

// ParseRevList parses the NUL-delimited output of `rev-list --header`.
func ParseRevList(s string) []CommitHeader {
	parts := strings.Split(s, "\x00")
	if len(parts) > 0 {
		parts = parts[:len(parts)-1]
	}
	headers := make([]CommitHeader, 0, len(parts))
	for _, p := range parts {
		headers = append(headers, ParseCommitHeader(p))
	}
	return headers
}

// CommitsMatch reports whether author and commit message are the same for
// the given commits, ignoring tree/parents/commit id.
func CommitsMatch(a, b CommitHeader) bool {
	return a.Title == b.Title &&
		a.AuthorName == b.AuthorName &&
		a.AuthorEmail == b.AuthorEmail &&
		a.CommitterName == b.CommitterName &&
		a.CommitterEmail == b.CommitterEmail &&
		a.CommitMsg == b.CommitMsg
}

// IsCommitHash reports whether commitIsh looks like a raw hash rather than a
// symbolic ref.
func IsCommitHash(commitIsh GitCommitHash) bool {
	return reCommitHash.MatchString(string(commitIsh))
}

// Conflict is one informational entry from `git merge-tree`'s conflict
// section: a path set, a type tag ("CONFLICT (content)", "Auto-merging",
// ...), and a human message.
type Conflict struct {
	Type    string
	Message string
	Paths   []string
}

// ConflictError is raised by MergeTreeCommit when merge-tree reports path
// conflicts. Tree is the (partial, conflict-marked) result tree.
type ConflictError struct {
	Tree      GitTreeHash
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge-tree reported %d conflict(s)", len(e.Conflicts))
}

// GitHubRepoInfo is a remote's owner/name, parsed from its URL.
type GitHubRepoInfo struct {
	Owner string
	Name  string
}

// LsFilesEntry is one line of `git ls-files -s` (or -u for conflicts).
type LsFilesEntry struct {
	Hash  GitTreeHash
	Stage int
	Path  string
}

// Git is the engine's handle on the local repository and its configuration.
// All durable writes go through its methods; nothing else touches the repo.
type Git struct {
	Sh *Shell

	GitPath        string
	RemoteName     string
	MainBranch     string
	BaseBranchGlobs []string
	KeepTemp       bool

	RepoRoot string
	GitDir   string
	Email    string
	Author   string
	Editor   string

	scratchOnce sync.Once
	scratchDir  string

	mu                 sync.Mutex
	isBranchOrCommit   map[string]bool
	toCommitHash       map[string]GitCommitHash
	forkPoint          map[string]GitCommitHash
	distanceToFork     map[string]int
	identicalTrees     map[string]bool
}

// NewGit resolves the git binary, repo root, user identity, and editor, the
// Go analog of make_git. gitPath and editor may be empty to use defaults.
func NewGit(
	ctx context.Context,
	sh *Shell,
	gitPath, remoteName, mainBranch, baseBranchGlobs string,
	keepTemp bool,
	editor string,
) (*Git, error) {
	if gitPath == "" {
		var err error
		gitPath, err = defaultGitPath()
		if err != nil {
			return nil, err
		}
	}

	var globs []string
	for _, g := range strings.Split(strings.TrimSpace(baseBranchGlobs), "\n") {
		if g = strings.TrimSpace(g); g != "" {
			globs = append(globs, g)
		}
	}

	g := &Git{
		Sh:              sh,
		GitPath:         gitPath,
		RemoteName:      remoteName,
		MainBranch:      mainBranch,
		BaseBranchGlobs: globs,
		KeepTemp:        keepTemp,

		isBranchOrCommit: map[string]bool{},
		toCommitHash:     map[string]GitCommitHash{},
		forkPoint:        map[string]GitCommitHash{},
		distanceToFork:   map[string]int{},
		identicalTrees:   map[string]bool{},
	}

	repoRoot, err := g.GitStdout(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}
	gitDir, err := g.GitStdout(ctx, "rev-parse", "--path-format=absolute", "--git-dir")
	if err != nil {
		return nil, err
	}
	email, _ := g.GitStdout(ctx, "config", "user.email")
	if email == "" {
		return nil, errors.New("couldn't get git email, set it with `git config --global user.email`")
	}
	resolvedEditor := editor
	if resolvedEditor == "" {
		resolvedEditor, _ = g.GitStdout(ctx, "config", "core.editor")
		if resolvedEditor == "" {
			resolvedEditor = firstNonEmpty(os.Getenv("GIT_EDITOR"), os.Getenv("EDITOR"), "nano")
		}
	}
	mainExists, err := g.IsBranchOrCommit(ctx, remoteName+"/"+mainBranch)
	if err != nil {
		return nil, err
	}

	g.RepoRoot = repoRoot
	sh.Cwd = repoRoot
	g.GitDir = gitDir
	g.Email = strings.ToLower(email)
	g.Author = strings.SplitN(g.Email, "@", 2)[0]
	g.Editor = resolvedEditor

	if !mainExists {
		for i, b := range commonMainBranches {
			if b == mainBranch {
				g.MainBranch = commonMainBranches[1-i]
				break
			}
		}
	}
	return g, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func defaultGitPath() (string, error) {
	path, err := exec.LookPath("git")
	if err != nil {
		return "", errors.New("could not find a 'git' binary on the current PATH")
	}
	return path, nil
}

// ClearCache drops all memoized lookups. Called after operations that move
// refs (soft reset, restack) so later calls don't see stale answers.
func (g *Git) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.isBranchOrCommit = map[string]bool{}
	g.toCommitHash = map[string]GitCommitHash{}
	g.forkPoint = map[string]GitCommitHash{}
	g.distanceToFork = map[string]int{}
	g.identicalTrees = map[string]bool{}
}

// ScratchDir returns the directory for temporary scratch files (index files,
// etc). Cleanup removes it unless KeepTemp; it is not removed automatically
// when the process exits.
func (g *Git) ScratchDir() string {
	g.scratchOnce.Do(func() {
		if g.KeepTemp {
			g.scratchDir = filepath.Join(g.RepoRoot, ".revup")
			_ = os.MkdirAll(g.scratchDir, 0o755)
		} else {
			dir, err := os.MkdirTemp("", "revup_")
			if err != nil {
				dir = os.TempDir()
			}
			g.scratchDir = dir
		}
	})
	return g.scratchDir
}

// Cleanup removes the scratch directory unless KeepTemp was set.
func (g *Git) Cleanup() {
	if !g.KeepTemp && g.scratchDir != "" {
		_ = os.RemoveAll(g.scratchDir)
	}
}

func (g *Git) git(ctx context.Context, opts *RunOpts, args ...string) (int, string, error) {
	full := append([]string{g.GitPath}, args...)
	code, out, err := g.Sh.Run(ctx, full, opts)
	return code, strings.TrimRight(out, "\n"), err
}

// GitStdout runs a git command and returns its trimmed stdout, raising on a
// nonzero exit.
func (g *Git) GitStdout(ctx context.Context, args ...string) (string, error) {
	_, out, err := g.git(ctx, &RunOpts{RaiseOnErr: true}, args...)
	return out, err
}

// GitStdoutEnv is GitStdout with extra environment variables.
func (g *Git) GitStdoutEnv(ctx context.Context, env map[string]string, args ...string) (string, error) {
	_, out, err := g.git(ctx, &RunOpts{Env: env, RaiseOnErr: true}, args...)
	return out, err
}

// GitReturnCode runs a git command and returns only its exit code.
func (g *Git) GitReturnCode(ctx context.Context, args ...string) (int, error) {
	code, _, err := g.git(ctx, &RunOpts{RaiseOnErr: false}, args...)
	return code, err
}

// GetGitHubRepoInfo parses the owner/name of a GitHub remote's URL, for both
// SSH and HTTPS remote forms.
func (g *Git) GetGitHubRepoInfo(ctx context.Context, githubURL, remoteName string) (GitHubRepoInfo, error) {
	code, url, _ := g.git(ctx, &RunOpts{RaiseOnErr: false}, "remote", "get-url", remoteName)
	if code != 0 {
		return GitHubRepoInfo{}, nil
	}
	sshRe := regexp.MustCompile(`^[^@]+@` + regexp.QuoteMeta(githubURL) + `:([^/]+)/([^.]+?)(?:\.git)?$`)
	if m := sshRe.FindStringSubmatch(url); m != nil {
		return GitHubRepoInfo{Owner: m[1], Name: m[2]}, nil
	}
	httpRe := regexp.MustCompile(regexp.QuoteMeta(githubURL) + `/([^/]+)/([^.]+)`)
	if m := httpRe.FindStringSubmatch(url); m != nil {
		return GitHubRepoInfo{Owner: m[1], Name: m[2]}, nil
	}
	return GitHubRepoInfo{}, nil
}

// RevListOpts customizes a RevList invocation.
type RevListOpts struct {
	Exclude            string
	FirstParent        bool
	ExcludeFirstParent bool
	Header             bool
	MaxRevs            int
}

// RevList wraps `git rev-list`.
func (g *Git) RevList(ctx context.Context, include string, opts RevListOpts) (string, error) {
	args := []string{"rev-list", "--reverse", include}
	if opts.MaxRevs > 0 {
		args = append(args, "-n", strconv.Itoa(opts.MaxRevs))
	}
	if opts.FirstParent {
		args = append(args, "--first-parent")
	}
	if opts.ExcludeFirstParent {
		args = append(args, "--exclude-first-parent-only")
	}
	if opts.Header {
		args = append(args, "--header")
	}
	if opts.Exclude != "" {
		args = append(args, "--not", opts.Exclude)
	}
	return g.GitStdout(ctx, args...)
}

// IsBranchOrCommit reports whether obj resolves to a commit or branch,
// memoized per object string.
func (g *Git) IsBranchOrCommit(ctx context.Context, obj string) (bool, error) {
	g.mu.Lock()
	if v, ok := g.isBranchOrCommit[obj]; ok {
		g.mu.Unlock()
		return v, nil
	}
	g.mu.Unlock()

	code, err := g.GitReturnCode(ctx, "rev-parse", "--verify", "--quiet", obj)
	if err != nil {
		return false, err
	}
	result := code == 0
	g.mu.Lock()
	g.isBranchOrCommit[obj] = result
	g.mu.Unlock()
	return result, nil
}

// VerifyBranchOrCommit returns a Usage-flavored error if obj does not name a
// commit or branch.
func (g *Git) VerifyBranchOrCommit(ctx context.Context, obj string) error {
	ok, err := g.IsBranchOrCommit(ctx, obj)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("%s is not a commit or branch name", obj)
	}
	return nil
}

// ToCommitHash resolves ref to its commit hash, memoized.
func (g *Git) ToCommitHash(ctx context.Context, ref string) (GitCommitHash, error) {
	g.mu.Lock()
	if v, ok := g.toCommitHash[ref]; ok {
		g.mu.Unlock()
		return v, nil
	}
	g.mu.Unlock()

	code, out, _ := g.git(ctx, &RunOpts{RaiseOnErr: false}, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if code != 0 {
		return "", errors.Errorf("%s is not a branch name", ref)
	}
	hash := GitCommitHash(out)
	g.mu.Lock()
	g.toCommitHash[ref] = hash
	g.mu.Unlock()
	return hash, nil
}

// ForkPoint returns the commit at which ref and baseRef first diverged,
// using first-parent history only. If ref introduces no commits relative to
// baseRef, ref itself is returned.
func (g *Git) ForkPoint(ctx context.Context, ref, baseRef string) (GitCommitHash, error) {
	key := ref + "\x00" + baseRef
	g.mu.Lock()
	if v, ok := g.forkPoint[key]; ok {
		g.mu.Unlock()
		return v, nil
	}
	g.mu.Unlock()

	out, err := g.Sh.Sh(ctx, g.GitPath, "rev-list", "--first-parent", "--exclude-first-parent-only", ref, "^"+baseRef, "--reverse")
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var result GitCommitHash
	if lines[0] == "" {
		result = GitCommitHash(ref)
	} else {
		parent, err := g.ToCommitHash(ctx, lines[0]+"~")
		if err != nil {
			return "", err
		}
		result = parent
	}
	g.mu.Lock()
	g.forkPoint[key] = result
	g.mu.Unlock()
	return result, nil
}

// DistanceToForkPoint returns the number of commits between ref and its fork
// point with baseRef, capped at maxN+1 comparisons when maxN > 0.
func (g *Git) DistanceToForkPoint(ctx context.Context, ref, baseRef string, maxN int) (int, error) {
	key := fmt.Sprintf("%s\x00%s\x00%d", ref, baseRef, maxN)
	g.mu.Lock()
	if v, ok := g.distanceToFork[key]; ok {
		g.mu.Unlock()
		return v, nil
	}
	g.mu.Unlock()

	args := []string{"rev-list", "--first-parent", "--exclude-first-parent-only", ref, "^" + baseRef, "--count"}
	if maxN > 0 {
		args = append(args, "-n", strconv.Itoa(maxN+1))
	}
	out, err := g.GitStdout(ctx, args...)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	g.mu.Lock()
	g.distanceToFork[key] = n
	g.mu.Unlock()
	return n, nil
}

// IsAncestor reports whether ancestor is a first-parent ancestor of ref.
// Unlike merge-base --is-ancestor this only follows first parents.
func (g *Git) IsAncestor(ctx context.Context, ref, ancestor string) (bool, error) {
	if ref == ancestor {
		return true, nil
	}
	n, err := g.DistanceToForkPoint(ctx, ancestor, ref, 1)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// HaveIdenticalTrees reports whether two commit-ish refs point at the same
// tree, memoized.
func (g *Git) HaveIdenticalTrees(ctx context.Context, ref1, ref2 GitCommitHash) (bool, error) {
	key := string(ref1) + "\x00" + string(ref2)
	g.mu.Lock()
	if v, ok := g.identicalTrees[key]; ok {
		g.mu.Unlock()
		return v, nil
	}
	g.mu.Unlock()

	tree1, err := g.GitStdout(ctx, "rev-parse", string(ref1)+"^{tree}")
	if err != nil {
		return false, err
	}
	tree2, err := g.GitStdout(ctx, "rev-parse", string(ref2)+"^{tree}")
	if err != nil {
		return false, err
	}
	result := tree1 == tree2
	g.mu.Lock()
	g.identicalTrees[key] = result
	g.mu.Unlock()
	return result, nil
}

// EnsureBranchPrefix prefixes branch with the remote name if not already.
func (g *Git) EnsureBranchPrefix(branch string) string {
	if strings.HasPrefix(branch, g.RemoteName+"/") {
		return branch
	}
	return g.RemoteName + "/" + branch
}

// RemoveBranchPrefix strips the remote name prefix if present.
func (g *Git) RemoveBranchPrefix(branch string) string {
	prefix := g.RemoteName + "/"
	if !strings.HasPrefix(branch, prefix) {
		return branch
	}
	return branch[len(prefix):]
}

// FindRemoteBranches lists candidate remote branches for commit's
// auto-detected base branch. limitToBaseBranches restricts to configured
// globs; pruneOld discards branches that don't contain commit's fork point
// with main, to cut down the candidate set.
func (g *Git) FindRemoteBranches(ctx context.Context, commit string, limitToBaseBranches, pruneOld bool) ([]string, error) {
	args := []string{"for-each-ref", "--format", "%(refname)"}

	if limitToBaseBranches {
		if len(g.BaseBranchGlobs) == 0 {
			return []string{g.RemoteName + "/" + g.MainBranch}, nil
		}
		args = append(args, fmt.Sprintf("refs/remotes/%s/%s", g.RemoteName, g.MainBranch))
		for _, b := range g.BaseBranchGlobs {
			args = append(args, "refs/remotes/"+g.RemoteName+"/"+b)
		}
	} else {
		args = append(args,
			fmt.Sprintf("refs/remotes/%s/%s", g.RemoteName, g.MainBranch),
			fmt.Sprintf("refs/remotes/%s/*", g.RemoteName),
		)
	}

	if pruneOld {
		forkWithMain, err := g.ForkPoint(ctx, commit, g.RemoteName+"/"+g.MainBranch)
		if err != nil {
			return nil, err
		}
		args = append(args, "--contains", string(forkWithMain))
	}

	out, err := g.GitStdout(ctx, args...)
	if err != nil {
		return nil, err
	}
	var ret []string
	for _, ref := range strings.Split(out, "\n") {
		if m := reRemoteRef.FindStringSubmatch(ref); m != nil {
			ret = append(ret, m[reRemoteRef.SubexpIndex("branch")])
		}
	}
	return ret, nil
}

// GetBestBaseBranchCandidates returns the remote branch(es) with the
// shortest first-parent distance from commit to their fork point.
func (g *Git) GetBestBaseBranchCandidates(ctx context.Context, commit string, limitToBaseBranches, allowSelf bool) ([]string, error) {
	branches, err := g.FindRemoteBranches(ctx, commit, limitToBaseBranches, true)
	if err != nil {
		return nil, err
	}
	if len(branches) == 1 {
		return branches, nil
	}

	type scored struct {
		dist   int
		branch string
	}
	var candidates []scored
	for _, b := range branches {
		if !allowSelf && b == commit {
			continue
		}
		maxDist := 0
		if len(candidates) > 0 {
			maxDist = candidates[0].dist
		}
		dist, err := g.DistanceToForkPoint(ctx, commit, b, maxDist)
		if err != nil {
			return nil, err
		}
		switch {
		case len(candidates) == 0 || candidates[0].dist > dist:
			candidates = []scored{{dist, b}}
		case candidates[0].dist == dist:
			candidates = append(candidates, scored{dist, b})
		}
	}
	ret := make([]string, len(candidates))
	for i, c := range candidates {
		ret[i] = c.branch
	}
	return ret, nil
}

// GetBestBaseBranch picks one best base branch from GetBestBaseBranchCandidates:
// the current branch or main if among the candidates, else the
// lexicographically last.
func (g *Git) GetBestBaseBranch(ctx context.Context, commit string, limitToBaseBranches, allowSelf bool) (string, error) {
	candidates, err := g.GetBestBaseBranchCandidates(ctx, commit, limitToBaseBranches, allowSelf)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", errors.Errorf("no base branch candidates found for %s", commit)
	}
	ret := candidates[0]
	if len(candidates) == 1 {
		return ret, nil
	}
	currentBranch, _ := g.GitStdout(ctx, "branch", "--show-current")
	for _, c := range candidates {
		switch {
		case c == g.RemoteName+"/"+currentBranch:
			return c, nil
		case c == g.RemoteName+"/"+g.MainBranch:
			return c, nil
		case c > ret:
			ret = c
		}
	}
	return ret, nil
}

// LsFiles wraps `git ls-files -s` (or -u with showConflicts).
func (g *Git) LsFiles(ctx context.Context, showConflicts bool, env map[string]string) ([]LsFilesEntry, error) {
	args := []string{"ls-files"}
	if showConflicts {
		args = append(args, "-u")
	} else {
		args = append(args, "-s")
	}
	out, err := g.GitStdoutEnv(ctx, env, args...)
	if err != nil {
		return nil, err
	}
	var ret []LsFilesEntry
	for _, m := range reLsFilesLine.FindAllStringSubmatch(out, -1) {
		stage, _ := strconv.Atoi(m[reLsFilesLine.SubexpIndex("stage")])
		ret = append(ret, LsFilesEntry{
			Hash:  GitTreeHash(m[reLsFilesLine.SubexpIndex("hash")]),
			Stage: stage,
			Path:  m[reLsFilesLine.SubexpIndex("path")],
		})
	}
	return ret, nil
}

// CommitTree runs `git commit-tree` with the tree/parents/message/identity
// carried in info, returning the new commit hash.
func (g *Git) CommitTree(ctx context.Context, info CommitHeader) (GitCommitHash, error) {
	env := map[string]string{
		"GIT_AUTHOR_NAME":     info.AuthorName,
		"GIT_AUTHOR_EMAIL":    info.AuthorEmail,
		"GIT_AUTHOR_DATE":     info.AuthorDate,
		"GIT_COMMITTER_NAME":  info.CommitterName,
		"GIT_COMMITTER_EMAIL": info.CommitterEmail,
		"GIT_COMMITTER_DATE":  info.CommitterDate,
	}
	for k, v := range env {
		if v == "" {
			delete(env, k)
		}
	}
	args := []string{"commit-tree", string(info.Tree), "-m", info.CommitMsg}
	for _, p := range info.Parents {
		args = append(args, "-p", string(p))
	}
	out, err := g.GitStdoutEnv(ctx, env, args...)
	if err != nil {
		return "", err
	}
	return GitCommitHash(out), nil
}

// GetPatchID returns a patch-id that uniquely identifies commit's diff but
// not its metadata (author, message, parent identity).
func (g *Git) GetPatchID(ctx context.Context, commit GitCommitHash) (string, error) {
	args1 := append([]string{g.GitPath}, gitDiffArgs...)
	args1 = append(args1, string(commit)+"~", string(commit))
	args2 := []string{g.GitPath, "patch-id", "--verbatim"}
	out, err := g.Sh.PipedSh(ctx, args1, args2)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

// GetDiffSummary returns the `--shortstat` summary of the diff between
// parent and commit.
func (g *Git) GetDiffSummary(ctx context.Context, parent, commit GitCommitHash) (string, error) {
	return g.GitStdout(ctx, "diff", "--shortstat", string(parent), string(commit))
}

// MergeTreeCommit performs a combined `git merge-tree` and `commit-tree`,
// returning the new commit hash. Returns *ConflictError if merge-tree
// reports path conflicts.
func (g *Git) MergeTreeCommit(
	ctx context.Context,
	branch1, branch2 GitCommitHash,
	newCommitInfo CommitHeader,
	mergeBase GitCommitHash,
) (GitCommitHash, error) {
	args := []string{"merge-tree", "--write-tree", "--messages", "-z"}
	if mergeBase != "" {
		args = append(args, "--merge-base", string(mergeBase))
	}
	args = append(args, string(branch1), string(branch2))

	code, stdout, _ := g.git(ctx, &RunOpts{RaiseOnErr: false}, args...)

	sections := strings.Split(stdout, "\x00\x00")
	var subsections [][]string
	for _, s := range sections {
		subsections = append(subsections, strings.Split(s, "\x00"))
	}
	treeHash := GitTreeHash("")
	if len(subsections) > 0 && len(subsections[0]) > 0 {
		treeHash = GitTreeHash(subsections[0][0])
	}

	switch code {
	case 0:
		newCommitInfo.Tree = treeHash
		return g.CommitTree(ctx, newCommitInfo)
	case 1:
		if len(subsections) < 2 {
			return "", errors.New("git merge-tree reported conflicts but produced no informational section")
		}
		informational := subsections[1]
		var conflicts []Conflict
		i := 0
		for i < len(informational)-1 {
			numPaths, err := strconv.Atoi(informational[i])
			if err != nil {
				return "", errors.WithStack(err)
			}
			conflicts = append(conflicts, Conflict{
				Type:    informational[i+1+numPaths],
				Message: strings.TrimSpace(informational[i+2+numPaths]),
				Paths:   append([]string{}, informational[i+1:i+1+numPaths]...),
			})
			i += numPaths + 3
		}
		return "", &ConflictError{Tree: treeHash, Conflicts: conflicts}
	default:
		return "", errors.Errorf("unexpected error from git merge-tree: exit %d", code)
	}
}

// LogConflict writes a conflict's informational entries to w, looking up
// conflict markers in the result tree for content conflicts.
func (g *Git) LogConflict(ctx context.Context, e *ConflictError, w io.Writer) {
	for _, c := range e.Conflicts {
		if c.Type == "Auto-merging" {
			continue
		}
		fmt.Fprintln(w, c.Message)
		if c.Type == "CONFLICT (contents)" && len(c.Paths) > 0 {
			g.dumpConflictMarkers(ctx, e.Tree, c.Paths[0], w)
		}
	}
}

func (g *Git) dumpConflictMarkers(ctx context.Context, tree GitTreeHash, path string, w io.Writer) {
	content, err := g.GitStdout(ctx, "show", fmt.Sprintf("%s:%s", tree, path))
	if err != nil {
		return
	}
	lines := strings.Split(content, "\n")
	type span struct{ start, end int }
	var groups []span
	depth := 0
	var open int
	for lineno, line := range lines {
		if strings.HasPrefix(line, strings.Repeat("<", 7)) {
			if depth == 0 {
				open = lineno
			}
			depth++
		}
		if strings.HasPrefix(line, strings.Repeat(">", 7)) && depth > 0 {
			depth--
			if depth == 0 {
				groups = append(groups, span{open, lineno + 1})
			}
		}
	}
	for _, gr := range groups {
		fmt.Fprintf(w, "@@ %d, %d\n", gr.start, gr.end)
		for i := gr.start; i < gr.end && i < len(lines); i++ {
			fmt.Fprintln(w, lines[i])
		}
	}
}

// SyntheticAmend returns a commit containing the contents of both
// commitToAmend and newCommit, keeping commitToAmend's message/identity.
func (g *Git) SyntheticAmend(ctx context.Context, commitToAmend, newCommit CommitHeader) (GitCommitHash, error) {
	info := commitToAmend.Clone()
	return g.MergeTreeCommit(ctx, newCommit.CommitID, info.CommitID, info, info.Parents[0])
}

// SyntheticCherryPickFromCommit returns a commit applying commitInfo's diff
// on top of newParent, via a three-way merge rather than a real cherry-pick.
func (g *Git) SyntheticCherryPickFromCommit(ctx context.Context, commitInfo CommitHeader, newParent GitCommitHash) (GitCommitHash, error) {
	info := commitInfo.Clone()
	oldParent := info.Parents[0]
	info.Parents[0] = newParent
	return g.MergeTreeCommit(ctx, info.CommitID, newParent, info, oldParent)
}

// CherryPickFromTree returns a commit that reuses commitInfo's tree as-is on
// top of newParent, with no merge (used when there's no meaningful base to
// three-way merge against).
func (g *Git) CherryPickFromTree(ctx context.Context, commitInfo CommitHeader, newParent GitCommitHash) (GitCommitHash, error) {
	info := commitInfo.Clone()
	info.Parents[0] = newParent
	return g.CommitTree(ctx, info)
}

// MakeVirtualDiffTarget builds a commit (optionally on top of parent) whose
// diff against newHead approximates the "real" diff introduced between
// oldHead and newHead, excluding files that only changed upstream as part of
// a rebase. Its caller is the toolkit diff-target command.
func (g *Git) MakeVirtualDiffTarget(
	ctx context.Context,
	oldBase, oldHead, newBase, newHead GitCommitHash,
	parent GitCommitHash,
) (GitCommitHash, error) {
	rawDiff, err := g.GitStdout(ctx, "diff-tree", "-r", "--no-commit-id", "--raw", string(oldBase), string(oldHead))
	if err != nil {
		return "", err
	}
	var newIndex []string
	for _, m := range reRawDiffTreeLine.FindAllStringSubmatch(rawDiff, -1) {
		mode := m[reRawDiffTreeLine.SubexpIndex("newMode")]
		hash := m[reRawDiffTreeLine.SubexpIndex("newHash")]
		path := m[reRawDiffTreeLine.SubexpIndex("path")]
		newIndex = append(newIndex, fmt.Sprintf("%s %s 0\t%s", mode, hash, path))
	}
	if len(newIndex) == 0 {
		return newBase, nil
	}

	tempIndexPath := filepath.Join(g.ScratchDir(), "index.temp")
	env := map[string]string{"GIT_INDEX_FILE": tempIndexPath}

	srcIndex, err := os.Open(filepath.Join(g.GitDir, "index"))
	if err != nil {
		return "", errors.WithStack(err)
	}
	dstIndex, err := os.Create(tempIndexPath)
	if err != nil {
		srcIndex.Close()
		return "", errors.WithStack(err)
	}
	_, copyErr := io.Copy(dstIndex, srcIndex)
	srcIndex.Close()
	dstIndex.Close()
	if copyErr != nil {
		return "", errors.WithStack(copyErr)
	}

	if _, err := g.GitStdoutEnv(ctx, env, "reset", "-q", "--no-refresh", string(newBase), "--", ":/"); err != nil {
		return "", err
	}
	if _, _, err := g.git(ctx, &RunOpts{Env: env, Stdin: strings.Join(newIndex, "\n"), RaiseOnErr: true}, "update-index", "--index-info"); err != nil {
		return "", err
	}
	tree, err := g.GitStdoutEnv(ctx, env, "write-tree")
	if err != nil {
		return "", err
	}

	var parents []GitCommitHash
	if parent != "" {
		parents = []GitCommitHash{parent}
	}
	newCommitInfo := CommitHeader{
		Tree:    GitTreeHash(tree),
		Parents: parents,
		CommitMsg: fmt.Sprintf(
			"revup virtual diff target\n\n%s\n%s\n%s\n%s",
			oldBase, oldHead, newBase, newHead,
		),
	}
	return g.CommitTree(ctx, newCommitInfo)
}

// SoftReset moves the current branch to newCommit without touching the
// working tree, and invalidates memoized lookups.
func (g *Git) SoftReset(ctx context.Context, newCommit GitCommitHash, env map[string]string) error {
	if _, err := g.GitStdoutEnv(ctx, env, "reset", "--soft", string(newCommit)); err != nil {
		return err
	}
	g.ClearCache()
	return nil
}

// HardReset moves the current branch and working tree to ref.
func (g *Git) HardReset(ctx context.Context, ref string) error {
	if _, err := g.GitStdout(ctx, "reset", "--hard", ref); err != nil {
		return err
	}
	g.ClearCache()
	return nil
}

// PushSpec is one local commit pushed to one remote branch, with the
// expected-old-value lease used to detect a concurrent update.
type PushSpec struct {
	Local      GitCommitHash
	RemoteRef  string // e.g. "refs/heads/alice/revup/main/feature"
	ExpectedOld GitCommitHash // "" to push unconditionally
}

// Push force-pushes every spec to remoteName in a single invocation, using
// `--force-with-lease` per ref so a branch that moved since it was last
// queried is rejected rather than clobbered.
func (g *Git) Push(ctx context.Context, remoteName string, specs []PushSpec) error {
	if len(specs) == 0 {
		return nil
	}
	args := []string{"push", remoteName, "--atomic"}
	for _, s := range specs {
		lease := s.RemoteRef
		if s.ExpectedOld != "" {
			lease += ":" + string(s.ExpectedOld)
		} else {
			lease += ":"
		}
		args = append(args, "--force-with-lease="+lease)
		args = append(args, fmt.Sprintf("%s:%s", s.Local, s.RemoteRef))
	}
	_, err := g.GitStdout(ctx, args...)
	return err
}

// DeleteRemoteRef removes a single ref from remoteName.
func (g *Git) DeleteRemoteRef(ctx context.Context, remoteName, remoteRef string) error {
	_, err := g.GitStdout(ctx, "push", remoteName, "--delete", remoteRef)
	return err
}

// Credential asks the `git credential` helper for a password/token to use
// against githubURL, falling back to an empty string if none is configured.
func (g *Git) Credential(ctx context.Context, githubURL string) (string, error) {
	input := fmt.Sprintf("protocol=https\nhost=%s\n\n", githubURL)
	_, out, err := g.git(ctx, &RunOpts{Stdin: input, RaiseOnErr: false}, "credential", "fill")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "password=") {
			return strings.TrimPrefix(line, "password="), nil
		}
	}
	return "", nil
}
