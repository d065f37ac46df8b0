// Package git implements the worktree coordinator over the git CLI. The
// porcelain output of `git worktree list` is the contract; no library
// binding reproduces its is_main semantics, so everything goes through the
// shell runner.
package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/nomadflow/nomadflow/internal/common/errors"
	"github.com/nomadflow/nomadflow/internal/common/logger"
	"github.com/nomadflow/nomadflow/internal/shell"
)

// CloneTimeout bounds a single clone invocation.
const CloneTimeout = 600 * time.Second

// Repository is a git checkout under the repos directory.
type Repository struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

// Feature is one worktree of a repository. The main worktree is the
// repository checkout itself.
type Feature struct {
	Name         string `json:"name"`
	WorktreePath string `json:"worktreePath"`
	Branch       string `json:"branch"`
	IsActive     bool   `json:"isActive"`
	IsMain       bool   `json:"isMain"`
}

// BranchInfo describes a branch not yet attached to a worktree.
type BranchInfo struct {
	Name       string  `json:"name"`
	IsRemote   bool    `json:"isRemote"`
	RemoteName *string `json:"remoteName,omitempty"`
}

// Service runs worktree operations for repositories under reposDir, placing
// feature worktrees under worktreesDir/<repo>/<name>.
type Service struct {
	reposDir     string
	worktreesDir string
	log          *logger.Logger
}

// NewService creates a worktree coordinator.
func NewService(reposDir, worktreesDir string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		reposDir:     reposDir,
		worktreesDir: worktreesDir,
		log:          log.WithComponent("git"),
	}
}

// ListRepos scans the repos directory. A directory is a repository iff it
// contains a .git entry.
func (s *Service) ListRepos(ctx context.Context) ([]Repository, error) {
	repos := []Repository{}

	entries, err := os.ReadDir(s.reposDir)
	if err != nil {
		if os.IsNotExist(err) {
			return repos, nil
		}
		return nil, apperrors.IO(err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.reposDir, entry.Name())
		if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
			continue
		}
		repos = append(repos, Repository{
			Name:   entry.Name(),
			Path:   path,
			Branch: s.currentBranch(ctx, path),
		})
	}

	return repos, nil
}

// CloneRepo clones url into the repos directory. When token is non-empty it
// is injected into the clone URL and scrubbed from the persisted remote
// afterwards. The repo name defaults to the URL's last path segment.
func (s *Service) CloneRepo(ctx context.Context, url, token, name string) (*Repository, error) {
	repoName := name
	if repoName == "" {
		trimmed := strings.TrimSuffix(url, "/")
		base := filepath.Base(trimmed)
		repoName = strings.TrimSuffix(base, ".git")
		if repoName == "" || repoName == "." || repoName == "/" {
			return nil, &apperrors.Error{Kind: apperrors.KindOther, Message: "Cannot determine repository name from URL"}
		}
	}
	repoName = SanitizeName(repoName)

	dest := filepath.Join(s.reposDir, repoName)
	if _, err := os.Stat(dest); err == nil {
		return nil, apperrors.AlreadyExists("Repository '%s' already exists", repoName)
	}

	if err := os.MkdirAll(s.reposDir, 0755); err != nil {
		return nil, apperrors.IO(err)
	}

	cloneURL := url
	if token != "" {
		cloneURL = injectToken(url, token)
	}

	s.log.Info("cloning repository", zap.String("name", repoName))
	res := shell.RunTimeout(ctx, fmt.Sprintf("git clone %s %s", cloneURL, dest), "", CloneTimeout)
	if !res.Success() {
		return nil, apperrors.CommandFailed(fmt.Sprintf("git clone failed: %s", res.Stderr))
	}

	// Scrub the token from the persisted remote.
	if token != "" {
		shell.Run(ctx, fmt.Sprintf("git remote set-url origin %s", url), dest)
	}

	return &Repository{
		Name:   repoName,
		Path:   dest,
		Branch: s.currentBranch(ctx, dest),
	}, nil
}

// ListFeatures parses the worktree porcelain for repoPath and sweeps the
// repo's worktrees directory for directories git has lost track of.
func (s *Service) ListFeatures(ctx context.Context, repoPath string) ([]Feature, error) {
	features := []Feature{}
	repoName := filepath.Base(repoPath)

	canonicalRepo := canonicalize(repoPath)

	res := shell.Run(ctx, "git worktree list --porcelain", repoPath)
	if res.Success() {
		var wtPath, branch string
		flush := func() {
			if wtPath == "" {
				return
			}
			features = append(features, s.porcelainFeature(wtPath, branch, repoName, canonicalRepo))
			wtPath, branch = "", ""
		}
		for _, line := range strings.Split(res.Stdout, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				flush()
			case strings.HasPrefix(line, "worktree "):
				wtPath = strings.TrimPrefix(line, "worktree ")
			case strings.HasPrefix(line, "branch "):
				branch = strings.TrimPrefix(line, "branch ")
			}
		}
		flush()
	}

	// Sweep for worktree directories the porcelain did not report.
	repoWorktrees := filepath.Join(s.worktreesDir, repoName)
	if entries, err := os.ReadDir(repoWorktrees); err == nil {
		known := make(map[string]bool, len(features))
		for _, f := range features {
			known[f.WorktreePath] = true
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(repoWorktrees, entry.Name())
			if known[path] {
				continue
			}
			features = append(features, Feature{
				Name:         entry.Name(),
				WorktreePath: path,
				Branch:       s.currentBranch(ctx, path),
			})
		}
	}

	return features, nil
}

func (s *Service) porcelainFeature(wtPath, branch, repoName, canonicalRepo string) Feature {
	branch = strings.TrimPrefix(branch, "refs/heads/")
	isMain := canonicalize(wtPath) == canonicalRepo

	var name string
	if isMain {
		name = branch
		if name == "" {
			name = repoName
		}
	} else {
		name = filepath.Base(wtPath)
	}

	return Feature{
		Name:         name,
		WorktreePath: wtPath,
		Branch:       branch,
		IsMain:       isMain,
	}
}

// ListBranches returns local and remote branches not already attached to a
// worktree, plus the repo's default branch. The fetch is best-effort so
// offline use keeps working.
func (s *Service) ListBranches(ctx context.Context, repoPath string) ([]BranchInfo, string, error) {
	shell.Run(ctx, "git fetch --all 2>/dev/null || true", repoPath)

	worktreeBranches := map[string]bool{}
	if res := shell.Run(ctx, "git worktree list --porcelain", repoPath); res.Success() {
		for _, line := range strings.Split(res.Stdout, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "branch ") {
				ref := strings.TrimPrefix(line, "branch ")
				worktreeBranches[strings.TrimPrefix(ref, "refs/heads/")] = true
			}
		}
	}

	branches := []BranchInfo{}
	localNames := map[string]bool{}

	if res := shell.Run(ctx, `git branch --format="%(refname:short)"`, repoPath); res.Success() {
		for _, line := range strings.Split(res.Stdout, "\n") {
			name := strings.TrimSpace(line)
			if name == "" || worktreeBranches[name] {
				continue
			}
			localNames[name] = true
			branches = append(branches, BranchInfo{Name: name})
		}
	}

	if res := shell.Run(ctx, `git branch -r --format="%(refname:short)"`, repoPath); res.Success() {
		for _, line := range strings.Split(res.Stdout, "\n") {
			fullName := strings.TrimSpace(line)
			if fullName == "" || strings.Contains(fullName, "/HEAD") {
				continue
			}
			name := fullName
			remote := "origin"
			if idx := strings.Index(fullName, "/"); idx >= 0 {
				remote = fullName[:idx]
				name = fullName[idx+1:]
			}
			if localNames[name] || worktreeBranches[name] {
				continue
			}
			r := remote
			branches = append(branches, BranchInfo{Name: name, IsRemote: true, RemoteName: &r})
		}
	}

	return branches, s.DefaultBranch(ctx, repoPath), nil
}

// AttachBranch adds a worktree for an existing branch, first as a plain add
// and then as a tracking add against origin.
func (s *Service) AttachBranch(ctx context.Context, repoPath, branchName string) (string, string, error) {
	repoName := filepath.Base(repoPath)
	repoWorktrees := filepath.Join(s.worktreesDir, repoName)
	if err := os.MkdirAll(repoWorktrees, 0755); err != nil {
		return "", "", apperrors.IO(err)
	}

	wtName := DeriveWorktreeName(branchName, repoWorktrees)
	wtPath := filepath.Join(repoWorktrees, wtName)

	res := shell.Run(ctx, fmt.Sprintf("git worktree add %q %q", wtPath, branchName), repoPath)
	if !res.Success() {
		res = shell.Run(ctx,
			fmt.Sprintf("git worktree add --track -b %q %q %q", branchName, wtPath, "origin/"+branchName),
			repoPath)
		if !res.Success() {
			return "", "", apperrors.CommandFailed(
				fmt.Sprintf("Failed to attach branch '%s': %s", branchName, res.Stderr))
		}
	}

	return wtPath, branchName, nil
}

// CreateFeature adds a worktree for branchName, creating the branch when
// needed. An existing worktree directory is returned idempotently. The add
// variants are tried in order: new branch at base, existing branch, new
// branch at origin/<base>, new branch at HEAD.
func (s *Service) CreateFeature(ctx context.Context, repoPath, branchName, baseBranch string) (string, string, error) {
	repoName := filepath.Base(repoPath)

	base := baseBranch
	if base == "" {
		base = s.DefaultBranch(ctx, repoPath)
	}

	repoWorktrees := filepath.Join(s.worktreesDir, repoName)
	if err := os.MkdirAll(repoWorktrees, 0755); err != nil {
		return "", "", apperrors.IO(err)
	}

	wtName := DeriveWorktreeName(branchName, repoWorktrees)
	wtPath := filepath.Join(repoWorktrees, wtName)

	if _, err := os.Stat(wtPath); err == nil {
		return wtPath, branchName, nil
	}

	shell.Run(ctx, "git fetch --all 2>/dev/null || true", repoPath)

	attempts := []string{
		fmt.Sprintf("git worktree add -b %q %q %q", branchName, wtPath, base),
		fmt.Sprintf("git worktree add %q %q", wtPath, branchName),
		fmt.Sprintf("git worktree add -b %q %q %q", branchName, wtPath, "origin/"+base),
		fmt.Sprintf("git worktree add -b %q %q HEAD", branchName, wtPath),
	}

	var res *shell.Result
	for _, cmd := range attempts {
		res = shell.Run(ctx, cmd, repoPath)
		if res.Success() {
			return wtPath, branchName, nil
		}
	}

	return "", "", apperrors.CommandFailed(fmt.Sprintf("Failed to create worktree: %s", res.Stderr))
}

// DeleteFeature removes the worktree for featureName, pruning and removing
// the directory directly when git refuses, then deletes the local branch
// feature/<name> (the legacy naming convention).
func (s *Service) DeleteFeature(ctx context.Context, repoPath, featureName string) (bool, error) {
	repoName := filepath.Base(repoPath)
	wtPath := filepath.Join(s.worktreesDir, repoName, featureName)

	res := shell.Run(ctx, fmt.Sprintf("git worktree remove %q --force", wtPath), repoPath)
	if !res.Success() {
		shell.Run(ctx, "git worktree prune", repoPath)
		if _, err := os.Stat(wtPath); err == nil {
			if err := os.RemoveAll(wtPath); err != nil {
				s.log.Warn("failed to remove worktree directory",
					zap.String("path", wtPath), zap.Error(err))
			}
		}
	}

	shell.Run(ctx, fmt.Sprintf("git branch -D %q", "feature/"+featureName), repoPath)

	return true, nil
}

// DefaultBranch resolves the repo's default branch: origin's symbolic HEAD,
// then the first of main/master/develop/dev that exists, then the current
// branch, then the literal "main".
func (s *Service) DefaultBranch(ctx context.Context, repoPath string) string {
	res := shell.Run(ctx,
		"git symbolic-ref refs/remotes/origin/HEAD 2>/dev/null | sed 's@^refs/remotes/origin/@@'",
		repoPath)
	if res.Success() {
		if branch := strings.TrimSpace(res.Stdout); branch != "" {
			return branch
		}
	}

	for _, branch := range []string{"main", "master", "develop", "dev"} {
		if shell.Run(ctx, fmt.Sprintf("git rev-parse --verify %q 2>/dev/null", branch), repoPath).Success() {
			return branch
		}
	}

	if res := shell.Run(ctx, "git rev-parse --abbrev-ref HEAD", repoPath); res.Success() {
		return strings.TrimSpace(res.Stdout)
	}

	return "main"
}

func (s *Service) currentBranch(ctx context.Context, repoPath string) string {
	res := shell.Run(ctx, "git rev-parse --abbrev-ref HEAD", repoPath)
	if !res.Success() {
		return "unknown"
	}
	return strings.TrimSpace(res.Stdout)
}

// canonicalize resolves symlinks for stable path equality, falling back to
// the input when the path does not resolve.
func canonicalize(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return resolved
	}
	return abs
}

func injectToken(url, token string) string {
	if rest, ok := strings.CutPrefix(url, "https://"); ok {
		return "https://oauth2:" + token + "@" + rest
	}
	if rest, ok := strings.CutPrefix(url, "http://"); ok {
		return "http://oauth2:" + token + "@" + rest
	}
	return url
}
