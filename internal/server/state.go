// Package server exposes the worktree coordinator over an authenticated
// JSON API and proxies browser terminal traffic to the local ttyd daemon.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/nomadflow/nomadflow/internal/common/config"
	"github.com/nomadflow/nomadflow/internal/common/logger"
	"github.com/nomadflow/nomadflow/internal/git"
	"github.com/nomadflow/nomadflow/internal/tmux"
)

// Coordinator is the worktree side of the coordinator consumed by the
// handlers.
type Coordinator interface {
	ListRepos(ctx context.Context) ([]git.Repository, error)
	CloneRepo(ctx context.Context, url, token, name string) (*git.Repository, error)
	ListFeatures(ctx context.Context, repoPath string) ([]git.Feature, error)
	ListBranches(ctx context.Context, repoPath string) ([]git.BranchInfo, string, error)
	AttachBranch(ctx context.Context, repoPath, branchName string) (string, string, error)
	CreateFeature(ctx context.Context, repoPath, branchName, baseBranch string) (string, string, error)
	DeleteFeature(ctx context.Context, repoPath, featureName string) (bool, error)
}

// SessionManager is the multiplexer side of the coordinator.
type SessionManager interface {
	EnsureSession(ctx context.Context) error
	EnsureWindow(ctx context.Context, name, workingDir string) error
	SwitchToWindow(ctx context.Context, name, workingDir string) (bool, bool, error)
	KillWindow(ctx context.Context, name string) bool
	ListWindows(ctx context.Context) []tmux.Window
}

// AppState is the shared handle passed to every handler. Settings are
// frozen once serving begins.
type AppState struct {
	Settings   *config.Settings
	Git        Coordinator
	Tmux       SessionManager
	HTTPClient *http.Client
	Log        *logger.Logger
}

// NewAppState wires the coordinator services from settings.
func NewAppState(settings *config.Settings, log *logger.Logger) *AppState {
	if log == nil {
		log = logger.Default()
	}
	return &AppState{
		Settings:   settings,
		Git:        git.NewService(settings.ReposDir(), settings.WorktreesDir(), log),
		Tmux:       tmux.NewService(settings.Tmux.Session, log),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Log:        log.WithComponent("server"),
	}
}
