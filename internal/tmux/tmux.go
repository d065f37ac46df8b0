// Package tmux drives the terminal multiplexer through its CLI. One
// long-lived session hosts one window per feature.
package tmux

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/nomadflow/nomadflow/internal/common/errors"
	"github.com/nomadflow/nomadflow/internal/common/logger"
	"github.com/nomadflow/nomadflow/internal/shell"
)

// idleShells are pane commands that mean no user process is running. First
// line of the pane command only, case-insensitive.
var idleShells = map[string]bool{
	"bash": true, "zsh": true, "sh": true, "fish": true,
	"dash": true, "ksh": true, "tcsh": true, "csh": true,
}

// Window is one window of the managed session.
type Window struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Service manages windows inside a single named tmux session.
type Service struct {
	session string
	log     *logger.Logger
}

// NewService creates a Service for the given session name.
func NewService(session string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{session: session, log: log.WithComponent("tmux")}
}

// SessionName returns the managed session's name.
func (s *Service) SessionName() string {
	return s.session
}

// EnsureSession creates the session detached if it does not exist. Fails
// with NotFound when tmux is not installed.
func (s *Service) EnsureSession(ctx context.Context) error {
	if !shell.CommandExists("tmux") {
		return apperrors.NotFound("tmux is not installed or not in PATH")
	}

	res := shell.Run(ctx, fmt.Sprintf("tmux has-session -t %q 2>/dev/null", s.session), "")
	if res.Success() {
		return nil
	}

	res = shell.Run(ctx, fmt.Sprintf("tmux new-session -d -s %q", s.session), "")
	if !res.Success() {
		return apperrors.CommandFailed(fmt.Sprintf("Failed to create tmux session: %s", res.Stderr))
	}
	return nil
}

// ListWindows returns the session's windows. Errors yield an empty list.
func (s *Service) ListWindows(ctx context.Context) []Window {
	res := shell.Run(ctx,
		fmt.Sprintf("tmux list-windows -t %q -F \"#{window_index}:#{window_name}\"", s.session), "")
	if !res.Success() {
		return nil
	}

	var windows []Window
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		idx, name, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		index, err := strconv.Atoi(idx)
		if err != nil {
			continue
		}
		windows = append(windows, Window{Index: index, Name: name})
	}
	return windows
}

// CreateWindow adds a window to the session, optionally starting in
// workingDir.
func (s *Service) CreateWindow(ctx context.Context, name, workingDir string) error {
	cmd := fmt.Sprintf("tmux new-window -t %q -n %q", s.session, name)
	if workingDir != "" {
		cmd += fmt.Sprintf(" -c %q", workingDir)
	}
	if res := shell.Run(ctx, cmd, ""); !res.Success() {
		return apperrors.CommandFailed(fmt.Sprintf("Failed to create tmux window: %s", res.Stderr))
	}
	return nil
}

// SelectWindow focuses the named window.
func (s *Service) SelectWindow(ctx context.Context, name string) bool {
	return shell.Run(ctx,
		fmt.Sprintf("tmux select-window -t %q", s.session+":"+name), "").Success()
}

// KillWindow removes the named window. Best-effort.
func (s *Service) KillWindow(ctx context.Context, name string) bool {
	return shell.Run(ctx,
		fmt.Sprintf("tmux kill-window -t %q", s.session+":"+name), "").Success()
}

// SendKeys types keys into the window's active pane, optionally followed by
// Enter.
func (s *Service) SendKeys(ctx context.Context, window, keys string, enter bool) bool {
	cmd := fmt.Sprintf("tmux send-keys -t %q %q", s.session+":"+window, keys)
	if enter {
		cmd += " Enter"
	}
	return shell.Run(ctx, cmd, "").Success()
}

// WindowExists reports whether the named window exists in the session.
func (s *Service) WindowExists(ctx context.Context, name string) bool {
	for _, w := range s.ListWindows(ctx) {
		if w.Name == name {
			return true
		}
	}
	return false
}

// PaneCommand returns the current command of the window's active pane, or
// "" when it cannot be determined.
func (s *Service) PaneCommand(ctx context.Context, window string) string {
	res := shell.Run(ctx,
		fmt.Sprintf("tmux list-panes -t %q -F \"#{pane_current_command}\"", s.session+":"+window), "")
	if !res.Success() {
		return ""
	}
	cmd := strings.TrimSpace(res.Stdout)
	if cmd == "" {
		return ""
	}
	first, _, _ := strings.Cut(cmd, "\n")
	return first
}

// IsShellIdle reports whether the window's pane runs a known interactive
// shell and nothing else.
func (s *Service) IsShellIdle(ctx context.Context, window string) bool {
	cmd := s.PaneCommand(ctx, window)
	if cmd == "" {
		return true
	}
	return idleShells[strings.ToLower(cmd)]
}

// EnsureWindow creates the window if missing, cd-ing into workingDir when
// one is given.
func (s *Service) EnsureWindow(ctx context.Context, name, workingDir string) error {
	if s.WindowExists(ctx, name) {
		return nil
	}
	if err := s.CreateWindow(ctx, name, workingDir); err != nil {
		return err
	}
	if workingDir != "" {
		s.SendKeys(ctx, name, fmt.Sprintf("cd %q", workingDir), true)
	}
	return nil
}

// SwitchToWindow ensures the window exists, selects it, and when the pane
// is idle cds into workingDir and clears. Live work is never clobbered.
// Returns (switched, hasRunningProcess).
func (s *Service) SwitchToWindow(ctx context.Context, name, workingDir string) (bool, bool, error) {
	hasRunningProcess := false
	if s.WindowExists(ctx, name) {
		hasRunningProcess = !s.IsShellIdle(ctx, name)
	}

	if err := s.EnsureWindow(ctx, name, workingDir); err != nil {
		return false, hasRunningProcess, err
	}

	if !s.SelectWindow(ctx, name) {
		return false, hasRunningProcess, nil
	}

	if workingDir != "" && !hasRunningProcess {
		s.SendKeys(ctx, name, fmt.Sprintf("cd %q", workingDir), true)
		s.SendKeys(ctx, name, "clear", true)
	}

	return true, hasRunningProcess, nil
}

// WindowName builds the canonical window name for a repo and feature. The
// laptop server and the local TUI must agree on these bytes.
func WindowName(repoPath, featureName string) string {
	return filepath.Base(repoPath) + ":" + featureName
}
