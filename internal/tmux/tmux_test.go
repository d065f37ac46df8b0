package tmux

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nomadflow/nomadflow/internal/common/logger"
	"github.com/nomadflow/nomadflow/internal/shell"
)

func TestWindowName(t *testing.T) {
	cases := []struct {
		repoPath, feature, want string
	}{
		{"/home/user/repos/my-project", "add-login", "my-project:add-login"},
		{"/b/repos/demo", "login", "demo:login"},
		{"demo", "x", "demo:x"},
	}
	for _, tc := range cases {
		if got := WindowName(tc.repoPath, tc.feature); got != tc.want {
			t.Errorf("WindowName(%q, %q) = %q, want %q", tc.repoPath, tc.feature, got, tc.want)
		}
	}
}

func TestIdleShellSet(t *testing.T) {
	for shellName, want := range map[string]bool{
		"bash": true, "ZSH": true, "Fish": true, "tcsh": true,
		"vim": false, "node": false, "cargo": false,
	} {
		if got := idleShells[strings.ToLower(shellName)]; got != want {
			t.Errorf("idle(%q) = %v, want %v", shellName, got, want)
		}
	}
}

func requireTmux(t *testing.T) {
	t.Helper()
	if !shell.CommandExists("tmux") {
		t.Skip("tmux not installed")
	}
}

func TestSessionLifecycle(t *testing.T) {
	requireTmux(t)
	ctx := context.Background()

	session := fmt.Sprintf("nf-test-%d", os.Getpid())
	shell.Run(ctx, fmt.Sprintf("tmux kill-session -t %q 2>/dev/null", session), "")
	defer shell.Run(ctx, fmt.Sprintf("tmux kill-session -t %q", session), "")

	svc := NewService(session, logger.Default())
	if err := svc.EnsureSession(ctx); err != nil {
		t.Fatal(err)
	}
	// Idempotent.
	if err := svc.EnsureSession(ctx); err != nil {
		t.Fatal(err)
	}

	if windows := svc.ListWindows(ctx); len(windows) == 0 {
		t.Error("fresh session should have at least one window")
	}

	win := "test-lifecycle-win"
	if err := svc.CreateWindow(ctx, win, ""); err != nil {
		t.Fatal(err)
	}
	if !svc.WindowExists(ctx, win) {
		t.Fatal("window should exist after create")
	}

	time.Sleep(300 * time.Millisecond)
	if !svc.IsShellIdle(ctx, win) {
		t.Error("fresh window should be idle")
	}

	switched, running, err := svc.SwitchToWindow(ctx, win, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !switched {
		t.Error("switch should succeed")
	}
	if running {
		t.Error("idle window should not report a running process")
	}

	if !svc.KillWindow(ctx, win) {
		t.Error("kill-window failed")
	}
}

func TestSwitchCreatesMissingWindow(t *testing.T) {
	requireTmux(t)
	ctx := context.Background()

	session := fmt.Sprintf("nf-test-sw-%d", os.Getpid())
	shell.Run(ctx, fmt.Sprintf("tmux kill-session -t %q 2>/dev/null", session), "")
	defer shell.Run(ctx, fmt.Sprintf("tmux kill-session -t %q", session), "")

	svc := NewService(session, logger.Default())
	if err := svc.EnsureSession(ctx); err != nil {
		t.Fatal(err)
	}

	switched, running, err := svc.SwitchToWindow(ctx, "brand-new", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !switched || running {
		t.Errorf("switched=%v running=%v, want true/false", switched, running)
	}
	if !svc.WindowExists(ctx, "brand-new") {
		t.Error("switch should have created the window")
	}
}
