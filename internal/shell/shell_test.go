package shell

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunEcho(t *testing.T) {
	res := Run(context.Background(), "echo hello", "")
	if !res.Success() {
		t.Fatalf("echo failed: %+v", res)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	res := Run(context.Background(), "false", "")
	if res.Success() {
		t.Error("false should not succeed")
	}
	if res.ReturnCode != 1 {
		t.Errorf("return code = %d, want 1", res.ReturnCode)
	}
}

func TestRunCapturesStderr(t *testing.T) {
	res := Run(context.Background(), "echo oops >&2; exit 3", "")
	if res.ReturnCode != 3 {
		t.Errorf("return code = %d, want 3", res.ReturnCode)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestRunInDir(t *testing.T) {
	dir := t.TempDir()
	res := Run(context.Background(), "pwd", dir)
	if !res.Success() {
		t.Fatalf("pwd failed: %+v", res)
	}
	if !strings.Contains(strings.TrimSpace(res.Stdout), dir) {
		t.Errorf("pwd = %q, want %q", res.Stdout, dir)
	}
}

func TestRunTimeout(t *testing.T) {
	start := time.Now()
	res := RunTimeout(context.Background(), "sleep 10", "", 100*time.Millisecond)
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not fire")
	}
	if res.ReturnCode != -1 {
		t.Errorf("return code = %d, want -1", res.ReturnCode)
	}
	if !strings.Contains(res.Stderr, "timed out") {
		t.Errorf("stderr = %q, want timeout message", res.Stderr)
	}
}

func TestCommandExists(t *testing.T) {
	if !CommandExists("sh") {
		t.Error("sh should exist")
	}
	if CommandExists("nonexistent_xyz_12345") {
		t.Error("bogus binary should not exist")
	}
}
