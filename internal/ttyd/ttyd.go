// Package ttyd manages the terminal-over-HTTP daemon subprocess. ttyd
// serves the tmux session on a local port; the server proxies to it.
package ttyd

import (
	"fmt"
	"net"
	"os/exec"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/nomadflow/nomadflow/internal/common/errors"
	"github.com/nomadflow/nomadflow/internal/common/logger"
	"github.com/nomadflow/nomadflow/internal/shell"
)

// BasicAuthUser is the username ttyd expects when credentials are set.
const BasicAuthUser = "nomadflow"

// startGrace gives ttyd time to bind before the server starts proxying.
const startGrace = 500 * time.Millisecond

// Service owns the ttyd subprocess for the lifetime of `serve`.
type Service struct {
	port    int
	session string
	secret  string
	cmd     *exec.Cmd
	log     *logger.Logger
}

// NewService creates a ttyd manager for the given port, tmux session, and
// shared secret (empty disables ttyd's basic auth).
func NewService(port int, session, secret string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		port:    port,
		session: session,
		secret:  secret,
		log:     log.WithComponent("ttyd"),
	}
}

// Port returns the configured ttyd port.
func (s *Service) Port() int {
	return s.port
}

// Start spawns ttyd attached to the tmux session. If the port is already
// bound a ttyd instance is assumed to be running and Start is a no-op.
func (s *Service) Start() error {
	if !shell.CommandExists("ttyd") {
		return apperrors.NotFound(
			"ttyd is not installed or not in PATH. " +
				"Install with: brew install ttyd (macOS) or apt install ttyd (Linux)")
	}

	if s.portInUse() {
		s.log.Info("ttyd port already bound, reusing", zap.Int("port", s.port))
		return nil
	}

	args := []string{"-p", fmt.Sprintf("%d", s.port), "-W"}
	if s.secret != "" {
		args = append(args, "-c", BasicAuthUser+":"+s.secret)
	}
	args = append(args, "tmux", "attach-session", "-t", s.session)

	cmd := exec.Command("ttyd", args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return apperrors.CommandFailed(fmt.Sprintf("Failed to start ttyd: %v", err))
	}
	s.cmd = cmd
	s.log.Info("ttyd started", zap.Int("port", s.port), zap.Int("pid", cmd.Process.Pid))

	time.Sleep(startGrace)
	return nil
}

// Stop kills the ttyd subprocess if this service started it.
func (s *Service) Stop() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	if err := s.cmd.Process.Kill(); err != nil {
		s.log.Warn("failed to kill ttyd", zap.Error(err))
	}
	_ = s.cmd.Wait()
	s.cmd = nil
	s.log.Info("ttyd stopped")
}

func (s *Service) portInUse() bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return true
	}
	ln.Close()
	return false
}
