package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nomadflow/nomadflow/internal/common/config"
	"github.com/nomadflow/nomadflow/internal/common/logger"
	"github.com/nomadflow/nomadflow/internal/ttyd"
	"github.com/nomadflow/nomadflow/internal/tunnel"
)

// Options configures a Serve run.
type Options struct {
	// Public exposes the server through the tunnel relay.
	Public bool
	// HostOverride replaces local IP detection in the connect URL.
	HostOverride string
}

// ConnectInfo is what the wizard and banner glue need to hand to clients.
type ConnectInfo struct {
	URL      string
	DeepLink string
	Secret   string
}

// Serve runs the laptop server until ctx is cancelled: tmux session, ttyd
// subprocess, HTTP listener, and optionally the public tunnel. The ttyd
// daemon is killed after graceful shutdown completes.
func Serve(ctx context.Context, settings *config.Settings, opts Options, log *logger.Logger) error {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("serve")

	// A public server must not run open; generate a session secret when
	// none is configured.
	if opts.Public && settings.Auth.Secret == "" {
		settings.Auth.Secret = GenerateSecret(32)
		log.Warn("no auth secret configured, generated a temporary one for this session")
	}

	if err := settings.EnsureDirectories(); err != nil {
		return err
	}

	state := NewAppState(settings, log)

	if err := state.Tmux.EnsureSession(ctx); err != nil {
		log.Warn("failed to ensure tmux session", zap.Error(err))
	} else {
		log.Info("tmux session ready", zap.String("session", settings.Tmux.Session))
	}

	ttydSvc := ttyd.NewService(settings.Ttyd.Port, settings.Tmux.Session, settings.Auth.Secret, log)
	if err := ttydSvc.Start(); err != nil {
		log.Warn("failed to start ttyd, terminal proxy will not work", zap.Error(err))
	}
	defer ttydSvc.Stop()

	router := state.BuildRouter()
	addr := settings.APIAddr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("server listening", zap.String("addr", addr))

	connectURL := ""
	if opts.Public {
		info, err := tunnel.Start(ctx, settings.API.Port, &settings.Tunnel, state.HTTPClient, log)
		if err != nil {
			log.Warn("tunnel failed, falling back to LAN URL", zap.Error(err))
		} else {
			connectURL = info.PublicURL
		}
	}
	if connectURL == "" {
		connectURL = BuildConnectURL(opts.HostOverride, settings.API.Port)
	}
	log.Info("connect info",
		zap.String("url", connectURL),
		zap.String("deepLink", DeepLink(connectURL, settings.Auth.Secret)))

	srv := &http.Server{Handler: router}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown incomplete", zap.Error(err))
		}
		log.Info("server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
