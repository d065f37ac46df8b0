package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nomadflow/nomadflow/internal/common/httpmw"
)

// BuildRouter wires the registration API and the catch-all tunnel proxy.
func (s *State) BuildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestID())
	router.Use(httpmw.RequestLogger(s.log))

	router.POST("/_api/register", s.handleRegister)
	router.GET("/_api/check", s.handleCheck)
	router.GET("/_api/health", s.handleHealth)
	router.NoRoute(s.handleProxy)

	return router
}

// Serve runs the relay until ctx is cancelled, with the background
// eviction pass alongside.
func (s *State) Serve(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go s.RunCleanup(done)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.BuildRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("relay listening",
		zap.Int("port", s.cfg.Port),
		zap.String("boreHost", s.cfg.BoreHost),
		zap.Bool("authRequired", s.cfg.Secret != ""))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
