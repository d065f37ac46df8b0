// Package main is the entry point for the nomadflow-relay binary, the
// public edge proxy that maps subdomains to bore tunnel ports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nomadflow/nomadflow/internal/common/logger"
	"github.com/nomadflow/nomadflow/internal/relay"
)

func main() {
	cfg := relay.ConfigFromEnv()

	log, err := logger.New(logger.Config{Level: "info"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state := relay.NewState(cfg, log)
	if err := state.Serve(ctx); err != nil {
		log.Fatal("relay server failed", zap.Error(err))
	}
}
