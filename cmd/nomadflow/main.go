// Package main is the entry point for the nomadflow binary. It runs the
// laptop-side HTTP server that drives git worktrees, tmux windows, and
// the browser terminal, optionally exposed through a public tunnel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nomadflow/nomadflow/internal/common/config"
	"github.com/nomadflow/nomadflow/internal/common/logger"
	"github.com/nomadflow/nomadflow/internal/server"
)

func main() {
	var (
		configPath string
		public     bool
		host       string
	)

	root := &cobra.Command{
		Use:           "nomadflow",
		Short:         "Git worktree + tmux workflow manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server in foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, public, host)
		},
	}
	serveCmd.Flags().BoolVar(&public, "public", false, "expose the server publicly via tunnel")
	serveCmd.Flags().StringVar(&host, "host", "", "host override for the connect URL")

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(configPath string, public bool, host string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: "info"})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting nomadflow server",
		zap.String("apiAddr", settings.APIAddr()),
		zap.Bool("public", public))

	return server.Serve(ctx, settings, server.Options{Public: public, HostOverride: host}, log)
}
