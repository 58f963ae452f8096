package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stevemurr/collection-crud/config"
	"github.com/stevemurr/collection-crud/server"
	"github.com/stevemurr/collection-crud/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "collection-crud",
		Short:        "Serve CRUD routes over document-store collections",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	return root
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	if !strings.EqualFold(cfg.LogLevel, "development") && !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.New(ctx, cfg.Store())
	if err != nil {
		logger.Error("Failed to create store", zap.String("backend", cfg.Backend), zap.Error(err))
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}()

	srv, err := server.New(cfg, s, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// newLogger builds a development logger for "development", otherwise a
// production logger at the given level.
func newLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "development") {
		return zap.NewDevelopment()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = lvl
	return zapCfg.Build()
}
