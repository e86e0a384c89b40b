package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tlserver "github.com/HendryAvila/taskloom/internal/server"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func version() string { return tlserver.Version }

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	// Graceful shutdown on interrupt: held locks are released by cleanup.
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, cleanup, err := tlserver.New(ctx, cfg, projectRoot, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	logger.Info("serving on stdio", zap.String("project_root", projectRoot), zap.String("version", tlserver.Version))

	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(zap.NewStdLog(logger))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
