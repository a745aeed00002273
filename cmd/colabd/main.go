package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/codefionn/colabd/internal/config"
	"github.com/codefionn/colabd/internal/logger"
	"github.com/codefionn/colabd/internal/registry"
	"github.com/codefionn/colabd/internal/securemem"
	"github.com/codefionn/colabd/internal/ticket"
	"github.com/codefionn/colabd/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	defer securemem.Purge()

	verifier := ticket.NewVerifier(cfg.JoinTokenSecret)
	reg := registry.New(cfg.EmptyWorkspaceRetention)
	dispatcher := ws.NewDispatcher(reg, verifier)
	server := ws.NewServer(cfg, reg, dispatcher)

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info("Collaboration backend started (environment: %s)", cfg.Environment)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Received signal %s, shutting down", sig)

	if err := server.Stop(); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	return nil
}
