// Package main is the entry point for the snipsafe server.
//
// main() stays minimal: load configuration, create the logger, hand off
// to internal/server. All actual logic lives in the imported packages.
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/snipsafe/snipsafe/internal/config"
	"github.com/snipsafe/snipsafe/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars work alone)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Ensure the data directory exists before sqlite tries to open the
	// database file inside it.
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (Ctrl+C or SIGTERM).
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
