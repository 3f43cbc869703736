// Package main is the entry point for the identity server.
//
// The main package stays minimal. It:
// 1. Reads configuration from the environment (internal/config)
// 2. Creates the logger
// 3. Starts the server (internal/server wires everything else)
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tripease/identity/internal/config"
	"github.com/tripease/identity/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// Done before the logger exists, so a bad value is reported with a
	// default logger.
	cfg, generatedSecret, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	level, _ := config.ParseLevel(cfg.LogLevel) // validated by Load
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	if generatedSecret {
		logger.Warn("SESSION_SECRET not set; using a random secret, instance cookies will not survive a restart")
	}

	// === 3. DATABASE DIRECTORY ===
	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
