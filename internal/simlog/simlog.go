// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package simlog builds the *slog.Logger used throughout a simulation
// run, replacing the teacher's bare log.Printf-based logf with the
// level/format-configurable handler dantte-lp-gobfd wires up. There is no
// package-level logger singleton: the mote container's Simulation and each
// Mote hold one as a field (internal/mote).
package simlog

import (
	"log/slog"
	"os"

	"github.com/tsch-sim/tschsim/internal/config"
)

// ParseLevel maps a config.LogConfig.Level string to a slog.Level.
// Unknown values default to slog.LevelInfo.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger for cfg, writing to stdout, with its level bound to a
// *slog.LevelVar so a running simulation's verbosity can be changed
// without restart (gobfd's SIGHUP-reload pattern).
func New(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	level.Set(ParseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
