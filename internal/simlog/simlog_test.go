// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simlog

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tsch-sim/tschsim/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNew_SetsLevelVarFromConfig(t *testing.T) {
	level := new(slog.LevelVar)
	logger := New(config.LogConfig{Level: "debug", Format: "text"}, level)

	assert.NotNil(t, logger)
	assert.Equal(t, slog.LevelDebug, level.Level())
}

func TestNew_DefaultsToTextForUnknownFormat(t *testing.T) {
	level := new(slog.LevelVar)
	logger := New(config.LogConfig{Level: "info", Format: "xml"}, level)
	assert.NotNil(t, logger)
}

func TestNew_JSONFormat(t *testing.T) {
	level := new(slog.LevelVar)
	logger := New(config.LogConfig{Level: "error", Format: "json"}, level)
	assert.NotNil(t, logger)
	assert.Equal(t, slog.LevelError, level.Level())
}
