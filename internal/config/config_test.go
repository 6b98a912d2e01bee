// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/tsch-sim/tschsim/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.SlotframeLength != 101 {
		t.Errorf("SlotframeLength = %d, want %d", cfg.SlotframeLength, 101)
	}

	if cfg.SF != "msf" {
		t.Errorf("SF = %q, want %q", cfg.SF, "msf")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
num_motes: 50
sf: ellsf
log:
  level: debug
  format: json
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.NumMotes != 50 {
		t.Errorf("NumMotes = %d, want %d", cfg.NumMotes, 50)
	}
	if cfg.SF != "ellsf" {
		t.Errorf("SF = %q, want %q", cfg.SF, "ellsf")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
num_motes: 20
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.NumMotes != 20 {
		t.Errorf("NumMotes = %d, want %d", cfg.NumMotes, 20)
	}

	// Untouched fields should still carry their defaults.
	if cfg.SlotframeLength != 101 {
		t.Errorf("SlotframeLength = %d, want default %d", cfg.SlotframeLength, 101)
	}
	if cfg.SF != "msf" {
		t.Errorf("SF = %q, want default %q", cfg.SF, "msf")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "zero motes",
			modify:  func(cfg *config.Config) { cfg.NumMotes = 0 },
			wantErr: config.ErrNoMotes,
		},
		{
			name:    "zero slotframe",
			modify:  func(cfg *config.Config) { cfg.SlotframeLength = 0 },
			wantErr: config.ErrNoSlotframe,
		},
		{
			name:    "zero slot duration",
			modify:  func(cfg *config.Config) { cfg.SlotDuration = 0 },
			wantErr: config.ErrBadSlotDuration,
		},
		{
			name:    "unknown sf",
			modify:  func(cfg *config.Config) { cfg.SF = "bogus" },
			wantErr: config.ErrUnknownSF,
		},
		{
			name:    "unknown mobility model",
			modify:  func(cfg *config.Config) { cfg.MobilityModel = "teleport" },
			// RWM (random waypoint) and RPGM (reference point group mobility)
			// are the only accepted non-static values.
			wantErr: config.ErrUnknownMobility,
		},
		{
			name: "inverted backoff range",
			modify: func(cfg *config.Config) {
				cfg.BackoffMinExp = 5
				cfg.BackoffMaxExp = 1
			},
			wantErr: config.ErrBadBackoffRange,
		},
		{
			name:    "unknown log format",
			modify:  func(cfg *config.Config) { cfg.Log.Format = "xml" },
			wantErr: config.ErrUnknownLogFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAcceptsEmptyMobilityModel(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.MobilityModel = ""
	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate() with static mobility returned error: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Cannot run in parallel: mutates process-wide environment state.

	path := writeTemp(t, "num_motes: 10\n")

	t.Setenv("TSCHSIM_NUM_MOTES", "75")
	t.Setenv("TSCHSIM_SF", "ilp")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.NumMotes != 75 {
		t.Errorf("NumMotes = %d, want %d (from env)", cfg.NumMotes, 75)
	}
	if cfg.SF != "ilp" {
		t.Errorf("SF = %q, want %q (from env)", cfg.SF, "ilp")
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/tschsim.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEmptyPathSkipsFileLayer(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.NumMotes != config.DefaultConfig().NumMotes {
		t.Errorf("NumMotes = %d, want default %d", cfg.NumMotes, config.DefaultConfig().NumMotes)
	}
}

func TestLoadWithFlagsOverridesDefaults(t *testing.T) {
	t.Parallel()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("num_motes", config.DefaultConfig().NumMotes, "")
	if err := flags.Set("num_motes", "7"); err != nil {
		t.Fatalf("flags.Set: %v", err)
	}

	cfg, err := config.LoadWithFlags("", flags)
	if err != nil {
		t.Fatalf("LoadWithFlags(\"\") error: %v", err)
	}
	if cfg.NumMotes != 7 {
		t.Errorf("NumMotes = %d, want 7", cfg.NumMotes)
	}
}

func TestLoadWithFlagsNilBehavesLikeLoad(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadWithFlags("", nil)
	if err != nil {
		t.Fatalf("LoadWithFlags(\"\", nil) error: %v", err)
	}
	if cfg.NumMotes != config.DefaultConfig().NumMotes {
		t.Errorf("NumMotes = %d, want default %d", cfg.NumMotes, config.DefaultConfig().NumMotes)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "tschsim.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
