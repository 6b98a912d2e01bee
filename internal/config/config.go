// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package config loads tschsim simulation configuration using koanf/v2:
// defaults, then an optional YAML file, then environment overrides, then
// (for the cmd/tschsim CLI) explicitly-set command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Sentinel validation errors, in gobfd's style.
var (
	ErrNoMotes           = errors.New("config: num_motes must be positive")
	ErrNoSlotframe       = errors.New("config: slotframe_length must be positive")
	ErrBadSlotDuration   = errors.New("config: slot_duration must be positive")
	ErrUnknownSF         = errors.New("config: sf must be one of msf, ellsf, ilp")
	ErrUnknownMobility   = errors.New("config: mobility_model must be one of \"\" (static), RWM, RPGM")
	ErrBadBackoffRange   = errors.New("config: backoff_min_exp must not exceed backoff_max_exp")
	ErrUnknownLogFormat  = errors.New("config: log.format must be one of text, json")
)

// Config mirrors every flat option in spec.md §6.
type Config struct {
	NumMotes int `koanf:"num_motes"`
	Seed     int64 `koanf:"seed"`

	SlotframeLength int     `koanf:"slotframe_length"`
	SlotDuration    float64 `koanf:"slot_duration"`
	NrMinimalCells  int     `koanf:"nr_minimal_cells"`
	NumChans        int     `koanf:"num_chans"`

	PkPeriod    float64 `koanf:"pk_period"`
	PkPeriodVar float64 `koanf:"pk_period_var"`

	BeaconPeriod      float64 `koanf:"beacon_period"`
	DioPeriod         float64 `koanf:"dio_period"`
	DaoPeriod         float64 `koanf:"dao_period"`
	BayesianBroadcast bool    `koanf:"bayesian_broadcast"`
	BeaconProbability float64 `koanf:"beacon_probability"`
	DioProbability    float64 `koanf:"dio_probability"`

	SixtopMessaging bool   `koanf:"sixtop_messaging"`
	SF              string `koanf:"sf"`

	MsfNumCellsToAddOrRemove int     `koanf:"msf_num_cells_to_add_or_remove"`
	MsfMaxNumCells           int     `koanf:"msf_max_num_cells"`
	MsfHousekeepingPeriod    float64 `koanf:"msf_housekeeping_period"`
	MinCellsMSF              int     `koanf:"min_cells_msf"`

	BackoffMinExp int `koanf:"backoff_min_exp"`
	BackoffMaxExp int `koanf:"backoff_max_exp"`

	IndividualModulations bool   `koanf:"individual_modulations"`
	ModulationConfig      string `koanf:"modulation_config"`

	NumFragments             int  `koanf:"num_fragments"`
	NumReassQueue            int  `koanf:"num_reass_queue"`
	MaxVRBEntryNum           int  `koanf:"max_vrb_entry_num"`
	EnableFragmentForwarding bool `koanf:"enable_fragment_forwarding"`
	OptFragmentForwarding    bool `koanf:"opt_fragment_forwarding"`

	WithJoin           bool    `koanf:"with_join"`
	JoinAttemptTimeout float64 `koanf:"join_attempt_timeout"`
	JoinNumExchanges   int     `koanf:"join_num_exchanges"`

	NumCyclesPerRun int     `koanf:"num_cycles_per_run"`
	ConvergeFirst   bool    `koanf:"converge_first"`
	SettlingTime    float64 `koanf:"settling_time"`

	MobilityModel string  `koanf:"mobility_model"`
	MobilitySpeed float64 `koanf:"mobility_speed"`
	SquareSide    float64 `koanf:"square_side"`

	// XplotDir, if non-empty, writes one rank-over-time xplot file per
	// node into this directory for post-hoc inspection. Empty disables
	// the diagnostic output entirely.
	XplotDir string `koanf:"xplot_dir"`

	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LogConfig controls the slog handler (SPEC_FULL.md §1.2).
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig controls the optional Prometheus bridge (SPEC_FULL.md
// §1.4).
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Path    string `koanf:"path"`
}

// DefaultConfig returns a Config populated with the spec's documented
// defaults (spec.md §4.3, §4.4, §4.6 constants).
func DefaultConfig() *Config {
	return &Config{
		NumMotes:        1,
		Seed:            0,
		SlotframeLength: 101,
		SlotDuration:    0.01,
		NrMinimalCells:  1,
		NumChans:        16,

		PkPeriod:    30,
		PkPeriodVar: 0.1,

		BeaconPeriod:      10,
		DioPeriod:         10,
		DaoPeriod:         30,
		BeaconProbability: 0.5,
		DioProbability:    0.5,

		SixtopMessaging: true,
		SF:              "msf",

		MsfNumCellsToAddOrRemove: 1,
		MsfMaxNumCells:           100,
		MsfHousekeepingPeriod:    60,
		MinCellsMSF:              1,

		BackoffMinExp: 1,
		BackoffMaxExp: 4,

		ModulationConfig: "single_slot",

		NumFragments:   1,
		NumReassQueue:  4,
		MaxVRBEntryNum: 4,

		WithJoin:           true,
		JoinAttemptTimeout: 10,
		JoinNumExchanges:   2,

		NumCyclesPerRun: 1,
		SettlingTime:    0,

		MobilityModel: "",
		SquareSide:    200,

		XplotDir: "",

		Log: LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
	}
}

const envPrefix = "TSCHSIM_"

// Load reads configuration from a YAML file at path, overlaid on
// DefaultConfig(), then overlaid with TSCHSIM_-prefixed environment
// variables. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithFlags behaves like Load, but additionally overlays flags after
// the environment layer: any flag the caller explicitly set on the
// command line wins over both the file and the environment, using the
// same dotted koanf keys loadDefaults seeds (spec.md §6's flat option
// set, exposed as cmd/tschsim's persistent flags).
func LoadWithFlags(path string, flags *pflag.FlagSet) (*Config, error) {
	return load(path, flags)
}

func load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("load flag overrides: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	// Only the nested log/metrics sections use a dot; every other key keeps
	// its underscores (TSCHSIM_NUM_MOTES -> num_motes, TSCHSIM_LOG_LEVEL ->
	// log.level).
	for _, section := range []string{"log_", "metrics_"} {
		if strings.HasPrefix(s, section) {
			return strings.Replace(s, "_", ".", 1)
		}
	}
	return s
}

// loadDefaults seeds k with every default value, keyed by its koanf tag,
// the same explicit-map approach dantte-lp-gobfd's internal/config uses
// rather than a reflection-based struct provider.
func loadDefaults(k *koanf.Koanf, d *Config) error {
	defaultMap := map[string]any{
		"num_motes":                       d.NumMotes,
		"seed":                            d.Seed,
		"slotframe_length":                d.SlotframeLength,
		"slot_duration":                   d.SlotDuration,
		"nr_minimal_cells":                d.NrMinimalCells,
		"num_chans":                       d.NumChans,
		"pk_period":                       d.PkPeriod,
		"pk_period_var":                   d.PkPeriodVar,
		"beacon_period":                   d.BeaconPeriod,
		"dio_period":                      d.DioPeriod,
		"dao_period":                      d.DaoPeriod,
		"bayesian_broadcast":              d.BayesianBroadcast,
		"beacon_probability":              d.BeaconProbability,
		"dio_probability":                 d.DioProbability,
		"sixtop_messaging":                d.SixtopMessaging,
		"sf":                              d.SF,
		"msf_num_cells_to_add_or_remove":  d.MsfNumCellsToAddOrRemove,
		"msf_max_num_cells":               d.MsfMaxNumCells,
		"msf_housekeeping_period":         d.MsfHousekeepingPeriod,
		"min_cells_msf":                   d.MinCellsMSF,
		"backoff_min_exp":                 d.BackoffMinExp,
		"backoff_max_exp":                 d.BackoffMaxExp,
		"individual_modulations":          d.IndividualModulations,
		"modulation_config":               d.ModulationConfig,
		"num_fragments":                   d.NumFragments,
		"num_reass_queue":                 d.NumReassQueue,
		"max_vrb_entry_num":               d.MaxVRBEntryNum,
		"enable_fragment_forwarding":      d.EnableFragmentForwarding,
		"opt_fragment_forwarding":         d.OptFragmentForwarding,
		"with_join":                       d.WithJoin,
		"join_attempt_timeout":            d.JoinAttemptTimeout,
		"join_num_exchanges":              d.JoinNumExchanges,
		"num_cycles_per_run":              d.NumCyclesPerRun,
		"converge_first":                  d.ConvergeFirst,
		"settling_time":                   d.SettlingTime,
		"mobility_model":                  d.MobilityModel,
		"mobility_speed":                  d.MobilitySpeed,
		"square_side":                     d.SquareSide,
		"xplot_dir":                       d.XplotDir,
		"log.level":                       d.Log.Level,
		"log.format":                      d.Log.Format,
		"metrics.enabled":                 d.Metrics.Enabled,
		"metrics.addr":                    d.Metrics.Addr,
		"metrics.path":                    d.Metrics.Path,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validate rejects configurations that would produce a meaningless or
// unrunnable simulation (spec.md §6, §4.3).
func Validate(cfg *Config) error {
	if cfg.NumMotes <= 0 {
		return ErrNoMotes
	}
	if cfg.SlotframeLength <= 0 {
		return ErrNoSlotframe
	}
	if cfg.SlotDuration <= 0 {
		return ErrBadSlotDuration
	}
	switch cfg.SF {
	case "msf", "ellsf", "ilp":
	default:
		return ErrUnknownSF
	}
	switch cfg.MobilityModel {
	case "", "RWM", "RPGM":
	default:
		return ErrUnknownMobility
	}
	if cfg.BackoffMinExp > cfg.BackoffMaxExp {
		return ErrBadBackoffRange
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return ErrUnknownLogFormat
	}
	return nil
}
