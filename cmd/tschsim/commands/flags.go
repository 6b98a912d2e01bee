// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package commands

import (
	"github.com/spf13/pflag"

	"github.com/tsch-sim/tschsim/internal/config"
)

// bindSimFlags registers every flag that can override a config.Config
// field, keyed with the same dotted names internal/config's defaults map
// uses, so config.LoadWithFlags can overlay them directly via
// github.com/knadh/koanf/providers/posflag without a translation layer.
// Only the knobs most commonly swept from the command line are exposed;
// anything else belongs in the YAML file.
func bindSimFlags(flags *pflag.FlagSet) {
	d := config.DefaultConfig()

	flags.Int("num_motes", d.NumMotes, "number of motes in the network")
	flags.Int64("seed", d.Seed, "base RNG seed (each node seeds seed+nodeId)")
	flags.Int("slotframe_length", d.SlotframeLength, "slotframe length in timeslots")
	flags.Float64("slot_duration", d.SlotDuration, "timeslot duration in seconds")
	flags.Float64("square_side", d.SquareSide, "side length of the square deployment area, in meters")
	flags.String("xplot_dir", d.XplotDir, "directory to write per-node rank xplot files into (empty disables)")
	flags.String("sf", d.SF, "scheduling function: msf, ellsf or ilp")
	flags.Bool("sixtop_messaging", d.SixtopMessaging, "negotiate cells via 6P instead of installing them instantly")
	flags.Bool("with_join", d.WithJoin, "require a join handshake before a node starts its full stack")
	flags.Int("num_cycles_per_run", d.NumCyclesPerRun, "slotframe cycles to run after every node has joined")
	flags.Bool("converge_first", d.ConvergeFirst, "reset statistics once the network has converged and settled")
	flags.Float64("settling_time", d.SettlingTime, "seconds to wait after convergence before resetting statistics")
	flags.String("log.level", d.Log.Level, "log level: debug, info, warn, error")
	flags.String("log.format", d.Log.Format, "log format: text, json")
	flags.Bool("metrics.enabled", d.Metrics.Enabled, "serve Prometheus metrics")
	flags.String("metrics.addr", d.Metrics.Addr, "metrics server listen address")
}

// loadConfig builds a config.Config from configPath, the environment and
// any flags the caller explicitly set on cmd, in that overlay order.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	return config.LoadWithFlags(configPath, flags)
}
