// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configPath is the optional YAML configuration file, shared by every
// subcommand that loads a config.Config. It is rebound fresh by every
// newRootCmd call, so repeated invocations within one process (as in
// tests) never see a stale value left over from a previous run.
var configPath string

// newRootCmd builds a fresh tschsim command tree. Building a new tree
// per call, rather than reusing one package-level *cobra.Command, keeps
// successive calls (as happens across a test binary's test functions)
// from inheriting flag state left over by an earlier invocation.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tschsim",
		Short: "Discrete-event simulator for a 6TiSCH low-power wireless mesh network",
		Long: "tschsim simulates a 6TiSCH mesh network (TSCH MAC, 6top, RPL, MSF)\n" +
			"over a configurable number of motes, reporting per-node drop\n" +
			"counters, delivery latency and hop count at the end of a run.",
		// Silence cobra's built-in usage/error printing so we control it.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "",
		"path to configuration file (YAML)")
	bindSimFlags(root.PersistentFlags())

	root.AddCommand(runCmd())
	root.AddCommand(validateConfigCmd())
	root.AddCommand(versionCmd())

	return root
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
