// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsch-sim/tschsim/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print tschsim build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full("tschsim"))
		},
	}
}
