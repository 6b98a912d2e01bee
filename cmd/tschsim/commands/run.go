// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tsch-sim/tschsim/internal/mote"
	"github.com/tsch-sim/tschsim/internal/simlog"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a simulation to completion and report per-node statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			level := new(slog.LevelVar)
			logger := simlog.New(cfg.Log, level)

			logger.Info("tschsim starting",
				slog.Int("num_motes", cfg.NumMotes),
				slog.String("sf", cfg.SF),
				slog.Int64("seed", cfg.Seed),
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sim := mote.New(cfg, logger)
			defer sim.Close()
			if err := sim.Run(ctx); err != nil {
				return fmt.Errorf("simulation run: %w", err)
			}

			printReport(cmd, sim)
			return nil
		},
	}
}

func printReport(cmd *cobra.Command, sim *mote.Simulation) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "node  delivered  avg_latency_asn  avg_hops  no_route  no_tx_cells  queue_full  mac_retries")
	for _, id := range sim.NodeIDs() {
		stats, ok := sim.MoteStats(id)
		if !ok {
			continue
		}
		fmt.Fprintf(out, "%-4d  %-9d  %-15.2f  %-8.2f  %-8d  %-11d  %-10d  %-11d\n",
			id, stats.Delivered, stats.AverageLatency(), stats.AverageHopCount(),
			stats.DroppedNoRoute, stats.DroppedNoTxCells, stats.DroppedQueueFull, stats.DroppedMacRetries)
	}
}
