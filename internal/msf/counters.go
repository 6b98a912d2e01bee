// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package msf implements the Minimal Scheduling Function (spec.md §4.6):
// per-neighbor cell-usage accounting and the choreography that reacts to
// an RPL preferred-parent switch by adding cells to the new parent and
// retiring cells from the old one.
package msf

// UsageCounters tracks numCellsElapsed/numCellsUsed for one neighbor
// (spec.md §4.6 "Cell-usage accounting").
type UsageCounters struct {
	maxCells int
	elapsed  int
	used     int
}

// NewUsageCounters returns counters that reset every maxCells activations
// (msfMaxNumCells).
func NewUsageCounters(maxCells int) *UsageCounters {
	return &UsageCounters{maxCells: maxCells}
}

// OnActivation records one dedicated-SHARED-cell activation to the
// preferred parent, and whether it carried a successfully exchanged
// frame. Returns the (used, elapsed) ratio and whether this call caused
// the counters to reset (spec.md §4.6: "After numCellsElapsed ==
// msfMaxNumCells, counters reset").
func (c *UsageCounters) OnActivation(success bool) (used, elapsed int, didReset bool) {
	c.elapsed++
	if success {
		c.used++
	}
	used, elapsed = c.used, c.elapsed
	if c.elapsed >= c.maxCells {
		c.elapsed, c.used = 0, 0
		return used, elapsed, true
	}
	return used, elapsed, false
}
