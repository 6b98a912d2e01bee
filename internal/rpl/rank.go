// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package rpl implements a minimal RPL instance (spec.md §4.5): rank and
// ETX computation, DIO-driven parent selection with hysteresis and loop
// avoidance, and root-side DAO accumulation into source routes.
package rpl

import "math"

// Rank is RPL rank in the same scaled units as MinHopRankIncrease (spec.md
// §4.5: "rank_increase(n) = (3·ETX(n) - 2) · MIN_HOP_RANK_INCREASE").
type Rank int

const (
	// RootRank is the rank the DAG root advertises.
	RootRank Rank = 0

	// MinHopRankIncrease is MIN_HOP_RANK_INCREASE: the rank-units-per-hop
	// scale factor (standard RPL default, RFC 6550 §17).
	MinHopRankIncrease Rank = 256

	// NumSufficientTx is NUM_SUFFICIENT_TX: the per-cell transmission count
	// above which observed ETX (numTx/numTxAck) replaces the static link
	// PDR estimate.
	NumSufficientTx = 10

	// ParentSwitchThreshold is RPL_PARENT_SWITCH_THRESHOLD (spec.md §4.5:
	// "768, i.e. 1.5 hops").
	ParentSwitchThreshold Rank = 768
)

// ETX estimates the expected transmission count to a neighbor: the
// observed numTx/numTxAck ratio once at least NumSufficientTx
// transmissions have been observed, otherwise 1/staticPDR (spec.md §4.5
// "Rank").
func ETX(numTx, numTxAck int, staticPDR float64) float64 {
	if numTx >= NumSufficientTx && numTxAck > 0 {
		return float64(numTx) / float64(numTxAck)
	}
	if staticPDR <= 0 {
		return math.Inf(1)
	}
	return 1 / staticPDR
}

// RankIncrease computes rank_increase(etx) (spec.md §4.5).
func RankIncrease(etx float64) Rank {
	if math.IsInf(etx, 1) {
		return Rank(math.MaxInt32)
	}
	inc := (3*etx - 2) * float64(MinHopRankIncrease)
	if inc < float64(MinHopRankIncrease) {
		inc = float64(MinHopRankIncrease)
	}
	return Rank(inc)
}

// DAGRank returns rank / MIN_HOP_RANK_INCREASE (spec.md §4.5), the
// integer "hop class" RPL uses for loose comparisons.
func DAGRank(rank Rank) int {
	return int(rank) / int(MinHopRankIncrease)
}
