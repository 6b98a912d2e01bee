// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package msf

import (
	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/mac"
	"github.com/tsch-sim/tschsim/internal/peer"
)

// BandwidthDecision is the outcome of a bandwidth-adjustment hook
// evaluation (spec.md §4.6: "hooks exist for bandwidth increase/decrease
// (disabled in the default path, retained as optional behavior)").
type BandwidthDecision uint8

const (
	BandwidthNoChange BandwidthDecision = iota
	BandwidthIncrease
	BandwidthDecrease
)

// BandwidthAdjuster is the pluggable bandwidth-adjustment hook, grounded
// on heistp-scim's CCA/AQM strategy-interface idiom (cca.go, aqm.go):
// the engine calls out to a small interface after every counter reset and
// does not know or care which policy is behind it.
type BandwidthAdjuster interface {
	Decide(used, elapsed, maxCells int) BandwidthDecision
}

// disabledAdjuster is the spec.md default: bandwidth adjustment is wired
// in but inert, matching "disabled in the default path".
type disabledAdjuster struct{}

func (disabledAdjuster) Decide(int, int, int) BandwidthDecision { return BandwidthNoChange }

// DisabledAdjuster is the default BandwidthAdjuster.
var DisabledAdjuster BandwidthAdjuster = disabledAdjuster{}

// SchedulingFunction is the pluggable scheduling-function seam spec.md §6
// names via `sf` ∈ {msf, ellsf, ilp}, grounded on the same CCA/Responder
// strategy-interface shape as BandwidthAdjuster above.
type SchedulingFunction interface {
	// HandleCellActivation is called once per activation of a dedicated
	// SHARED cell to the preferred parent.
	HandleCellActivation(nbr peer.NodeID, success bool)
	// HandleParentChange is called whenever RPL switches preferred parent.
	HandleParentChange(old peer.NodeID, hadOld bool, newParent peer.NodeID)
}

// SixtopInitiator is the subset of *sixtop.Manager MSF drives.
type SixtopInitiator interface {
	Busy(nbr peer.NodeID) bool
	InitiateAdd(nbr peer.NodeID, numCells int, dir frame.Direction) error
	InitiateDelete(nbr peer.NodeID, numCellsToRemove int) error
}

// CellSource is the subset of *mac.Schedule MSF needs to see how many
// cells it already owns to a given neighbor.
type CellSource interface {
	CellsTo(p peer.Peer) []*mac.Cell
}
