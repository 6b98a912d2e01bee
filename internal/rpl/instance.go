// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package rpl

import (
	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/mac"
	"github.com/tsch-sim/tschsim/internal/peer"
)

// neighborInfo is what the instance remembers from a neighbor's most
// recent DIO (spec.md §4.5 "Housekeeping on DIO receipt" step 1).
type neighborInfo struct {
	rank            Rank
	preferredParent peer.NodeID
	hasParent       bool
}

// LinkPDR supplies the static, topology-modeled link PDR used as the ETX
// fallback before NumSufficientTx transmissions have been observed.
type LinkPDR func(nbr peer.NodeID) float64

// Instance is one node's RPL state: its own rank, preferred parent, and
// everything it has learned about its neighbors via DIO (spec.md §3 "Node"
// rank/parent fields, §4.5).
type Instance struct {
	id       peer.NodeID
	isRoot   bool
	schedule *mac.Schedule
	linkPDR  LinkPDR

	rank            Rank
	hasParent       bool
	preferredParent peer.NodeID
	prevParent      peer.NodeID
	churn           int

	neighbors map[peer.NodeID]neighborInfo

	// OnFirstParent fires the first time this node ever acquires a
	// preferred parent (spec.md §4.5 step 4: "when join is not enabled,
	// trigger MSF bootstrap").
	OnFirstParent func()
	// OnParentChange fires whenever the preferred parent changes, with
	// hadOld=false on the very first acquisition (spec.md §4.5 step 5).
	OnParentChange func(old, new peer.NodeID, hadOld bool)
}

// NewInstance returns an RPL Instance for node id. Root nodes start with
// rank 0 and hasParent true (a root is trivially "its own parent" for the
// purposes of rank comparisons downstream).
func NewInstance(id peer.NodeID, isRoot bool, schedule *mac.Schedule, linkPDR LinkPDR) *Instance {
	i := &Instance{
		id:        id,
		isRoot:    isRoot,
		schedule:  schedule,
		linkPDR:   linkPDR,
		neighbors: make(map[peer.NodeID]neighborInfo),
	}
	if isRoot {
		i.rank = RootRank
		i.hasParent = true
	}
	return i
}

// Rank returns the node's current rank.
func (i *Instance) Rank() Rank { return i.rank }

// IsRoot reports whether this instance is the DAG root.
func (i *Instance) IsRoot() bool { return i.isRoot }

// PreferredParent returns the current preferred parent, if any.
func (i *Instance) PreferredParent() (peer.NodeID, bool) {
	return i.preferredParent, i.hasParent
}

// DIOPayload returns the payload this node should advertise in its next
// DIO transmission.
func (i *Instance) DIOPayload() frame.DIOPayload {
	return frame.DIOPayload{
		Rank:            int(i.rank),
		PreferredParent: i.preferredParent,
		HasParent:       i.hasParent,
	}
}

// etxTo estimates ETX to nbr from observed dedicated-cell TX/ACK counts,
// aggregated across every dedicated cell this node has to nbr, falling
// back to the static link PDR (spec.md §4.5 "Rank").
func (i *Instance) etxTo(nbr peer.NodeID) float64 {
	var numTx, numTxAck int
	for _, c := range i.schedule.CellsTo(peer.ToNode(nbr)) {
		numTx += c.NumTx
		numTxAck += c.NumTxAck
	}
	static := 0.0
	if i.linkPDR != nil {
		static = i.linkPDR(nbr)
	}
	return ETX(numTx, numTxAck, static)
}

// totalRankVia returns the rank this node would have if it adopted nbr as
// preferred parent: neighbor's advertised rank plus this node's own
// rank-increase over that link.
func (i *Instance) totalRankVia(nbr peer.NodeID) Rank {
	info := i.neighbors[nbr]
	return info.rank + RankIncrease(i.etxTo(nbr))
}

// createsLoop reports whether adopting nbr as preferred parent would
// create a routing loop: nbr's own preferred parent is already this node
// (spec.md §4.5 step 2, "loop detection by walking preferredParent
// chain" — the one-hop form expressible from a single DIO's contents).
func (i *Instance) createsLoop(nbr peer.NodeID) bool {
	info, ok := i.neighbors[nbr]
	return ok && info.hasParent && info.preferredParent == i.id
}

// HandleDIO records a neighbor's advertised rank/parent and re-evaluates
// preferred-parent selection (spec.md §4.5 "Housekeeping on DIO receipt").
// Root nodes ignore DIOs — they have no parent to select.
func (i *Instance) HandleDIO(from peer.NodeID, payload frame.DIOPayload) {
	if i.isRoot {
		return
	}
	i.neighbors[from] = neighborInfo{
		rank:            Rank(payload.Rank),
		preferredParent: payload.PreferredParent,
		hasParent:       payload.HasParent,
	}

	best, bestRank, ok := i.selectBest()
	if !ok {
		return
	}

	if !i.hasParent {
		i.adopt(best, bestRank, false)
		return
	}
	if best == i.preferredParent {
		i.rank = bestRank
		return
	}
	currentRank := i.totalRankVia(i.preferredParent)
	if currentRank-bestRank >= ParentSwitchThreshold {
		i.adopt(best, bestRank, true)
	}
}

// selectBest scans every known, non-looping neighbor and returns the one
// with the lowest resulting total rank (spec.md §4.5 step 3: "Sort
// ascending").
func (i *Instance) selectBest() (peer.NodeID, Rank, bool) {
	var best peer.NodeID
	var bestRank Rank
	found := false
	for nbr := range i.neighbors {
		if i.createsLoop(nbr) {
			continue
		}
		r := i.totalRankVia(nbr)
		if !found || r < bestRank {
			best, bestRank, found = nbr, r, true
		}
	}
	return best, bestRank, found
}

func (i *Instance) adopt(nbr peer.NodeID, rank Rank, hadOld bool) {
	old := i.preferredParent
	if hadOld {
		i.prevParent = old
		i.churn++
	}
	i.preferredParent = nbr
	i.hasParent = true
	i.rank = rank
	if i.OnParentChange != nil {
		i.OnParentChange(old, nbr, hadOld)
	}
	if !hadOld && i.OnFirstParent != nil {
		i.OnFirstParent()
	}
}

// PreviousParent returns the preferred parent just before the most recent
// switch, if any switch has happened yet.
func (i *Instance) PreviousParent() (peer.NodeID, bool) {
	return i.prevParent, i.churn > 0
}

// Churn returns the number of preferred-parent switches observed so far.
func (i *Instance) Churn() int {
	return i.churn
}
