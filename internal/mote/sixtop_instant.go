// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package mote

import (
	"fmt"
	"math/rand"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/mac"
	"github.com/tsch-sim/tschsim/internal/modulation"
	"github.com/tsch-sim/tschsim/internal/peer"
)

// instantSixtop implements msf.SixtopInitiator by installing cells
// directly into both ends' schedules, bypassing the request/response
// protocol entirely (spec.md §6 "sixtopMessaging (bool): reliable 6P
// exchanges vs. instant magic (testing shortcut)"). It is grounded on the
// same pluggable-strategy-behind-a-small-interface idiom as
// msf.disabledAdjuster: a trivial, inert implementation standing in for
// the real thing behind an unchanged seam.
type instantSixtop struct {
	id       peer.NodeID
	engine   *mac.Engine
	mcsTable *modulation.Table
	mcs      modulation.MCS
	numChans int
	rng      *rand.Rand
	lookup   func(peer.NodeID) *Mote
}

// Busy always reports false: an instant transaction completes within the
// same call, so there is never a pending one to collide with.
func (s *instantSixtop) Busy(peer.NodeID) bool { return false }

// InitiateAdd installs up to numCells mirrored cell pairs immediately,
// skipping ADD-REQUEST/RESPONSE entirely.
func (s *instantSixtop) InitiateAdd(nbr peer.NodeID, numCells int, dir frame.Direction) error {
	other := s.lookup(nbr)
	if other == nil {
		return fmt.Errorf("mote: instant 6top: unknown neighbor %d", nbr)
	}
	installed := 0
	for installed < numCells {
		ts, ok := s.freeTimeslot(other)
		if !ok {
			break
		}
		ch := s.rng.Intn(s.numChans)
		if err := s.install(other, ts, ch, dir); err != nil {
			break
		}
		installed++
	}
	return nil
}

// InitiateDelete removes up to numCellsToRemove cells to nbr from both
// ends immediately, skipping DELETE-REQUEST/RESPONSE entirely.
func (s *instantSixtop) InitiateDelete(nbr peer.NodeID, numCellsToRemove int) error {
	other := s.lookup(nbr)
	if other == nil {
		return fmt.Errorf("mote: instant 6top: unknown neighbor %d", nbr)
	}
	cells := s.engine.Schedule().CellsTo(peer.ToNode(nbr))
	for i := 0; i < numCellsToRemove && i < len(cells); i++ {
		ts := cells[i].Timeslot
		s.engine.Schedule().Remove(ts)
		other.engine.Schedule().Remove(ts)
	}
	return nil
}

// freeTimeslot finds a timeslot free in both this node's and other's
// schedule.
func (s *instantSixtop) freeTimeslot(other *Mote) (int, bool) {
	length := s.engine.Schedule().Length()
	start := s.rng.Intn(length)
	for i := 0; i < length; i++ {
		ts := (start + i) % length
		if s.engine.Schedule().Free(ts) && other.engine.Schedule().Free(ts) {
			return ts, true
		}
	}
	return 0, false
}

// install adds the cell to both ends, mirroring direction (this node's TX
// is the neighbor's RX, and vice versa; SHARED mirrors SHARED).
func (s *instantSixtop) install(other *Mote, ts, ch int, dir frame.Direction) error {
	mine := []mac.CellDescriptor{{Timeslot: ts, Channel: ch, Direction: dir}}
	if err := s.engine.Schedule().Add(peer.ToNode(other.id), mine, s.mcsTable, s.mcs); err != nil {
		return err
	}
	theirDir := dir
	switch dir {
	case frame.DirTX:
		theirDir = frame.DirRX
	case frame.DirRX:
		theirDir = frame.DirTX
	}
	theirs := []mac.CellDescriptor{{Timeslot: ts, Channel: ch, Direction: theirDir}}
	if err := other.engine.Schedule().Add(peer.ToNode(s.id), theirs, other.mcsTable, s.mcs); err != nil {
		s.engine.Schedule().Remove(ts)
		return err
	}
	return nil
}
