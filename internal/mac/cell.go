// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package mac implements the TSCH MAC layer (spec.md §4.3): the
// slotframe, cell table, bounded TX queue, per-neighbor/broadcast backoff,
// and the active-cell dispatcher that runs once per ASN.
package mac

import (
	"fmt"
	"sort"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/modulation"
	"github.com/tsch-sim/tschsim/internal/peer"
)

// maxCellHistory bounds the per-cell TX/RX outcome history (spec.md §9 open
// question: NUM_MAX_HISTORY=32 is documented but unenforced upstream; this
// implementation enforces it).
const maxCellHistory = 32

// Cell is a single slotframe entry (spec.md §3 "Schedule cell").
type Cell struct {
	Timeslot   int
	Channel    int
	Direction  frame.Direction
	Peer       peer.Peer
	NumTx      int
	NumTxAck   int
	NumRx      int
	ParentTS   int // equals Timeslot for the active slot of a multi-slot cell
	Modulation modulation.MCS
	history    []bool // bounded ring of the last maxCellHistory outcomes
}

// IsActive reports whether this cell's own logic runs at this timeslot,
// i.e. it is not a placeholder occupancy of a multi-slot cell (spec.md §3
// invariant: "only the parentTs slot is active for logic").
func (c *Cell) IsActive() bool {
	return c.ParentTS == c.Timeslot
}

// PDR returns the cell's observed packet delivery ratio, or ok=false if no
// transmissions have been observed yet.
func (c *Cell) PDR() (pdr float64, ok bool) {
	if c.NumTx == 0 {
		return 0, false
	}
	return float64(c.NumTxAck) / float64(c.NumTx), true
}

// recordHistory appends an outcome, discarding the oldest entry once the
// bound is reached.
func (c *Cell) recordHistory(ok bool) {
	c.history = append(c.history, ok)
	if len(c.history) > maxCellHistory {
		c.history = c.history[len(c.history)-maxCellHistory:]
	}
}

// Schedule owns one node's slotframe: a map from timeslot offset to Cell,
// with an invariant of at most one cell per timeslot (spec.md §3).
type Schedule struct {
	length int
	cells  map[int]*Cell
}

// NewSchedule returns an empty Schedule for a slotframe of the given
// length.
func NewSchedule(length int) *Schedule {
	return &Schedule{length: length, cells: make(map[int]*Cell)}
}

// Length returns the slotframe length in timeslots.
func (s *Schedule) Length() int {
	return s.length
}

// At returns the cell occupying timeslot ts, if any.
func (s *Schedule) At(ts int) (*Cell, bool) {
	c, ok := s.cells[ts%s.length]
	return c, ok
}

// CellDescriptor describes one cell to add (spec.md §4.3 addCells).
type CellDescriptor struct {
	Timeslot  int
	Channel   int
	Direction frame.Direction
}

// Add installs cells for the given list, all pointing to the same peer. For
// a multi-slot modulation, every descriptor's timeslot plus its
// modulation-determined span must be free; all of those slots are
// installed pointing their ParentTS at the descriptor's timeslot (spec.md
// §3 invariant: "a multi-slot cell occupies consecutive timeslots all
// pointing to the same parent-slot").
//
// Returns an InvariantViolation-class error (spec.md §7) if any target
// timeslot is already occupied or a span would straddle the slotframe
// boundary — the caller must treat this as fatal, not recoverable.
func (s *Schedule) Add(p peer.Peer, list []CellDescriptor, mcsTable *modulation.Table, mcs modulation.MCS) error {
	slots := mcsTable.Slots(mcs)
	for _, d := range list {
		if err := mcsTable.ValidateSpan(d.Timeslot, s.length, mcs); err != nil {
			return err
		}
		for i := 0; i < slots; i++ {
			ts := d.Timeslot + i
			if _, occupied := s.cells[ts]; occupied {
				return fmt.Errorf("mac: cell collision at timeslot %d", ts)
			}
		}
	}
	for _, d := range list {
		for i := 0; i < slots; i++ {
			ts := d.Timeslot + i
			s.cells[ts] = &Cell{
				Timeslot:   ts,
				Channel:    d.Channel,
				Direction:  d.Direction,
				Peer:       p,
				ParentTS:   d.Timeslot,
				Modulation: mcs,
			}
		}
	}
	return nil
}

// Remove deletes the cell (and its placeholder slots, for a multi-slot
// cell) whose parent slot is ts.
func (s *Schedule) Remove(ts int) {
	c, ok := s.cells[ts]
	if !ok || !c.IsActive() {
		return
	}
	for k, v := range s.cells {
		if v.ParentTS == ts {
			delete(s.cells, k)
		}
	}
}

// Free reports whether timeslot ts is unoccupied.
func (s *Schedule) Free(ts int) bool {
	_, occupied := s.cells[ts]
	return !occupied
}

// CellsTo returns every active cell whose peer is p, in timeslot order. The
// caller filters by direction as needed.
func (s *Schedule) CellsTo(p peer.Peer) []*Cell {
	var out []*Cell
	for _, c := range s.cells {
		if c.IsActive() && c.Peer.Equal(p) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timeslot < out[j].Timeslot })
	return out
}

// HasTXOrShared reports whether the schedule contains at least one active
// TX or SHARED cell, regardless of peer (spec.md §4.3 enqueue precondition
// "(b) at least one TX or SHARED cell" — a general sanity check, not a
// route to any particular next-hop).
func (s *Schedule) HasTXOrShared() bool {
	for _, c := range s.cells {
		if c.IsActive() && (c.Direction == frame.DirTX || c.Direction == frame.DirShared) {
			return true
		}
	}
	return false
}

// All returns every active cell in the schedule.
func (s *Schedule) All() []*Cell {
	var out []*Cell
	for _, c := range s.cells {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	return out
}
