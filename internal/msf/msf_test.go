// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package msf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/mac"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

type fakeSixtop struct {
	busy     map[peer.NodeID]bool
	adds     []peer.NodeID
	addDirs  []frame.Direction
	deletes  []peer.NodeID
	delCount []int
}

func newFakeSixtop() *fakeSixtop {
	return &fakeSixtop{busy: make(map[peer.NodeID]bool)}
}

func (f *fakeSixtop) Busy(nbr peer.NodeID) bool { return f.busy[nbr] }

func (f *fakeSixtop) InitiateAdd(nbr peer.NodeID, numCells int, dir frame.Direction) error {
	f.adds = append(f.adds, nbr)
	f.addDirs = append(f.addDirs, dir)
	return nil
}

func (f *fakeSixtop) InitiateDelete(nbr peer.NodeID, numCellsToRemove int) error {
	f.deletes = append(f.deletes, nbr)
	f.delCount = append(f.delCount, numCellsToRemove)
	return nil
}

type fakeCells struct {
	owned map[peer.NodeID]int
}

func (f *fakeCells) CellsTo(p peer.Peer) []*mac.Cell {
	id, ok := p.NodeID()
	if !ok {
		return nil
	}
	n := f.owned[id]
	cells := make([]*mac.Cell, n)
	for i := range cells {
		cells[i] = &mac.Cell{}
	}
	return cells
}

func TestHandleParentChange_AddsToNewParentWhenNoneOwnedYet(t *testing.T) {
	sched := simtime.New()
	st := newFakeSixtop()
	cells := &fakeCells{owned: map[peer.NodeID]int{}}
	m := New(peer.NodeID(1), DefaultConfig(25, 300), st, cells, sched, nil)

	m.HandleParentChange(0, false, peer.NodeID(2))

	require.Len(t, st.adds, 1)
	assert.Equal(t, peer.NodeID(2), st.adds[0])
	assert.Equal(t, frame.DirTX, st.addDirs[0])
	assert.Empty(t, st.deletes)
}

func TestHandleParentChange_SkipsAddWhenCellsAlreadyOwned(t *testing.T) {
	sched := simtime.New()
	st := newFakeSixtop()
	cells := &fakeCells{owned: map[peer.NodeID]int{2: 1}}
	m := New(peer.NodeID(1), DefaultConfig(25, 300), st, cells, sched, nil)

	m.HandleParentChange(0, false, peer.NodeID(2))

	assert.Empty(t, st.adds)
}

func TestHandleParentChange_ArmsOldParentDrainAndStopsOnceEmpty(t *testing.T) {
	sched := simtime.New()
	st := newFakeSixtop()
	cells := &fakeCells{owned: map[peer.NodeID]int{3: 2, 2: 0}}
	m := New(peer.NodeID(1), DefaultConfig(25, 300), st, cells, sched, nil)

	m.HandleParentChange(peer.NodeID(3), true, peer.NodeID(2))
	assert.True(t, sched.Pending(m.retryTag()))

	require.NoError(t, sched.Run(simtime.ASN(25)))
	require.Len(t, st.deletes, 1)
	assert.Equal(t, peer.NodeID(3), st.deletes[0])
	assert.Equal(t, 2, st.delCount[0])

	// old parent now empty: next retry tick (ASN 25+300) should clear state, not delete again.
	cells.owned[3] = 0
	require.NoError(t, sched.Run(simtime.ASN(325)))
	assert.Len(t, st.deletes, 1)
	assert.False(t, m.oldParent.active)
	assert.False(t, sched.Pending(m.retryTag()))
}

func TestHandleParentChange_StopsRetryingAfterMaxAttempts(t *testing.T) {
	sched := simtime.New()
	st := newFakeSixtop()
	cells := &fakeCells{owned: map[peer.NodeID]int{3: 5, 2: 1}}
	cfg := DefaultConfig(1, 1)
	cfg.MaxOldParentRemovals = 2
	m := New(peer.NodeID(1), cfg, st, cells, sched, nil)

	m.HandleParentChange(peer.NodeID(3), true, peer.NodeID(2))
	require.NoError(t, sched.Run(simtime.ASN(1)))
	require.NoError(t, sched.Run(simtime.ASN(2)))
	require.NoError(t, sched.Run(simtime.ASN(3)))

	assert.Len(t, st.deletes, 2)
	assert.False(t, m.oldParent.active)
}

func TestHandleParentChange_DoesNotRetryWhileSixtopBusy(t *testing.T) {
	sched := simtime.New()
	st := newFakeSixtop()
	st.busy[3] = true
	cells := &fakeCells{owned: map[peer.NodeID]int{3: 2, 2: 1}}
	m := New(peer.NodeID(1), DefaultConfig(25, 300), st, cells, sched, nil)

	m.HandleParentChange(peer.NodeID(3), true, peer.NodeID(2))
	require.NoError(t, sched.Run(simtime.ASN(25)))

	assert.Empty(t, st.deletes)
	assert.True(t, m.oldParent.active)
}

func TestHandleCellActivation_ResetsCountersAndInvokesAdjuster(t *testing.T) {
	sched := simtime.New()
	st := newFakeSixtop()
	cells := &fakeCells{owned: map[peer.NodeID]int{}}
	cfg := DefaultConfig(25, 300)
	cfg.MaxNumCells = 2
	seen := []BandwidthDecision{}
	adjuster := adjusterFunc(func(used, elapsed, max int) BandwidthDecision {
		seen = append(seen, BandwidthNoChange)
		return BandwidthNoChange
	})
	m := New(peer.NodeID(1), cfg, st, cells, sched, adjuster)

	m.HandleCellActivation(peer.NodeID(2), true)
	assert.Empty(t, seen)
	m.HandleCellActivation(peer.NodeID(2), false)
	assert.Len(t, seen, 1)
}

type adjusterFunc func(used, elapsed, maxCells int) BandwidthDecision

func (f adjusterFunc) Decide(used, elapsed, maxCells int) BandwidthDecision {
	return f(used, elapsed, maxCells)
}
