// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simstats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/mac"
	"github.com/tsch-sim/tschsim/internal/modulation"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

func TestDropCounters_IncrementIndependently(t *testing.T) {
	c := New(1, nil)

	c.DropNoRoute()
	c.DropNoTxCells()
	c.DropNoTxCells()
	c.DropQueueFull()
	c.DropMacRetries()
	c.IdleListen()
	c.DropFragFailedEnqueue()
	c.DropFragVRBTableFull()
	c.DropFragReassQueueFull()
	c.DropFragMissingFrag()

	got := c.GetMoteStats()
	assert.Equal(t, 1, got.DroppedNoRoute)
	assert.Equal(t, 2, got.DroppedNoTxCells)
	assert.Equal(t, 1, got.DroppedQueueFull)
	assert.Equal(t, 1, got.DroppedMacRetries)
	assert.Equal(t, 1, got.IdleListenCount)
	assert.Equal(t, 1, got.DroppedFragFailedEnqueue)
	assert.Equal(t, 1, got.DroppedFragVRBTableFull)
	assert.Equal(t, 1, got.DroppedFragReassQueueFull)
	assert.Equal(t, 1, got.DroppedFragMissingFrag)
}

func TestRecordDelivery_AccumulatesLatencyAndHopCount(t *testing.T) {
	c := New(1, nil)

	c.RecordDelivery(2, simtime.ASN(10))
	c.RecordDelivery(4, simtime.ASN(20))

	got := c.GetMoteStats()
	assert.Equal(t, 2, got.Delivered)
	assert.Equal(t, 6, got.TotalHopCount)
	assert.Equal(t, simtime.ASN(30), got.TotalLatencyASN)
	assert.InDelta(t, 15.0, got.AverageLatency(), 0.0001)
	assert.InDelta(t, 3.0, got.AverageHopCount(), 0.0001)
}

func TestAverages_ZeroWhenNothingDelivered(t *testing.T) {
	c := New(1, nil)
	got := c.GetMoteStats()
	assert.Equal(t, 0.0, got.AverageLatency())
	assert.Equal(t, 0.0, got.AverageHopCount())
}

func TestGetCellStats_ReturnsLiveCellCounters(t *testing.T) {
	sched := mac.NewSchedule(101)
	require := assert.New(t)
	err := sched.Add(peer.ToNode(2), []mac.CellDescriptor{{Timeslot: 5, Channel: 3, Direction: frame.DirTX}}, modulation.NewTable(modulation.ConfigSingleSlot), modulation.MCS(0))
	require.NoError(err)

	cell, ok := sched.At(5)
	require.True(ok)
	cell.NumTx = 4
	cell.NumTxAck = 3
	cell.NumRx = 1

	c := New(1, sched)
	got := c.GetCellStats(5, 3)
	require.True(got.Occupied)
	require.Equal(4, got.NumTx)
	require.Equal(3, got.NumTxAck)
	require.Equal(1, got.NumRx)
}

func TestGetCellStats_MismatchedChannelReturnsUnoccupied(t *testing.T) {
	sched := mac.NewSchedule(101)
	err := sched.Add(peer.ToNode(2), []mac.CellDescriptor{{Timeslot: 5, Channel: 3, Direction: frame.DirTX}}, modulation.NewTable(modulation.ConfigSingleSlot), modulation.MCS(0))
	assert.NoError(t, err)

	c := New(1, sched)
	got := c.GetCellStats(5, 9)
	assert.False(t, got.Occupied)
}

func TestGetCellStats_NilScheduleReturnsZeroValue(t *testing.T) {
	c := New(1, nil)
	assert.Equal(t, CellStats{}, c.GetCellStats(0, 0))
}
