// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package simstats implements the Statistics external collaborator
// (spec.md §6): a per-mote sink for the named drop counters (spec.md
// §4.9) and application delivery events, queried back via GetMoteStats
// and GetCellStats(ts, ch). It holds no network or file handle — the core
// has no process boundary (spec.md §6 "Process boundary").
package simstats

import (
	"github.com/tsch-sim/tschsim/internal/mac"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

// CellLookup is the subset of *mac.Schedule a Collector needs to answer
// GetCellStats.
type CellLookup interface {
	At(ts int) (*mac.Cell, bool)
}

// MoteStats is a snapshot of one mote's accumulated counters (spec.md
// §4.9's named drops, plus delivery aggregates for latency/hop-count
// reporting).
type MoteStats struct {
	DroppedNoRoute            int
	DroppedNoTxCells          int
	DroppedQueueFull          int
	DroppedMacRetries         int
	DroppedFragFailedEnqueue  int
	DroppedFragVRBTableFull   int
	DroppedFragReassQueueFull int
	DroppedFragMissingFrag    int
	IdleListenCount           int

	Delivered       int
	TotalHopCount   int
	TotalLatencyASN simtime.ASN
}

// AverageLatency returns the mean per-cycle delivery latency in ASNs, or
// 0 if nothing has been delivered yet.
func (s MoteStats) AverageLatency() float64 {
	if s.Delivered == 0 {
		return 0
	}
	return float64(s.TotalLatencyASN) / float64(s.Delivered)
}

// AverageHopCount returns the mean hop count across delivered datagrams.
func (s MoteStats) AverageHopCount() float64 {
	if s.Delivered == 0 {
		return 0
	}
	return float64(s.TotalHopCount) / float64(s.Delivered)
}

// CellStats is a snapshot of a single cell's activity, sourced live from
// the owning mote's schedule.
type CellStats struct {
	Occupied   bool
	Timeslot   int
	Channel    int
	NumTx      int
	NumTxAck   int
	NumRx      int
}

// Collector is a single mote's Statistics sink. It implements
// mac.Counters, app.Counters and app.Recorder structurally, so it can be
// wired into those layers without an adapter.
type Collector struct {
	id       int
	schedule CellLookup
	stats    MoteStats
}

// New returns a Collector for one mote. schedule supplies the live cell
// table GetCellStats reads from; it may be nil if the caller never calls
// GetCellStats (e.g. in isolated layer tests).
func New(id int, schedule CellLookup) *Collector {
	return &Collector{id: id, schedule: schedule}
}

// SetSchedule binds the live cell table GetCellStats reads from. It exists
// because the mote container constructs a Collector before the mac.Engine
// whose schedule it will read (the engine itself needs a Counters
// collaborator at construction time), so the schedule is wired in after
// the fact rather than threaded through New.
func (c *Collector) SetSchedule(schedule CellLookup) {
	c.schedule = schedule
}

// Reset discards every counter accumulated so far, keeping the bound
// schedule. It exists for the convergeFirst/settlingTime warm-up
// discipline (spec.md §6): a run that wants statistics measured only
// after the network has stabilized resets every mote's Collector once
// convergence plus the configured settling time has elapsed, rather than
// counting drops and deliveries that happened during bootstrap.
func (c *Collector) Reset() {
	c.stats = MoteStats{}
}

// GetMoteStats returns a snapshot of this mote's accumulated counters
// (spec.md §6 Statistics.getMoteStats()).
func (c *Collector) GetMoteStats() MoteStats {
	return c.stats
}

// GetCellStats returns a snapshot of the cell occupying timeslot ts, if
// its channel matches ch (spec.md §6 Statistics.getCellStats(ts, ch)).
func (c *Collector) GetCellStats(ts, ch int) CellStats {
	if c.schedule == nil {
		return CellStats{}
	}
	cell, ok := c.schedule.At(ts)
	if !ok || cell.Channel != ch {
		return CellStats{}
	}
	return CellStats{
		Occupied: true,
		Timeslot: cell.Timeslot,
		Channel:  cell.Channel,
		NumTx:    cell.NumTx,
		NumTxAck: cell.NumTxAck,
		NumRx:    cell.NumRx,
	}
}

// mac.Counters

func (c *Collector) DropNoRoute()    { c.stats.DroppedNoRoute++ }
func (c *Collector) DropNoTxCells()  { c.stats.DroppedNoTxCells++ }
func (c *Collector) DropQueueFull()  { c.stats.DroppedQueueFull++ }
func (c *Collector) DropMacRetries() { c.stats.DroppedMacRetries++ }
func (c *Collector) IdleListen()     { c.stats.IdleListenCount++ }

// app.Counters

func (c *Collector) DropFragFailedEnqueue()  { c.stats.DroppedFragFailedEnqueue++ }
func (c *Collector) DropFragVRBTableFull()   { c.stats.DroppedFragVRBTableFull++ }
func (c *Collector) DropFragReassQueueFull() { c.stats.DroppedFragReassQueueFull++ }
func (c *Collector) DropFragMissingFrag()    { c.stats.DroppedFragMissingFrag++ }

// app.Recorder

func (c *Collector) RecordDelivery(hopCount int, latency simtime.ASN) {
	c.stats.Delivered++
	c.stats.TotalHopCount += hopCount
	c.stats.TotalLatencyASN += latency
}
