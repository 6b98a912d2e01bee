// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package mote

import (
	"github.com/tsch-sim/tschsim/internal/promexport"
	"github.com/tsch-sim/tschsim/internal/simstats"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

// counters fans every drop/delivery event out to both the in-process
// simstats.Collector (always present, read by the end-of-run report) and
// the optional Prometheus promexport.MoteView, so mac.Engine, app.Manager
// and the rest of the stack need a single mac.Counters/app.Counters/
// app.Recorder collaborator regardless of how many sinks are listening.
type counters struct {
	stats *simstats.Collector
	prom  *promexport.MoteView // nil when metrics are disabled
}

func (c *counters) DropNoRoute() {
	c.stats.DropNoRoute()
	if c.prom != nil {
		c.prom.DropNoRoute()
	}
}

func (c *counters) DropNoTxCells() {
	c.stats.DropNoTxCells()
	if c.prom != nil {
		c.prom.DropNoTxCells()
	}
}

func (c *counters) DropQueueFull() {
	c.stats.DropQueueFull()
	if c.prom != nil {
		c.prom.DropQueueFull()
	}
}

func (c *counters) DropMacRetries() {
	c.stats.DropMacRetries()
	if c.prom != nil {
		c.prom.DropMacRetries()
	}
}

func (c *counters) IdleListen() {
	c.stats.IdleListen()
	if c.prom != nil {
		c.prom.IdleListen()
	}
}

func (c *counters) DropFragFailedEnqueue() {
	c.stats.DropFragFailedEnqueue()
	if c.prom != nil {
		c.prom.DropFragFailedEnqueue()
	}
}

func (c *counters) DropFragVRBTableFull() {
	c.stats.DropFragVRBTableFull()
	if c.prom != nil {
		c.prom.DropFragVRBTableFull()
	}
}

func (c *counters) DropFragReassQueueFull() {
	c.stats.DropFragReassQueueFull()
	if c.prom != nil {
		c.prom.DropFragReassQueueFull()
	}
}

func (c *counters) DropFragMissingFrag() {
	c.stats.DropFragMissingFrag()
	if c.prom != nil {
		c.prom.DropFragMissingFrag()
	}
}

func (c *counters) RecordDelivery(hopCount int, latency simtime.ASN) {
	c.stats.RecordDelivery(hopCount, latency)
	if c.prom != nil {
		c.prom.RecordDelivery(hopCount, latency)
	}
}
