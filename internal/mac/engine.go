// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package mac

import (
	"math/rand"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/modulation"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

// ChannelAccess is the subset of radiomodel.Coordinator the TSCH engine
// needs to register slot activity (spec.md §4.2 inputs).
type ChannelAccess interface {
	StartTx(node peer.NodeID, channel int, fr *frame.Frame, broadcast bool)
	StartTxMultiSlot(node peer.NodeID, channel int, fr *frame.Frame, broadcast bool, asn int64, slots int)
	StartRx(node peer.NodeID, channel int)
}

// Demux hands a successfully received frame up to the layer that should
// process it (RPL/6top/Join/App demultiplexing per spec.md §2 data flow).
type Demux interface {
	HandleFrame(from peer.NodeID, fr *frame.Frame)
}

// Counters receives named drop events (spec.md §4.9).
type Counters interface {
	DropNoRoute()
	DropNoTxCells()
	DropQueueFull()
	DropMacRetries()
	IdleListen()
}

// Config holds the TSCH engine's slot-geometry and retry parameters
// (spec.md §6).
type Config struct {
	SlotframeLength int
	NumChans        int
	QueueSize       int
	MaxRetries      int
	BackoffMinExp   int
	BackoffMaxExp   int
}

// DefaultConfig returns the spec.md-documented defaults.
func DefaultConfig(slotframeLength, numChans int) Config {
	return Config{
		SlotframeLength: slotframeLength,
		NumChans:        numChans,
		QueueSize:       DefaultQueueSize,
		MaxRetries:      DefaultMaxRetries,
		BackoffMinExp:   1,
		BackoffMaxExp:   4,
	}
}

// Engine is the per-node TSCH MAC layer (spec.md §4.3).
type Engine struct {
	id       peer.NodeID
	cfg      Config
	schedule *Schedule
	queue    *queue
	mcsTable *modulation.Table

	broadcastBackoff *backoff
	neighborBackoff  map[peer.NodeID]*backoff

	sched  *simtime.Scheduler
	chAcc  ChannelAccess
	demux  Demux
	counts Counters
	rng    *rand.Rand

	beaconCfg       BeaconConfig
	syncedNeighbors func() int

	sendObserver func(fr *frame.Frame, acked bool)
}

// SetSendObserver registers a callback invoked after every unicast frame's
// TX outcome is known (ACK or final drop), letting an upper layer such as
// 6top learn when its own request/response frame has left the queue
// without the engine needing to know anything about 6top state.
func (e *Engine) SetSendObserver(fn func(fr *frame.Frame, acked bool)) {
	e.sendObserver = fn
}

// New returns a TSCH Engine for node id.
func New(id peer.NodeID, cfg Config, mcsTable *modulation.Table, sched *simtime.Scheduler, chAcc ChannelAccess, demux Demux, counts Counters, rng *rand.Rand) *Engine {
	return &Engine{
		id:               id,
		cfg:              cfg,
		schedule:         NewSchedule(cfg.SlotframeLength),
		queue:            newQueue(cfg.QueueSize),
		mcsTable:         mcsTable,
		broadcastBackoff: newBackoff(cfg.BackoffMinExp, cfg.BackoffMaxExp, rng),
		neighborBackoff:  make(map[peer.NodeID]*backoff),
		sched:            sched,
		chAcc:            chAcc,
		demux:            demux,
		counts:           counts,
		rng:              rng,
	}
}

// Schedule exposes the node's cell table (read/add/remove access for the
//6top and MSF layers).
func (e *Engine) Schedule() *Schedule {
	return e.schedule
}

// ModulationTable exposes the shared modulation lookup table.
func (e *Engine) ModulationTable() *modulation.Table {
	return e.mcsTable
}

// neighborBackoffFor returns (creating if needed) the backoff generator for
// neighbor id.
func (e *Engine) neighborBackoffFor(id peer.NodeID) *backoff {
	b, ok := e.neighborBackoff[id]
	if !ok {
		b = newBackoff(e.cfg.BackoffMinExp, e.cfg.BackoffMaxExp, e.rng)
		e.neighborBackoff[id] = b
	}
	return b
}

// ResetNeighborBackoff resets the backoff for a single neighbor (spec.md §9:
// normalized to per-neighbor only, not "all motes").
func (e *Engine) ResetNeighborBackoff(id peer.NodeID) {
	e.neighborBackoffFor(id).Reset()
}

// Enqueue appends fr to the TX queue, enforcing the next-hop and
// has-a-TX-cell preconditions and the bounded-queue discipline of
// spec.md §4.3.
func (e *Engine) Enqueue(fr *frame.Frame) error {
	if !fr.HasNextHop() {
		e.counts.DropNoRoute()
		return ErrNoRoute
	}
	if !e.schedule.HasTXOrShared() {
		e.counts.DropNoTxCells()
		return ErrNoTxCells
	}
	fr.RetriesLeft = e.cfg.MaxRetries
	if err := e.queue.Enqueue(fr); err != nil {
		e.counts.DropQueueFull()
		return err
	}
	return nil
}

// QueueLen returns the current TX queue depth.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Dispatch runs the active-cell logic for the current ASN (spec.md §4.3,
// priority 0). It is the node's Timer callback scheduled every slot.
func (e *Engine) Dispatch(asn simtime.ASN) {
	ts := int(asn) % e.cfg.SlotframeLength
	cell, ok := e.schedule.At(ts)
	if !ok || !cell.IsActive() {
		return
	}
	switch cell.Direction {
	case frame.DirRX:
		e.dispatchRX(cell, asn)
	case frame.DirTX:
		e.dispatchTX(cell, asn)
	case frame.DirShared:
		if cell.Peer.IsBroadcast() {
			e.dispatchSharedBroadcast(cell, asn)
		} else {
			e.dispatchSharedUnicast(cell, asn)
		}
	}
}

func (e *Engine) dispatchRX(cell *Cell, asn simtime.ASN) {
	e.chAcc.StartRx(e.id, cell.Channel)
}

func (e *Engine) dispatchTX(cell *Cell, asn simtime.ASN) {
	fr := e.queue.firstMatching(cell.Peer)
	if fr == nil {
		e.counts.IdleListen()
		return
	}
	e.transmit(cell, fr, asn)
}

func (e *Engine) dispatchSharedBroadcast(cell *Cell, asn simtime.ASN) {
	if !e.broadcastBackoff.ReadyAndDecrement() {
		return
	}
	fr := e.firstEligibleBroadcast()
	if fr == nil {
		return
	}
	e.transmit(cell, fr, asn)
}

// firstEligibleBroadcast returns the first queued frame eligible to go out
// on the broadcast-type SHARED cell: a truly broadcast-addressed JOIN/
// DIO/EB, or a unicast-addressed 6P request/response that has no dedicated
// cell yet to its target (spec.md §4.3: the shared minimal cell carries
// both broadcast and contention-based unicast control traffic).
func (e *Engine) firstEligibleBroadcast() *frame.Frame {
	for _, fr := range e.queue.items {
		switch fr.Type {
		case frame.TypeJoin, frame.TypeDIO, frame.TypeEB:
			if fr.NextHop.IsBroadcast() {
				return fr
			}
		case frame.TypeSixtopRequest, frame.TypeSixtopResponse:
			if !fr.NextHop.IsBroadcast() && len(e.schedule.CellsTo(fr.NextHop)) == 0 {
				return fr
			}
		}
	}
	return nil
}

func (e *Engine) dispatchSharedUnicast(cell *Cell, asn simtime.ASN) {
	b := e.neighborBackoffFor(mustNodeID(cell.Peer))
	if !b.ReadyAndDecrement() {
		return
	}
	fr := e.queue.firstMatching(cell.Peer)
	if fr == nil {
		return
	}
	e.transmit(cell, fr, asn)
}

func mustNodeID(p peer.Peer) peer.NodeID {
	id, _ := p.NodeID()
	return id
}

// transmit starts the over-the-air transmission for fr on cell, handling
// both single-slot and multi-slot (modulation-dependent) cells.
func (e *Engine) transmit(cell *Cell, fr *frame.Frame, asn simtime.ASN) {
	broadcast := fr.NextHop.IsBroadcast()
	slots := e.mcsTable.Slots(cell.Modulation)
	if slots <= 1 {
		e.chAcc.StartTx(e.id, cell.Channel, fr, broadcast)
		return
	}
	e.chAcc.StartTxMultiSlot(e.id, cell.Channel, fr, broadcast, int64(asn), slots)
}

// TxDone implements radiomodel.RadioAdapter: it applies backoff and retry
// bookkeeping and either dequeues (on success/drop) or leaves fr in place
// for the next matching-cell activation (spec.md §4.3 Retries).
func (e *Engine) TxDone(fr *frame.Frame, isACKed, isNACKed bool) {
	cell := e.cellTo(fr.NextHop)
	if cell != nil {
		cell.NumTx++
		if isACKed {
			cell.NumTxAck++
		}
		cell.recordHistory(isACKed)
	}

	if fr.NextHop.IsBroadcast() {
		e.queue.Remove(fr)
		return
	}

	b := e.neighborBackoffFor(mustNodeID(fr.NextHop))
	if isACKed {
		b.Reset()
		e.queue.Remove(fr)
		if e.queue.EmptyFor(fr.NextHop) {
			b.Reset()
		}
		if e.sendObserver != nil {
			e.sendObserver(fr, true)
		}
		return
	}

	b.OnFailure()
	fr.RetriesLeft--
	if fr.RetriesLeft <= 0 {
		e.counts.DropMacRetries()
		e.queue.Remove(fr)
		if e.sendObserver != nil {
			e.sendObserver(fr, false)
		}
	}
	// else: leave fr queued, it will be retried at the next matching cell.
}

// RxDone implements radiomodel.RadioAdapter: it updates cell counters and
// hands the frame to the layer demux.
func (e *Engine) RxDone(from peer.NodeID, fr *frame.Frame) {
	ts := e.currentTimeslot()
	if cell, ok := e.schedule.At(ts); ok {
		cell.NumRx++
	}
	if fr.NextHop.IsBroadcast() {
		e.broadcastBackoff.Reset()
	}
	e.demux.HandleFrame(from, fr)
}

func (e *Engine) currentTimeslot() int {
	return int(e.sched.GetASN()) % e.cfg.SlotframeLength
}

func (e *Engine) cellTo(p peer.Peer) *Cell {
	cells := e.schedule.CellsTo(p)
	if len(cells) == 0 {
		return nil
	}
	return cells[0]
}
