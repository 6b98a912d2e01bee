// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package radiomodel implements the propagation coordinator (spec.md §4.2):
// the single-threaded, once-per-ASN resolver of concurrent transmissions
// into per-receiver ACK/NACK outcomes.
//
// The RadioAdapter callback shape (RxDone/TxDone) mirrors the
// radio_rxDone/radio_txDone callback pair spec.md describes, and the
// interference-accumulation technique (group by channel, pick the
// strongest intended signal, treat the rest as interferers, apply a
// minimum Signal-to-Interference-Ratio threshold) is grounded on
// other_examples' EskoDijk-ot-ns/radiomodel/radiomodelMutualInterference.go
// (MinSirDb) and openthread-ot-ns/radiomodel/radiomodel.go (RSSI sentinel
// handling).
package radiomodel

import (
	"math/rand"

	"github.com/tsch-sim/tschsim/internal/frame"
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/topology"
)

// MinSIRDb is the minimum signal-to-interference ratio, in dB, below which
// a frame is considered garbled even if the intended signal's own PDR draw
// would have succeeded. Grounded on EskoDijk-ot-ns' MinSirDb = 1.
const MinSIRDb = 1.0

// RadioAdapter is the per-node callback sink the coordinator drives,
// corresponding to spec.md §4.2's radio_rxDone / radio_txDone.
type RadioAdapter interface {
	// RxDone is invoked on the receiving node when a frame is successfully
	// received.
	RxDone(from peer.NodeID, fr *frame.Frame)
	// TxDone is invoked on the transmitting node once the slot's outcome is
	// known. isACKed and isNACKed are mutually exclusive; a silent slot
	// (nothing to deliver to, or destination not listening) gets both
	// false, same as a broadcast.
	TxDone(fr *frame.Frame, isACKed, isNACKed bool)
}

type txIntent struct {
	node      peer.NodeID
	channel   int
	fr        *frame.Frame
	broadcast bool
	// multi-slot bookkeeping (spec.md §4.2 aggregatedInfo)
	startSlot   int64
	endSlot     int64
	interfered  bool
}

type rxIntent struct {
	node    peer.NodeID
	channel int
}

// Coordinator is the propagation coordinator of spec.md §4.2. One instance
// serves the whole simulation; it is invoked once per ASN after every node
// has registered its slot activity for that ASN.
type Coordinator struct {
	topo     topology.Topology
	adapters map[peer.NodeID]RadioAdapter
	rng      *rand.Rand

	tx        map[peer.NodeID]*txIntent
	rx        []rxIntent
	multiSlot map[peer.NodeID]*txIntent // in-flight multi-slot transmissions, keyed by sender
}

// NewCoordinator returns a Coordinator using topo for RSSI/PDR lookups and
// a dedicated RNG stream seeded per spec.md §5 (seed+nodeId-independent:
// the coordinator itself uses a single global stream since it is not
// per-node state).
func NewCoordinator(topo topology.Topology, seed int64) *Coordinator {
	return &Coordinator{
		topo:      topo,
		adapters:  make(map[peer.NodeID]RadioAdapter),
		rng:       rand.New(rand.NewSource(seed)),
		tx:        make(map[peer.NodeID]*txIntent),
		multiSlot: make(map[peer.NodeID]*txIntent),
	}
}

// Register associates a node id with the RadioAdapter that receives its
// slot-outcome callbacks.
func (c *Coordinator) Register(id peer.NodeID, a RadioAdapter) {
	c.adapters[id] = a
}

// StartTx registers a single-slot transmission intent for the current ASN.
// broadcast must be true iff fr's NextHop is the broadcast peer.
func (c *Coordinator) StartTx(node peer.NodeID, channel int, fr *frame.Frame, broadcast bool) {
	c.tx[node] = &txIntent{node: node, channel: channel, fr: fr, broadcast: broadcast, startSlot: -1, endSlot: -1}
}

// StartTxMultiSlot registers the start of a multi-slot transmission
// spanning ASNs [asn, asn+slots). The coordinator accumulates interference
// across every constituent ASN and resolves the frame once at the final
// slot, per spec.md §4.2 point 4.
func (c *Coordinator) StartTxMultiSlot(node peer.NodeID, channel int, fr *frame.Frame, broadcast bool, asn int64, slots int) {
	in := &txIntent{
		node: node, channel: channel, fr: fr, broadcast: broadcast,
		startSlot: asn, endSlot: asn + int64(slots) - 1,
	}
	c.multiSlot[node] = in
	c.tx[node] = in
}

// StartRx registers a receive intent on the given channel for the current
// ASN.
func (c *Coordinator) StartRx(node peer.NodeID, channel int) {
	c.rx = append(c.rx, rxIntent{node: node, channel: channel})
}

// Resolve processes every transmission/reception intent registered for
// asn, dispatches RxDone/TxDone callbacks, and clears per-ASN state.
// Multi-slot transmissions not yet at their endSlot are skipped (and
// interference is recorded) rather than resolved.
func (c *Coordinator) Resolve(asn int64) {
	byChannel := make(map[int][]*txIntent)
	for _, t := range c.tx {
		byChannel[t.channel] = append(byChannel[t.channel], t)
	}
	// An in-flight multi-slot transmission is only ever registered once, on
	// its startSlot ASN; re-surface it here on every constituent ASN up to
	// and including endSlot so it keeps contending for the channel (and can
	// be resolved) for its whole span, not just its first slot.
	for _, in := range c.multiSlot {
		if in.endSlot < 0 || asn > in.endSlot || asn < in.startSlot {
			continue
		}
		if _, registeredToday := c.tx[in.node]; !registeredToday {
			byChannel[in.channel] = append(byChannel[in.channel], in)
		}
	}

	// mark interference on every multi-slot transmission sharing a channel
	// with any other concurrent transmitter, for every constituent slot.
	for _, in := range c.multiSlot {
		if in.endSlot < 0 || asn > in.endSlot || asn < in.startSlot {
			continue
		}
		for _, other := range byChannel[in.channel] {
			if other.node != in.node {
				in.interfered = true
				break
			}
		}
	}

	resolved := make(map[peer.NodeID]bool)

	for ch, txs := range byChannel {
		for _, rxI := range c.rx {
			if rxI.channel != ch {
				continue
			}
			c.resolveReceiver(rxI.node, txs, asn, resolved)
		}
		// settle TxDone for any tx that has reached its final slot with no
		// listening receiver at all (silent slot: not nacked per RFC
		// semantics, simply undelivered) or that no receiver picked as its
		// strongest signal (resolveReceiver already settled the rest).
		for _, t := range txs {
			if t.endSlot >= 0 && asn < t.endSlot {
				continue // multi-slot, not yet at its final slot
			}
			if resolved[t.node] {
				continue
			}
			resolved[t.node] = true
			c.finishTx(t, false, false)
		}
	}

	c.tx = make(map[peer.NodeID]*txIntent)
	c.rx = nil
	for node, in := range c.multiSlot {
		if in.endSlot >= 0 && asn >= in.endSlot {
			delete(c.multiSlot, node)
		}
	}
}

// resolveReceiver implements spec.md §4.2 steps 2-3 for a single receiver
// listening on a channel with one or more concurrent transmitters.
func (c *Coordinator) resolveReceiver(receiver peer.NodeID, txs []*txIntent, asn int64, resolved map[peer.NodeID]bool) {
	var best *txIntent
	var bestRSSI topology.RSSI = topology.RSSIMinusInfinity
	for _, t := range txs {
		if !addressedTo(t, receiver) {
			continue
		}
		rssi := c.topo.RSSI(t.node, receiver)
		if best == nil || rssi > bestRSSI {
			best, bestRSSI = t, rssi
		}
	}
	if best == nil {
		return
	}
	if best.endSlot >= 0 && asn < best.endSlot {
		// still mid-span; resolution happens once Resolve reaches endSlot.
		return
	}

	hadPriorInterference := best.interfered
	hasConcurrentInterferer := false
	worstSIR := topology.RSSI(1e9) // no interferer: SIR is unbounded
	for _, t := range txs {
		if t == best {
			continue
		}
		hasConcurrentInterferer = true
		sir := bestRSSI - c.topo.RSSI(t.node, receiver)
		if sir < worstSIR {
			worstSIR = sir
		}
	}

	mcs := c.topo.Modulation(best.node, receiver)
	pdr := c.topo.RSSIToPDR(bestRSSI, mcs)
	if hadPriorInterference || (hasConcurrentInterferer && float64(worstSIR) < MinSIRDb) {
		pdr = interferedPDR(pdr)
	}

	success := c.rng.Float64() < pdr
	if success {
		if a, ok := c.adapters[receiver]; ok {
			a.RxDone(best.node, best.fr)
		}
	}
	if resolved[best.node] {
		return // another receiver already settled this broadcast transmitter
	}
	resolved[best.node] = true
	c.finishTx(best, success && !best.broadcast, !success && !best.broadcast)
}

// finishTx calls TxDone on the sending node's adapter exactly once.
func (c *Coordinator) finishTx(t *txIntent, acked, nacked bool) {
	if a, ok := c.adapters[t.node]; ok {
		a.TxDone(t.fr, acked, nacked)
	}
}

// addressedTo reports whether tx's frame is addressed to receiver, either
// by unicast next-hop or because it is a broadcast.
func addressedTo(t *txIntent, receiver peer.NodeID) bool {
	if t.broadcast {
		return true
	}
	if id, ok := t.fr.NextHop.NodeID(); ok {
		return id == receiver
	}
	return false
}

// interferedPDR is the effective PDR of a garbled frame: one whose worst
// co-channel interferer leaves less than MinSIRDb of margin, or a
// multi-slot frame interfered in any slot of its span (spec.md §4.2 point
// 4). Such a frame always fails, whatever its own PDR.
func interferedPDR(float64) float64 {
	return 0
}
