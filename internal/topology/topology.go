// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package topology implements the Topology external collaborator
// (spec.md §6): initial node placement, per-pair RSSI/PDR, and per-link
// modulation assignment.
//
// Coordinates use github.com/golang/geo/r2, the same dependency
// doismellburning-samoyed pulls in for planar positioning, instead of a
// hand-rolled (x, y) struct. The log-distance RSSI model is grounded on
// the computeIndoorRssi function in other_examples'
// openthread-ot-ns/radiomodel/radiomodel.go.
package topology

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"

	"github.com/tsch-sim/tschsim/internal/modulation"
	"github.com/tsch-sim/tschsim/internal/peer"
)

// RSSI is a received signal strength indication in dBm.
type RSSI float64

// RSSIMinusInfinity marks a link with no usable signal, mirroring ot-ns'
// RssiMinusInfinity sentinel.
const RSSIMinusInfinity RSSI = -1000

const (
	defaultTxPowerDbm     = 0.0
	defaultPathLossExp    = 3.0 // same exponent family as ot-ns' indoor model
	defaultRefDistMeters  = 1.0
	defaultRefLossDb      = 40.0
	defaultRxSensitivity  = -100.0
	snrThresholdDbPerStep = 4.0 // per-MCS SNR margin step, most to least robust
)

// Topology is the external collaborator spec.md §6 describes: it assigns
// initial coordinates, populates per-pair RSSI and PDR, and assigns
// per-link modulation.
type Topology interface {
	// Position returns the (x, y) coordinate of node id.
	Position(id peer.NodeID) r2.Point
	// RSSI returns the estimated received signal strength from src as seen
	// at dst, or RSSIMinusInfinity if unreachable.
	RSSI(src, dst peer.NodeID) RSSI
	// StaticPDR returns the static link PDR used as an ETX fallback before
	// enough transmissions have been observed (spec.md §4.5).
	StaticPDR(src, dst peer.NodeID) float64
	// Modulation returns the MCS assigned to the src->dst link.
	Modulation(src, dst peer.NodeID) modulation.MCS
	// RSSIToPDR converts an RSSI at a given MCS to an expected PDR.
	RSSIToPDR(rssi RSSI, mcs modulation.MCS) float64
}

// Grid is the default Topology: nodes placed uniformly at random within a
// square of the given side length, with RSSI from a log-distance path-loss
// model and PDR derived from RSSI via a logistic SNR-margin curve.
type Grid struct {
	squareSide float64
	mcsTable   *modulation.Table
	positions  map[peer.NodeID]r2.Point
	rng        *rand.Rand
}

// NewGrid returns a Grid topology for numNodes nodes randomly placed in a
// squareSide x squareSide meter area, seeded deterministically from seed
// (spec.md §5 determinism: per-collaborator streams seeded seed+nodeId-ish,
// here a single topology-wide stream since placement happens once at
// bootstrap, before any node exists).
func NewGrid(numNodes int, squareSide float64, mcsTable *modulation.Table, seed int64) *Grid {
	g := &Grid{
		squareSide: squareSide,
		mcsTable:   mcsTable,
		positions:  make(map[peer.NodeID]r2.Point, numNodes),
		rng:        rand.New(rand.NewSource(seed)),
	}
	// Root (id 0) is placed at the center; others scattered uniformly.
	g.positions[0] = r2.Point{X: squareSide / 2, Y: squareSide / 2}
	for i := 1; i < numNodes; i++ {
		id := peer.NodeID(i)
		g.positions[id] = r2.Point{
			X: g.rng.Float64() * squareSide,
			Y: g.rng.Float64() * squareSide,
		}
	}
	return g
}

// Position implements Topology.
func (g *Grid) Position(id peer.NodeID) r2.Point {
	return g.positions[id]
}

// distance returns the Euclidean distance in meters between src and dst.
func (g *Grid) distance(src, dst peer.NodeID) float64 {
	a, aok := g.positions[src]
	b, bok := g.positions[dst]
	if !aok || !bok {
		return math.Inf(1)
	}
	return a.Sub(b).Norm()
}

// RSSI implements Topology using a log-distance path-loss model:
// RSSI = txPower - (refLoss + 10*n*log10(dist/refDist)).
func (g *Grid) RSSI(src, dst peer.NodeID) RSSI {
	dist := g.distance(src, dst)
	if math.IsInf(dist, 1) {
		return RSSIMinusInfinity
	}
	if dist < defaultRefDistMeters {
		dist = defaultRefDistMeters
	}
	pathLoss := defaultRefLossDb + 10*defaultPathLossExp*math.Log10(dist/defaultRefDistMeters)
	rssi := defaultTxPowerDbm - pathLoss
	if rssi < defaultRxSensitivity {
		return RSSIMinusInfinity
	}
	return RSSI(rssi)
}

// StaticPDR implements Topology by feeding RSSI through RSSIToPDR at the
// link's assigned modulation.
func (g *Grid) StaticPDR(src, dst peer.NodeID) float64 {
	mcs := g.Modulation(src, dst)
	return g.RSSIToPDR(g.RSSI(src, dst), mcs)
}

// Modulation implements Topology. The default Grid topology assigns the
// single configured table's most robust MCS to every link; a richer
// collaborator (out of core scope per spec.md §1) could vary this by
// distance.
func (g *Grid) Modulation(src, dst peer.NodeID) modulation.MCS {
	return g.mcsTable.MinimalCellModulation()
}

// RSSIToPDR implements Topology with a logistic curve centered on the
// receiver sensitivity margin, modulated by a per-MCS SNR threshold
// (more robust MCS -> usable at lower RSSI), per spec.md §4.2 point 2.
func (g *Grid) RSSIToPDR(rssi RSSI, mcs modulation.MCS) float64 {
	if rssi <= RSSIMinusInfinity {
		return 0
	}
	threshold := defaultRxSensitivity + float64(mcs)*snrThresholdDbPerStep
	margin := float64(rssi) - threshold
	// logistic centered at 0 margin with slope tuned so +-10dB saturates.
	return 1.0 / (1.0 + math.Exp(-margin/2.5))
}
