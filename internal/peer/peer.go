// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package peer defines the Peer tagged variant used throughout the stack to
// address either a single neighbor or the broadcast domain of a slot.
//
// spec.md §9 calls out the source's duck-typed "neighbor sometimes a node,
// sometimes a list for broadcast" and asks for a tagged variant instead;
// this is that variant.
package peer

import "fmt"

// NodeID identifies a node by its small integer id (spec.md §3).
type NodeID int

// Kind distinguishes a unicast peer from the broadcast domain.
type Kind uint8

const (
	// Unicast addresses a single neighbor by NodeID.
	Unicast Kind = iota
	// Broadcast addresses every synchronized neighbor on the slot's channel.
	Broadcast
)

// Peer is a tagged variant: either Unicast(id) or Broadcast.
type Peer struct {
	kind Kind
	id   NodeID
}

// ToNode returns a Unicast Peer addressing id.
func ToNode(id NodeID) Peer {
	return Peer{kind: Unicast, id: id}
}

// ToBroadcast returns the Broadcast Peer.
func ToBroadcast() Peer {
	return Peer{kind: Broadcast}
}

// IsBroadcast reports whether p addresses the broadcast domain.
func (p Peer) IsBroadcast() bool {
	return p.kind == Broadcast
}

// NodeID returns the addressed node id and true, or (0, false) if p is
// Broadcast.
func (p Peer) NodeID() (NodeID, bool) {
	if p.kind == Broadcast {
		return 0, false
	}
	return p.id, true
}

// Equal reports whether p and o address the same peer.
func (p Peer) Equal(o Peer) bool {
	return p.kind == o.kind && (p.kind == Broadcast || p.id == o.id)
}

// String implements fmt.Stringer.
func (p Peer) String() string {
	if p.kind == Broadcast {
		return "broadcast"
	}
	return fmt.Sprintf("node(%d)", p.id)
}
