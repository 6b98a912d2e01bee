// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package app

import (
	"github.com/tsch-sim/tschsim/internal/peer"
	"github.com/tsch-sim/tschsim/internal/simtime"
)

type vrbKey struct {
	source peer.NodeID
	tag    uint16
}

type vrbEntry struct {
	nextOffset   int
	lastActivity simtime.ASN
}

// VRBTable is the Virtual-Reassembly Buffer: per-hop streaming
// fragment-forwarding state, keyed by (source, tag), tracking only the
// next expected offset rather than buffering fragment contents (spec.md
// §3 "Virtual-Reassembly Buffer (VRB)", §4.8).
type VRBTable struct {
	maxEntries int
	entries    map[vrbKey]*vrbEntry
}

// NewVRBTable returns a table bounded to maxEntries in-flight forwards
// (maxVRBEntryNum).
func NewVRBTable(maxEntries int) *VRBTable {
	return &VRBTable{maxEntries: maxEntries, entries: make(map[vrbKey]*vrbEntry)}
}

// GetOrCreate returns the entry for (source, tag), creating one at
// nextOffset 0 if absent. ok is false if a new entry was needed but the
// table is full (caller counts droppedFragVRBTableFull).
func (v *VRBTable) GetOrCreate(source peer.NodeID, tag uint16, now simtime.ASN) (entry *vrbEntry, ok bool) {
	key := vrbKey{source: source, tag: tag}
	if e, exists := v.entries[key]; exists {
		return e, true
	}
	if len(v.entries) >= v.maxEntries {
		return nil, false
	}
	e := &vrbEntry{nextOffset: 0, lastActivity: now}
	v.entries[key] = e
	return e, true
}

// Delete removes the entry for (source, tag), if any.
func (v *VRBTable) Delete(source peer.NodeID, tag uint16) {
	delete(v.entries, vrbKey{source: source, tag: tag})
}

// Prune evicts entries idle for more than expiryASN.
func (v *VRBTable) Prune(now simtime.ASN, expiryASN int64) {
	for k, e := range v.entries {
		if int64(now)-int64(e.lastActivity) > expiryASN {
			delete(v.entries, k)
		}
	}
}

// Len reports the number of in-flight forwards.
func (v *VRBTable) Len() int { return len(v.entries) }
