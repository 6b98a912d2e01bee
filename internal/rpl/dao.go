// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package rpl

import "github.com/tsch-sim/tschsim/internal/peer"

// DAOTable is the root's accumulated {node -> preferred parent} mapping,
// built from received DAOs, used to derive downward source routes
// (spec.md §4.5 "DAO" / "Source route").
type DAOTable struct {
	parents map[peer.NodeID]peer.NodeID
}

// NewDAOTable returns an empty DAOTable.
func NewDAOTable() *DAOTable {
	return &DAOTable{parents: make(map[peer.NodeID]peer.NodeID)}
}

// Record stores (or updates) node's preferred parent as reported by a DAO.
func (t *DAOTable) Record(node, parent peer.NodeID) {
	t.parents[node] = parent
}

// Forget removes node's entry, e.g. once it is known to have switched
// parents and a stale route would otherwise loop.
func (t *DAOTable) Forget(node peer.NodeID) {
	delete(t.parents, node)
}

// SourceRoute walks the parents map from dst back to the root and returns
// the hop list root-to-dst, i.e. the reversed parent chain, ready to be
// used verbatim as a hop-by-hop stack on a downward frame (spec.md §4.5
// "Source route").
//
// A dst with no recorded parent (no DAO seen yet) yields the one-hop route
// [dst]. Returns ok=false only for a cycle in the parent map, detected by
// bounding the walk to len(parents)+1 hops.
func (t *DAOTable) SourceRoute(dst peer.NodeID) ([]peer.NodeID, bool) {
	var chain []peer.NodeID
	cur := dst
	limit := len(t.parents) + 1
	for n := 0; n < limit; n++ {
		chain = append(chain, cur)
		parent, ok := t.parents[cur]
		if !ok {
			return reversed(chain), true
		}
		cur = parent
	}
	return nil, false
}

func reversed(ns []peer.NodeID) []peer.NodeID {
	out := make([]peer.NodeID, len(ns))
	for i, n := range ns {
		out[len(ns)-1-i] = n
	}
	return out
}
