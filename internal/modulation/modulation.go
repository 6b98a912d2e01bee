// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package modulation implements the Modulation external collaborator
// (spec.md §6): per-MCS slot counts and the set of modulations allowed
// under a given configuration, plus the minimal-cell modulation used for
// bootstrap broadcast cells.
//
// The lookup-table-with-accessor-methods shape is grounded on
// tve-devices/sx1231/registers.go, which models a radio's register map the
// same way: constant tables indexed by a small code, with typed accessor
// functions instead of reflection or runtime parsing.
package modulation

import "fmt"

// MCS identifies a modulation and coding scheme.
type MCS int

// Config identifies a named modulation configuration set (spec.md §6
// individualModulations / modulationConfig).
type Config string

const (
	// ConfigSingleSlot is the default: every cell occupies exactly one
	// timeslot regardless of MCS (individualModulations=false).
	ConfigSingleSlot Config = "single-slot"
	// ConfigOFDMMCS is a representative multi-slot IEEE 802.15.4g OFDM MCS
	// table (individualModulations=true).
	ConfigOFDMMCS Config = "ofdm-mcs"
)

// slotTable maps (config, mcs) -> number of timeslots a cell using that MCS
// occupies. Single-slot configs always resolve to 1 via Slots' fallback.
var slotTable = map[Config]map[MCS]int{
	ConfigOFDMMCS: {
		0: 4, // MCS0: most robust, most slots
		1: 3,
		2: 2,
		3: 2,
		4: 1,
		5: 1, // MCS5: least robust, fastest
	},
}

// allowedTable enumerates which MCS values are usable under a config.
var allowedTable = map[Config]map[MCS]bool{
	ConfigOFDMMCS: {0: true, 1: true, 2: true, 3: true, 4: true, 5: true},
}

// minimalCellTable gives the MCS used for minimal (bootstrap, shared,
// broadcast) cells under a config: always the most robust MCS.
var minimalCellTable = map[Config]MCS{
	ConfigOFDMMCS: 0,
}

// Table exposes the three Modulation collaborator lookups named in
// spec.md §6.
type Table struct {
	config Config
}

// NewTable returns a Table for the given configuration. An unknown config
// falls back to ConfigSingleSlot.
func NewTable(config Config) *Table {
	if config == "" {
		config = ConfigSingleSlot
	}
	return &Table{config: config}
}

// Config returns the table's configuration.
func (t *Table) Config() Config {
	return t.config
}

// Slots returns modulationSlots[config][mcs]: the number of consecutive
// timeslots a cell at this MCS occupies. Defaults to 1 for
// ConfigSingleSlot or an unrecognized (config, mcs) pair.
func (t *Table) Slots(mcs MCS) int {
	if m, ok := slotTable[t.config]; ok {
		if n, ok := m[mcs]; ok {
			return n
		}
	}
	return 1
}

// Allowed returns allowedModulations[config]: the set of MCS values usable
// under this configuration.
func (t *Table) Allowed() map[MCS]bool {
	if m, ok := allowedTable[t.config]; ok {
		return m
	}
	return map[MCS]bool{0: true}
}

// MinimalCellModulation returns minimalCellModulation[config]: the MCS used
// for bootstrap shared/broadcast cells.
func (t *Table) MinimalCellModulation() MCS {
	if mcs, ok := minimalCellTable[t.config]; ok {
		return mcs
	}
	return 0
}

// ValidateSpan reports whether a multi-slot cell starting at timeslot ts
// with this MCS fits within a slotframe of the given length without
// straddling the boundary (spec.md §8 boundary behavior).
func (t *Table) ValidateSpan(ts, slotframeLength int, mcs MCS) error {
	n := t.Slots(mcs)
	if ts+n > slotframeLength {
		return fmt.Errorf("modulation: cell at ts=%d mcs=%d (span=%d) straddles slotframe boundary (length=%d)",
			ts, mcs, n, slotframeLength)
	}
	return nil
}
