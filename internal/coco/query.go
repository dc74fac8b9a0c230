// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package coco

import "github.com/resourcetuner/urm/internal/structs"

// AppliedValue reports the Resource currently considered "applied" for
// one expanded tunable instance, and whether anything is applied at
// all (false once the table has reset to default).
func (t *Table) AppliedValue(rc *structs.ResourceConfig, tgt Target) (*structs.Resource, bool) {
	key := t.keyFor(rc, tgt)
	st, ok := t.states[key]
	if !ok || !st.hasApplied {
		return nil, false
	}
	idx := realIndex(st.appliedPriority)
	head := st.cells[idx].headID
	n, ok := t.nodes[head]
	if !ok {
		return nil, false
	}
	return n.resource, true
}

// IsAtDefault reports whether instance's lists are entirely empty
// (the reset callback has run and nothing is currently applied).
func (t *Table) IsAtDefault(rc *structs.ResourceConfig, tgt Target) bool {
	key := t.keyFor(rc, tgt)
	st, ok := t.states[key]
	if !ok {
		return true
	}
	return !st.hasApplied
}

// NodeCount is the number of live CocoNodes across the whole table,
// used by the invariant check in spec §8 ("Timer count ==
// {active tune requests with duration != -1}" is verified alongside
// this in integration tests).
func (t *Table) NodeCount() int {
	return len(t.nodes)
}
