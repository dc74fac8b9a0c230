// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package coco implements C7, the CocoTable: per-resource, per-priority
// ordered lists that pick, for each tunable instance, a single
// "winning" value under the resource's declared policy.
//
// The table is owned exclusively by the single dispatcher goroutine
// (spec §5 "CocoTable: owned by the single dispatcher thread; no locks
// required for list mutation"); CocoNodes are arena-addressed by ID
// rather than pointer-linked, per the Design Notes' arena direction,
// so a Timer or the GC can reference one safely by posting its owning
// Request's handle through the Priority Queue instead of holding a raw
// pointer into table-owned memory.
package coco

import (
	"fmt"

	"github.com/resourcetuner/urm/internal/registry"
	"github.com/resourcetuner/urm/internal/structs"
)

// numPriorities is the count of *real* priority levels the table
// stores lists for. HighTransfer and ServerCleanup are Priority Queue
// concerns only; a synthesized untune still targets the real Request
// priority it is cancelling.
const numPriorities = 4

func realIndex(p structs.Priority) int {
	switch p {
	case structs.SystemHigh:
		return 0
	case structs.SystemLow:
		return 1
	case structs.ThirdPartyHigh:
		return 2
	case structs.ThirdPartyLow:
		return 3
	default:
		panic(fmt.Sprintf("coco: %s is not a real table priority", p))
	}
}

// primaryKey identifies one expanded tunable instance.
type primaryKey struct {
	Opcode     structs.Opcode
	Instance   int32
	CGroupName string
}

// node is one (Request, Resource) pair threaded into a
// (tunable-instance, priority) doubly linked list. Arena-addressed by
// ID, never pointer-addressed, so a Timer or the GC can reference one
// safely across goroutines by posting the owning Request's handle
// through the Priority Queue instead of holding a raw pointer into
// table-owned memory (Design Notes §9).
type node struct {
	id        uint64
	requestID int64 // owning Request's Handle
	resource  *structs.Resource

	key       primaryKey
	secondary structs.Priority

	prev, next       uint64
	hasPrev, hasNext bool
}

type cell struct {
	headID, tailID uint64
	count          int
}

func (c *cell) empty() bool { return c.count == 0 }

// primaryState is everything the table tracks for one tunable
// instance: its four priority lists plus the currently-applied cache
// and captured default (spec §3 "CocoTable shape").
type primaryState struct {
	cells [numPriorities]cell

	hasApplied      bool
	appliedPriority structs.Priority
	appliedValueKey string // stable string form of the applied Resource, for no-op detection

	hasDefault bool
	defaultVal string

	target Target
}

// Table is C7.
type Table struct {
	reg       *registry.Registry
	callbacks Callbacks

	nodes  map[uint64]*node
	nextID uint64
	states map[primaryKey]*primaryState
}

// New builds an empty Table.
func New(reg *registry.Registry, callbacks Callbacks) *Table {
	return &Table{
		reg:       reg,
		callbacks: callbacks,
		nodes:     make(map[uint64]*node),
		states:    make(map[primaryKey]*primaryState),
	}
}

func (t *Table) allocNodeID() uint64 {
	t.nextID++
	return t.nextID
}

func (t *Table) state(key primaryKey, tgt Target) *primaryState {
	st, ok := t.states[key]
	if !ok {
		st = &primaryState{target: tgt}
		t.states[key] = st
	}
	return st
}

func resourceValueKey(r *structs.Resource) string {
	return fmt.Sprintf("%v", r.Values)
}
