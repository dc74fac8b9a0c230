// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package coco

import (
	"github.com/resourcetuner/urm/internal/structs"
)

// InsertResult reports what Insert did, for the dispatcher's logging
// and for tests asserting on the apply sequence (spec §8 scenarios).
type InsertResult struct {
	NodeIDs []uint64
	Applied []AppliedWrite
}

// AppliedWrite records one applier invocation, in the order they
// happened.
type AppliedWrite struct {
	Target Target
	Value  *structs.Resource
}

// Insert admits req into the table: every Resource is expanded across
// its apply-scope into one or more tunable instances (spec §4.7
// "Apply-scope expansion"), each becoming one CocoNode linked into
// that instance's priority list. Mode compatibility is checked first:
// if the current mode forbids req's mask, Insert fails with
// ErrModeIncompat and installs nothing.
func (t *Table) Insert(req *structs.Request, currentMode structs.Mode) (*InsertResult, error) {
	if req.ModeMask&currentMode.Mask() == 0 {
		return nil, structs.NewError(structs.ErrModeIncompat, "mode %s not in mask %#x", currentMode, req.ModeMask)
	}

	result := &InsertResult{}
	for _, res := range req.Resources {
		rc := t.reg.Lookup(res.Opcode)
		if rc == nil {
			return nil, structs.NewError(structs.ErrBadRequest, "unknown opcode %#x", res.Opcode)
		}
		targets, err := t.expand(rc, res)
		if err != nil {
			return nil, err
		}
		for _, tgt := range targets {
			id, applied, err := t.insertOne(rc, tgt, req, res)
			if err != nil {
				return nil, err
			}
			result.NodeIDs = append(result.NodeIDs, id)
			if applied != nil {
				result.Applied = append(result.Applied, *applied)
			}
		}
	}
	req.CocoNodeIDs = append(req.CocoNodeIDs, result.NodeIDs...)
	return result, nil
}

func (t *Table) keyFor(rc *structs.ResourceConfig, tgt Target) primaryKey {
	return primaryKey{Opcode: rc.Opcode, Instance: tgt.Instance, CGroupName: tgt.CGroupName}
}

// insertOne installs a single CocoNode for one expanded target and
// runs the currently-applied-selection algorithm of spec §4.7 steps
// 1-3.
func (t *Table) insertOne(rc *structs.ResourceConfig, tgt Target, req *structs.Request, res *structs.Resource) (uint64, *AppliedWrite, error) {
	key := t.keyFor(rc, tgt)
	st := t.state(key, tgt)
	idx := realIndex(req.Priority)
	c := &st.cells[idx]

	wasEmptyBefore := c.empty()
	wasNoneApplied := !st.hasApplied

	id := t.allocNodeID()
	n := &node{id: id, requestID: req.Handle, resource: res, key: key, secondary: req.Priority}
	t.nodes[id] = n

	before, becomesHead := t.insertPosition(c, rc.Policy, res)
	t.link(c, n, before, becomesHead)

	// Step 3: first occupant of a previously all-empty table captures
	// the on-disk default before anything is ever written.
	if wasEmptyBefore && wasNoneApplied {
		val, err := t.callbacks.ReadCurrent(rc, tgt)
		if err != nil {
			return id, nil, structs.NewError(structs.ErrCallbackFailed, "read default for %s: %v", rc.Name, err)
		}
		if val == "" {
			return id, nil, structs.NewError(structs.ErrBadRequest, "empty default captured for %s before first write", rc.Name)
		}
		st.hasDefault = true
		st.defaultVal = val
	}

	// Step 2: only reapply if this node is now in, or raises, the
	// winning bucket.
	moreImportant := wasNoneApplied || req.Priority.Rank() < st.appliedPriority.Rank()
	sameLevelNewHead := !wasNoneApplied && req.Priority == st.appliedPriority && c.headID == id
	if !moreImportant && !sameLevelNewHead {
		return id, nil, nil
	}

	winner := t.nodes[c.headID]
	write, err := t.applyIfChanged(rc, st, tgt, winner, req.Priority)
	if err != nil {
		return id, nil, err
	}
	return id, write, nil
}

// applyIfChanged invokes the applier when the computed winner differs
// from the cached applied value, and updates the cache.
func (t *Table) applyIfChanged(rc *structs.ResourceConfig, st *primaryState, tgt Target, winner *node, atPriority structs.Priority) (*AppliedWrite, error) {
	key := resourceValueKey(winner.resource)
	if st.hasApplied && st.appliedPriority == atPriority && st.appliedValueKey == key {
		return nil, nil
	}
	if err := t.callbacks.Apply(rc, tgt, winner.resource); err != nil {
		return nil, structs.NewError(structs.ErrCallbackFailed, "apply %s: %v", rc.Name, err)
	}
	st.hasApplied = true
	st.appliedPriority = atPriority
	st.appliedValueKey = key
	return &AppliedWrite{Target: tgt, Value: winner.resource}, nil
}

// link splices n into c, either before an existing node or appended at
// the tail.
func (t *Table) link(c *cell, n *node, before uint64, becomesHead bool) {
	if c.empty() {
		c.headID, c.tailID = n.id, n.id
		c.count = 1
		return
	}
	if becomesHead {
		old := t.nodes[c.headID]
		n.next, n.hasNext = old.id, true
		old.prev, old.hasPrev = n.id, true
		c.headID = n.id
		c.count++
		return
	}
	if before == 0 {
		// Append at tail.
		old := t.nodes[c.tailID]
		old.next, old.hasNext = n.id, true
		n.prev, n.hasPrev = old.id, true
		c.tailID = n.id
		c.count++
		return
	}
	// Insert before an interior node.
	target := t.nodes[before]
	n.next, n.hasNext = target.id, true
	if target.hasPrev {
		prev := t.nodes[target.prev]
		prev.next = n.id
		n.prev, n.hasPrev = prev.id, true
	} else {
		c.headID = n.id
	}
	target.prev, target.hasPrev = n.id, true
	c.count++
}
