// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package coco

import "github.com/resourcetuner/urm/internal/structs"

// RemoveResult mirrors InsertResult for symmetry in tests and logs.
type RemoveResult struct {
	Applied []AppliedWrite
	Reset   []Target
}

// Remove unlinks every CocoNode referenced by nodeIDs (a Request's
// CocoNodeIDs) and recomputes winners per spec §4.7 "On remove of N".
func (t *Table) Remove(nodeIDs []uint64) (*RemoveResult, error) {
	result := &RemoveResult{}
	for _, id := range nodeIDs {
		n, ok := t.nodes[id]
		if !ok {
			continue // already gone; removal is idempotent
		}
		key := n.key
		st := t.states[key]
		idx := realIndex(n.secondary)
		c := &st.cells[idx]

		wasHead := c.headID == n.id
		t.unlink(c, n)
		delete(t.nodes, id)

		rc := t.reg.Lookup(key.Opcode)
		if rc == nil {
			continue // config was removed underneath us; nothing left to write
		}

		if !wasHead {
			continue // head/winner unaffected by removing an interior/tail node
		}

		if !c.empty() {
			// New head within the same priority is the new in-level
			// candidate; only reapply if this priority is still the cap.
			if st.appliedPriority == n.secondary {
				winner := t.nodes[c.headID]
				write, err := t.applyIfChanged(rc, st, st.target, winner, n.secondary)
				if err != nil {
					return nil, err
				}
				if write != nil {
					result.Applied = append(result.Applied, *write)
				}
			}
			continue
		}

		// This priority's list is now empty. If it wasn't the cap,
		// nothing else changes.
		if st.appliedPriority != n.secondary {
			continue
		}

		// Scan priorities from highest to lowest for the new cap.
		newWinnerIdx, found := t.highestNonEmpty(st)
		if !found {
			if err := t.callbacks.Reset(rc, st.target, st.defaultVal); err != nil {
				return nil, structs.NewError(structs.ErrCallbackFailed, "reset %s: %v", rc.Name, err)
			}
			result.Reset = append(result.Reset, st.target)
			st.hasApplied = false
			st.appliedValueKey = ""
			st.hasDefault = false
			st.defaultVal = ""
			continue
		}

		newPriority := indexToPriority(newWinnerIdx)
		winner := t.nodes[st.cells[newWinnerIdx].headID]
		write, err := t.applyIfChanged(rc, st, st.target, winner, newPriority)
		if err != nil {
			return nil, err
		}
		if write != nil {
			result.Applied = append(result.Applied, *write)
		}
	}
	return result, nil
}

func (t *Table) highestNonEmpty(st *primaryState) (int, bool) {
	for i := 0; i < numPriorities; i++ {
		if !st.cells[i].empty() {
			return i, true
		}
	}
	return 0, false
}

func indexToPriority(idx int) structs.Priority {
	switch idx {
	case 0:
		return structs.SystemHigh
	case 1:
		return structs.SystemLow
	case 2:
		return structs.ThirdPartyHigh
	default:
		return structs.ThirdPartyLow
	}
}

func (t *Table) unlink(c *cell, n *node) {
	if n.hasPrev {
		prev := t.nodes[n.prev]
		prev.next, prev.hasNext = n.next, n.hasNext
	} else {
		if n.hasNext {
			c.headID = n.next
		}
	}
	if n.hasNext {
		next := t.nodes[n.next]
		next.prev, next.hasPrev = n.prev, n.hasPrev
	} else {
		if n.hasPrev {
			c.tailID = n.prev
		}
	}
	c.count--
	if c.count == 0 {
		c.headID, c.tailID = 0, 0
	}
}
