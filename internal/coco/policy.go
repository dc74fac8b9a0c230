// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package coco

import "github.com/resourcetuner/urm/internal/structs"

// scalarOf returns the comparison value a policy orders by: the first
// element of Values, whatever the resource's Count; ok is false only
// when Values is empty. For a cgroup-scope resource that element is
// the cgroup id, which every node in one list shares, so those nodes
// tie and keep arrival order.
func scalarOf(r *structs.Resource) (int32, bool) {
	if len(r.Values) == 0 {
		return 0, false
	}
	return r.Values[0], true
}

// insertPosition walks the (primary, secondary) list described by
// head/tail/count and returns the node ID this new node should be
// linked *before*, and whether it becomes the new head. (0, false)
// means "append at tail"; an empty list returns becomesHead true.
//
// Ordering per resource Policy (spec §4.7):
//   - instant_apply: newest-first at head.
//   - higher_is_better: descending value, ties FIFO.
//   - lower_is_better: ascending value, ties FIFO.
//   - lazy_apply: FIFO at tail (oldest at head).
func (t *Table) insertPosition(c *cell, policy structs.Policy, newNode *structs.Resource) (before uint64, becomesHead bool) {
	if c.empty() {
		return 0, true
	}

	switch policy {
	case structs.PolicyInstantApply:
		return c.headID, true
	case structs.PolicyLazyApply:
		return 0, false // append at tail, FIFO
	case structs.PolicyHigherIsBetter, structs.PolicyLowerIsBetter:
		newVal, ok := scalarOf(newNode)
		if !ok {
			return 0, false
		}
		cur := c.headID
		first := true
		for {
			n := t.nodes[cur]
			curVal, _ := scalarOf(n.resource)
			better := false
			if policy == structs.PolicyHigherIsBetter {
				better = newVal > curVal
			} else {
				better = newVal < curVal
			}
			if better {
				return cur, first
			}
			if !n.hasNext {
				return 0, false // append at tail: every existing node is equal-or-better, FIFO keeps arrival order
			}
			cur = n.next
			first = false
		}
	default:
		return 0, false
	}
}
