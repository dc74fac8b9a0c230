// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package coco

import "github.com/resourcetuner/urm/internal/structs"

// expandAll is the Info == -1 sentinel meaning "every instance of this
// scope", e.g. a cluster-scope resource with no pinned cluster.
const expandAll int32 = -1

// expand performs the apply-scope expansion of spec §4.7: a global
// resource yields one Target, cluster/core yield one Target per pinned
// instance (or every instance, when unpinned), cgroup uses the cgroup
// id packed in the request's Values.
func (t *Table) expand(rc *structs.ResourceConfig, res *structs.Resource) ([]Target, error) {
	switch rc.Scope {
	case structs.ScopeGlobal:
		return []Target{{Scope: structs.ScopeGlobal, Instance: 0}}, nil

	case structs.ScopeCluster:
		topo := t.reg.Topology()
		if res.Info != expandAll {
			if res.Info < 0 || res.Info >= int32(topo.ClusterCount()) {
				return nil, structs.NewError(structs.ErrBadRequest, "unknown cluster %d", res.Info)
			}
			return []Target{{Scope: structs.ScopeCluster, Instance: res.Info}}, nil
		}
		targets := make([]Target, topo.ClusterCount())
		for i := range targets {
			targets[i] = Target{Scope: structs.ScopeCluster, Instance: int32(i)}
		}
		return targets, nil

	case structs.ScopeCore:
		topo := t.reg.Topology()
		if res.Info != expandAll {
			if !topo.HasCore(res.Info) {
				return nil, structs.NewError(structs.ErrBadRequest, "unknown core %d", res.Info)
			}
			return []Target{{Scope: structs.ScopeCore, Instance: res.Info}}, nil
		}
		var targets []Target
		for _, cluster := range topo.Clusters {
			for _, core := range cluster {
				targets = append(targets, Target{Scope: structs.ScopeCore, Instance: int32(core)})
			}
		}
		return targets, nil

	case structs.ScopeCGroup:
		if len(res.Values) == 0 {
			return nil, structs.NewError(structs.ErrBadRequest, "cgroup resource %#x carries no cgroup id", rc.Opcode)
		}
		cgID := res.Values[0]
		cg := t.reg.CGroup(cgID)
		if cg == nil {
			return nil, structs.NewError(structs.ErrBadRequest, "unknown cgroup id %d", cgID)
		}
		return []Target{{Scope: structs.ScopeCGroup, Instance: cgID, CGroupName: cg.Name}}, nil

	default:
		return nil, structs.NewError(structs.ErrBadRequest, "unknown apply scope for opcode %#x", rc.Opcode)
	}
}
