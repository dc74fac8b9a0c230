// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package applier

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/resourcetuner/urm/internal/coco"
	"github.com/resourcetuner/urm/internal/structs"
)

// Hook ids for the non-scalar resources named in spec §4.12. Scalar
// global/cluster/core hooks are named by hookID's scope fallback
// ("scalar_global" etc.) and never need an explicit id in config.
const (
	hookCGroupDefault       = "cgroup_default"
	hookCGroupMovePid       = "cgroup_move_pid"
	hookCGroupMoveTid       = "cgroup_move_tid"
	hookRunOnCores          = "run_on_cores"
	hookRunOnCoresExclusive = "run_on_cores_exclusively"
	hookCPUBandwidth        = "cpu_bandwidth"
	hookUclampMin           = "uclamp_min"
	hookUclampMax           = "uclamp_max"
	hookMemoryLimit         = "memory_limit"
)

func (r *Registry) registerDefaults() {
	// Scalar global/cluster/core writes (spec §4.12): every value the
	// client supplies is a single int, written as-is.
	for _, scope := range []structs.ApplyScope{structs.ScopeGlobal, structs.ScopeCluster, structs.ScopeCore} {
		r.Register(hookID("", scope), scalarApply, genericReset)
	}

	r.Register(hookCGroupDefault, cgroupScalarApply, genericReset)
	r.Register(hookUclampMin, cgroupScalarApply, genericReset)
	r.Register(hookUclampMax, cgroupScalarApply, genericReset)
	r.Register(hookMemoryLimit, cgroupScalarApply, genericReset)
	r.Register(hookCPUBandwidth, cpuBandwidthApply, genericReset)
	r.Register(hookRunOnCores, runOnCoresApply, runOnCoresReset)
	r.Register(hookRunOnCoresExclusive, runOnCoresExclusiveApply, runOnCoresExclusiveReset)
	r.Register(hookCGroupMovePid, cgroupMovePidApply, cgroupMoveReset)
	r.Register(hookCGroupMoveTid, cgroupMoveTidApply, cgroupMoveReset)
}

// scalarApply writes resource.Values[0] to the global/cluster/core
// sysfs node named by rc.PathFormat, expanded over tgt (spec §4.12,
// grounded on ResourceHooks.cpp's defaultGlobal/Cluster/CoreLevelApplierCb).
func scalarApply(rc *structs.ResourceConfig, tgt coco.Target, resource *structs.Resource) error {
	if len(resource.Values) == 0 {
		return structs.NewError(structs.ErrBadRequest, "resource %#x carries no value", rc.Opcode)
	}
	path, err := nodePath(rc, tgt)
	if err != nil {
		return err
	}
	return writeFile(path, strconv.Itoa(int(resource.Values[0])))
}

// genericReset restores defaultValue to the node path. Shared by every
// hook whose apply side is a plain single-value write.
func genericReset(rc *structs.ResourceConfig, tgt coco.Target, defaultValue string) error {
	path, err := nodePath(rc, tgt)
	if err != nil {
		return err
	}
	return writeFile(path, defaultValue)
}

// cgroupScalarApply covers the cGroupDefaultApplyCallback family:
// Values is [cgroup_id, value]; tgt.CGroupName is already resolved by
// coco's apply-scope expansion, so only the value needs writing.
func cgroupScalarApply(rc *structs.ResourceConfig, tgt coco.Target, resource *structs.Resource) error {
	if len(resource.Values) != 2 {
		return structs.NewError(structs.ErrBadRequest, "cgroup resource %#x wants [cgroup_id, value], got %d values", rc.Opcode, len(resource.Values))
	}
	path, err := nodePath(rc, tgt)
	if err != nil {
		return err
	}
	return writeFile(path, strconv.Itoa(int(resource.Values[1])))
}

// cpuBandwidthApply writes the cpu.max-style "<quota> <period>" pair
// (Values = [cgroup_id, max_usage_us, period_us]), grounded on
// ResourceHooks.cpp's limitCpuTime.
func cpuBandwidthApply(rc *structs.ResourceConfig, tgt coco.Target, resource *structs.Resource) error {
	if len(resource.Values) != 3 {
		return structs.NewError(structs.ErrBadRequest, "cpu bandwidth resource %#x wants [cgroup_id, quota_us, period_us], got %d values", rc.Opcode, len(resource.Values))
	}
	path, err := nodePath(rc, tgt)
	if err != nil {
		return err
	}
	quota, period := resource.Values[1], resource.Values[2]
	return writeFile(path, strconv.Itoa(int(quota))+" "+strconv.Itoa(int(period)))
}

// runOnCoresApply writes a comma-joined cpu list to cpuset.cpus
// (Values = [cgroup_id, core...]), grounded on setRunOnCores.
func runOnCoresApply(rc *structs.ResourceConfig, tgt coco.Target, resource *structs.Resource) error {
	path, err := nodePath(rc, tgt)
	if err != nil {
		return err
	}
	cpus, err := coreList(rc, resource)
	if err != nil {
		return err
	}
	return writeFile(path, cpus)
}

func runOnCoresReset(rc *structs.ResourceConfig, tgt coco.Target, defaultValue string) error {
	path, err := nodePath(rc, tgt)
	if err != nil {
		return err
	}
	return writeFile(path, defaultValue)
}

// runOnCoresExclusiveApply additionally partitions the cgroup's cpuset
// into an isolated scheduling domain (cpuset.cpus.partition), grounded
// on setRunOnCoresExclusively. The partition write happens only after
// the cpu list lands, matching the original's ordering - partitioning
// before the cpu list is assigned would isolate an empty set.
func runOnCoresExclusiveApply(rc *structs.ResourceConfig, tgt coco.Target, resource *structs.Resource) error {
	path, err := nodePath(rc, tgt)
	if err != nil {
		return err
	}
	cpus, err := coreList(rc, resource)
	if err != nil {
		return err
	}
	if err := writeFile(path, cpus); err != nil {
		return err
	}
	return writeFile(partitionPath(path), "isolated")
}

// runOnCoresExclusiveReset uncordons the partition before restoring
// the cpuset's default membership, the reverse order of apply.
func runOnCoresExclusiveReset(rc *structs.ResourceConfig, tgt coco.Target, defaultValue string) error {
	path, err := nodePath(rc, tgt)
	if err != nil {
		return err
	}
	if err := writeFile(partitionPath(path), "member"); err != nil {
		return err
	}
	return writeFile(path, defaultValue)
}

func partitionPath(cpusetCpusPath string) string {
	return filepath.Join(filepath.Dir(cpusetCpusPath), "cpuset.cpus.partition")
}

func coreList(rc *structs.ResourceConfig, resource *structs.Resource) (string, error) {
	if len(resource.Values) < 2 {
		return "", structs.NewError(structs.ErrBadRequest, "run_on_cores resource %#x wants [cgroup_id, core...], got %d values", rc.Opcode, len(resource.Values))
	}
	parts := make([]string, 0, len(resource.Values)-1)
	for _, v := range resource.Values[1:] {
		parts = append(parts, strconv.Itoa(int(v)))
	}
	return strings.Join(parts, ","), nil
}

// cgroupMovePidApply moves a process into the target cgroup by
// appending its pid to the cgroup's cgroup.procs (Values = [cgroup_id,
// pid]), grounded on cGroupRegistration.cpp's move hooks. Tid moves
// use the identical mechanism: cgroupfs has no separate thread-move
// file outside the cgroup's own cgroup.procs/cgroup.threads split,
// which the config's PathFormat selects.
func cgroupMovePidApply(rc *structs.ResourceConfig, tgt coco.Target, resource *structs.Resource) error {
	return cgroupMoveApply(rc, tgt, resource)
}

func cgroupMoveTidApply(rc *structs.ResourceConfig, tgt coco.Target, resource *structs.Resource) error {
	return cgroupMoveApply(rc, tgt, resource)
}

func cgroupMoveApply(rc *structs.ResourceConfig, tgt coco.Target, resource *structs.Resource) error {
	if len(resource.Values) != 2 {
		return structs.NewError(structs.ErrBadRequest, "cgroup move resource %#x wants [cgroup_id, pid], got %d values", rc.Opcode, len(resource.Values))
	}
	path, err := nodePath(rc, tgt)
	if err != nil {
		return err
	}
	return appendFile(path, strconv.Itoa(int(resource.Values[1])))
}

// cgroupMoveReset moves nothing back by pid (Reset is not handed the
// Resource that carried the pid, only the captured default - see
// Callbacks.Reset). Per Design Notes §9 this hook is a documented
// no-op: by the time the last reference to a moved process's cgroup
// slot is removed, the process has either exited (reaped by the
// Pulse Monitor/Handle GC) or been moved again by a later request, so
// there is nothing meaningful left to move back to root.
func cgroupMoveReset(rc *structs.ResourceConfig, tgt coco.Target, defaultValue string) error {
	return nil
}
