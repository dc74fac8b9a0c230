// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package applier implements C11, the Applier/Reset registry: the
// static map opcode -> (applier, reset) that spec.md §4.12 describes,
// populated at construction time by registration hooks rather than by
// init-time global side effects. internal/coco invokes this registry
// through the Callbacks interface but never reaches into sysfs itself
// (spec §1).
package applier

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/resourcetuner/urm/internal/coco"
	"github.com/resourcetuner/urm/internal/structs"
)

// ApplyFunc writes resource's winning value to path/tgt.
type ApplyFunc func(rc *structs.ResourceConfig, tgt coco.Target, resource *structs.Resource) error

// ResetFunc restores defaultValue to tgt.
type ResetFunc func(rc *structs.ResourceConfig, tgt coco.Target, defaultValue string) error

// Registry is C11. It implements coco.Callbacks and is the only thing
// in this module that touches sysfs/cgroupfs.
type Registry struct {
	mu       sync.RWMutex
	appliers map[string]ApplyFunc
	resets   map[string]ResetFunc
	log      hclog.Logger
}

// New builds a Registry with the default hooks named in spec §4.12
// already registered: global/cluster/core scalar writes and the
// common cgroup operations (move pid/tid, cpuset, partition isolate,
// CPU bandwidth, uclamp, memory limits).
func New(log hclog.Logger) *Registry {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	r := &Registry{
		appliers: make(map[string]ApplyFunc),
		resets:   make(map[string]ResetFunc),
		log:      log.Named("applier"),
	}
	r.registerDefaults()
	return r
}

// Register installs an applier and/or reset hook under id, overwriting
// any previous registration. Either func may be nil to leave the
// existing hook (if any) untouched, a convenience for callers that
// only want to override one side.
func (r *Registry) Register(id string, apply ApplyFunc, reset ResetFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if apply != nil {
		r.appliers[id] = apply
	}
	if reset != nil {
		r.resets[id] = reset
	}
}

// hookID resolves the registration-hook key for rc: an explicit
// ApplierID/ResetID from config wins; falling back to a name derived
// from Scope covers the common scalar case without requiring every
// resources.yaml entry to name a hook (spec §4.12 "default appliers
// exist for global/cluster/core scalar writes").
func hookID(explicit string, scope structs.ApplyScope) string {
	if explicit != "" {
		return explicit
	}
	return "scalar_" + scope.String()
}

// Apply implements coco.Callbacks.
func (r *Registry) Apply(rc *structs.ResourceConfig, tgt coco.Target, resource *structs.Resource) error {
	id := hookID(rc.ApplierID, rc.Scope)
	r.mu.RLock()
	fn, ok := r.appliers[id]
	r.mu.RUnlock()
	if !ok {
		metrics.IncrCounter([]string{"applier", "missing_hook"}, 1)
		return structs.NewError(structs.ErrCallbackFailed, "no applier registered for %q (opcode %#x)", id, rc.Opcode)
	}
	if err := fn(rc, tgt, resource); err != nil {
		metrics.IncrCounter([]string{"applier", "apply_failed"}, 1)
		r.log.Warn("apply failed", "opcode", rc.Opcode, "hook", id, "error", err)
		return structs.NewError(structs.ErrCallbackFailed, "%s: %v", id, err)
	}
	metrics.IncrCounter([]string{"applier", "apply_ok"}, 1)
	return nil
}

// Reset implements coco.Callbacks.
func (r *Registry) Reset(rc *structs.ResourceConfig, tgt coco.Target, defaultValue string) error {
	resetID := rc.ResetID
	if resetID == "" {
		resetID = rc.ApplierID
	}
	id := hookID(resetID, rc.Scope)
	r.mu.RLock()
	fn, ok := r.resets[id]
	r.mu.RUnlock()
	if !ok {
		metrics.IncrCounter([]string{"applier", "missing_hook"}, 1)
		return structs.NewError(structs.ErrCallbackFailed, "no reset registered for %q (opcode %#x)", id, rc.Opcode)
	}
	if err := fn(rc, tgt, defaultValue); err != nil {
		metrics.IncrCounter([]string{"applier", "reset_failed"}, 1)
		r.log.Warn("reset failed", "opcode", rc.Opcode, "hook", id, "error", err)
		return structs.NewError(structs.ErrCallbackFailed, "%s: %v", id, err)
	}
	metrics.IncrCounter([]string{"applier", "reset_ok"}, 1)
	return nil
}

// ReadCurrent implements coco.Callbacks. A live sysfs read is an
// enrichment, not a requirement (the Callbacks doc comment); this
// default simply trusts the cached default captured from config,
// falling back to a live read only when nothing was cached.
//
// Process-membership hooks (cgroup pid/tid move) have no scalar file
// content to capture as "the default" - the insert-time guard against
// caching an empty default (Design Notes §9) still applies, so these
// report a fixed non-empty sentinel rather than reading cgroup.procs.
func (r *Registry) ReadCurrent(rc *structs.ResourceConfig, tgt coco.Target) (string, error) {
	switch hookID(rc.ApplierID, rc.Scope) {
	case hookCGroupMovePid, hookCGroupMoveTid:
		return "unmoved", nil
	}
	if rc.CachedDefault != "" {
		return rc.CachedDefault, nil
	}
	path, err := nodePath(rc, tgt)
	if err != nil {
		return "", err
	}
	return readFile(path)
}

// Path resolves the sysfs/cgroupfs path rc/tgt would be written to.
// Exported so internal/core can key its persisted-defaults file off
// the same path nodePath computes internally, without duplicating the
// per-scope expansion logic.
func Path(rc *structs.ResourceConfig, tgt coco.Target) (string, error) {
	return nodePath(rc, tgt)
}

func nodePath(rc *structs.ResourceConfig, tgt coco.Target) (string, error) {
	switch tgt.Scope {
	case structs.ScopeGlobal:
		return rc.PathFormat, nil
	case structs.ScopeCluster, structs.ScopeCore:
		return fmt.Sprintf(rc.PathFormat, tgt.Instance), nil
	case structs.ScopeCGroup:
		if tgt.CGroupName == "" {
			return "", structs.NewError(structs.ErrBadRequest, "cgroup target carries no name for opcode %#x", rc.Opcode)
		}
		return fmt.Sprintf(rc.PathFormat, tgt.CGroupName), nil
	default:
		return "", structs.NewError(structs.ErrBadRequest, "unknown apply scope for opcode %#x", rc.Opcode)
	}
}
