// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package coco

import "github.com/resourcetuner/urm/internal/structs"

// Target names one expanded tunable instance: which scope it came
// from, which physical instance (core id / cluster id / cgroup name
// id) it targets.
type Target struct {
	Scope      structs.ApplyScope
	Instance   int32
	CGroupName string
}

// Callbacks is C11, the Applier/Reset registry, as seen from C7. The
// core invokes these but never implements them (spec §1, §4.12);
// internal/applier supplies the concrete implementation wired at
// startup.
type Callbacks interface {
	// Apply writes resource's winning value to tgt. Called whenever the
	// computed winner for a tunable instance changes.
	Apply(rc *structs.ResourceConfig, tgt Target, resource *structs.Resource) error

	// Reset restores defaultValue to tgt. Called when the last
	// CocoNode referencing a tunable instance is removed.
	Reset(rc *structs.ResourceConfig, tgt Target, defaultValue string) error

	// ReadCurrent returns the value to capture as the default before
	// the first apply to tgt. Implementations may simply return
	// rc.CachedDefault; a live sysfs read is an enrichment, not a
	// requirement, since callbacks are a pluggable collaborator.
	ReadCurrent(rc *structs.ResourceConfig, tgt Target) (string, error)
}
