// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package core

import (
	"github.com/hashicorp/go-hclog"
	"github.com/resourcetuner/urm/internal/applier"
	"github.com/resourcetuner/urm/internal/coco"
	"github.com/resourcetuner/urm/internal/structs"
)

// persistingCallbacks wraps another coco.Callbacks (in practice
// *applier.Registry) with the DefaultsFile bookkeeping spec.md §6
// calls for: a default is recorded the moment it's captured (so a
// crash right after means the next start still knows what to put
// back), and forgotten once a reset actually lands.
//
// Persistence I/O errors are logged, never surfaced to the caller —
// a failure to update the recovery file doesn't make the underlying
// apply/reset any less real, and the daemon would rather keep tuning
// than refuse requests because a disk write stumbled.
type persistingCallbacks struct {
	inner coco.Callbacks
	file  *DefaultsFile
	log   hclog.Logger
}

func newPersistingCallbacks(inner coco.Callbacks, file *DefaultsFile, log hclog.Logger) *persistingCallbacks {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &persistingCallbacks{inner: inner, file: file, log: log.Named("persist")}
}

func (p *persistingCallbacks) Apply(rc *structs.ResourceConfig, tgt coco.Target, resource *structs.Resource) error {
	return p.inner.Apply(rc, tgt, resource)
}

func (p *persistingCallbacks) Reset(rc *structs.ResourceConfig, tgt coco.Target, defaultValue string) error {
	if err := p.inner.Reset(rc, tgt, defaultValue); err != nil {
		return err
	}
	path, err := applier.Path(rc, tgt)
	if err != nil {
		return nil // nothing keyed in the defaults file for a target we can't path
	}
	if err := p.file.Forget(path); err != nil {
		p.log.Warn("forget persisted default failed", "path", path, "error", err)
	}
	return nil
}

func (p *persistingCallbacks) ReadCurrent(rc *structs.ResourceConfig, tgt coco.Target) (string, error) {
	val, err := p.inner.ReadCurrent(rc, tgt)
	if err != nil {
		return "", err
	}
	path, pathErr := applier.Path(rc, tgt)
	if pathErr != nil {
		return val, nil
	}
	if err := p.file.Record(path, val); err != nil {
		p.log.Warn("record persisted default failed", "path", path, "error", err)
	}
	return val, nil
}
