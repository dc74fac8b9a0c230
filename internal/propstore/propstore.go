// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package propstore implements the Prop get/set peer named in
// SPEC_FULL.md §9 (supplemented feature, grounded on
// ResourceTunerAPIs.cpp's getProp/setProp): a small string-keyed store
// consulted by the dispatcher for PropGet/PropSet messages, seeded
// from the properties YAML at startup.
package propstore

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/resourcetuner/urm/internal/structs"
)

// Def is one property's config-time descriptor: its seeded default
// and the trust level required to change it. Props never named by
// config may still be set at runtime (treated as PermThirdParty, no
// restriction) — this store doesn't require every prop a client might
// invent to be pre-declared.
type Def struct {
	Name       string
	Default    string
	Permission structs.Permission
}

// TrustFunc resolves the trust level of a pid, the same shape
// clientreg.Registry.TrustOf exposes, kept as a function type so this
// package doesn't need to import clientreg directly.
type TrustFunc func(pid int32) (structs.TrustLevel, bool)

// Store is the concrete propstore.PropStore the dispatcher talks to.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
	defs   map[string]*Def
	trust  TrustFunc
	log    hclog.Logger
}

// New builds a Store seeded with defs' default values.
func New(defs []*Def, trust TrustFunc, log hclog.Logger) *Store {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if trust == nil {
		trust = func(int32) (structs.TrustLevel, bool) { return structs.TrustThirdParty, false }
	}
	s := &Store{
		values: make(map[string]string, len(defs)),
		defs:   make(map[string]*Def, len(defs)),
		trust:  trust,
		log:    log.Named("propstore"),
	}
	for _, d := range defs {
		s.defs[d.Name] = d
		s.values[d.Name] = d.Default
	}
	return s
}

// Get implements dispatch.PropStore. An unset prop returns fallback
// rather than an error - props are advisory, read by clients that
// tolerate a missing value.
func (s *Store) Get(prop, fallback string, pid, tid int32) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[prop]; ok {
		return v, nil
	}
	return fallback, nil
}

// Set implements dispatch.PropStore. A prop registered with
// PermSystem may only be changed by a system-trust pid; an
// unregistered prop may be set freely.
func (s *Store) Set(prop, value string, pid, tid int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if def, ok := s.defs[prop]; ok && def.Permission == structs.PermSystem {
		trust, _ := s.trust(pid)
		if trust != structs.TrustSystem {
			return structs.NewError(structs.ErrBadRequest, "prop %q requires system trust", prop)
		}
	}
	s.values[prop] = value
	s.log.Debug("prop set", "prop", prop, "pid", pid, "tid", tid)
	return nil
}
