// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package ratelimit implements C3, the per-thread health model that
// gates admission, plus the global concurrent-tune gate from spec §4.3.
package ratelimit

import (
	lru "github.com/hashicorp/golang-lru/v2"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/resourcetuner/urm/internal/structs"
)

// ClientRegistry is the subset of clientreg.Registry the Rate Limiter
// needs, kept as an interface so the two packages don't import one
// another directly.
type ClientRegistry interface {
	HealthOf(tid int32) (float64, bool)
	SetHealth(tid int32, h float64) error
	LastTsOf(tid int32) (int64, bool)
	SetLastTs(tid int32, tsMS int64) error
}

// Config holds the three tunables of the health model (spec §4.3).
type Config struct {
	DeltaMS            int64   // Δ: minimum spacing between accepted requests
	Penalty            float64 // p: health deducted for requests arriving too fast
	Reward             float64 // r: health restored for well-spaced requests
	MaxConcurrentTunes int     // global admission gate ceiling
	IdleCacheSize      int     // bound on the LRU health-activity cache
}

// ActiveTuneCounter reports how many tune requests the Request
// Registry currently holds, for the global admission gate.
type ActiveTuneCounter func() int

// Limiter is C3.
type Limiter struct {
	cfg     Config
	clients ClientRegistry
	active  ActiveTuneCounter
	recent  *lru.Cache[int32, struct{}] // bounds memory for idle tids, doesn't affect decisions
}

// New builds a Limiter. cfg.IdleCacheSize <= 0 disables the bound
// (falls back to an effectively unbounded cache of size 1<<20).
func New(cfg Config, clients ClientRegistry, active ActiveTuneCounter) (*Limiter, error) {
	size := cfg.IdleCacheSize
	if size <= 0 {
		size = 1 << 20
	}
	cache, err := lru.New[int32, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Limiter{cfg: cfg, clients: clients, active: active, recent: cache}, nil
}

// Decision is the outcome of an admission attempt.
type Decision struct {
	Allowed bool
	Reason  structs.ErrorKind
}

// Admit evaluates one admission attempt for tid at time nowMS, per the
// exact health-model steps of spec §4.3. It does not itself enforce
// the global gate for non-tune requests; callers pass isNewTune=true
// only when evaluating a brand-new tune admission.
func (l *Limiter) Admit(tid int32, nowMS int64, isNewTune bool) Decision {
	l.recent.Add(tid, struct{}{})

	if isNewTune && l.cfg.MaxConcurrentTunes > 0 && l.active() >= l.cfg.MaxConcurrentTunes {
		metrics.IncrCounter([]string{"ratelimit", "reject", "capacity"}, 1)
		return Decision{Allowed: false, Reason: structs.ErrCapacity}
	}

	health, ok := l.clients.HealthOf(tid)
	if !ok {
		health = 100.0
	}
	if health <= 0 {
		metrics.IncrCounter([]string{"ratelimit", "reject", "sustained"}, 1)
		return Decision{Allowed: false, Reason: structs.ErrRateLimited}
	}

	lastTs, _ := l.clients.LastTsOf(tid)
	if lastTs != 0 {
		delta := nowMS - lastTs
		if delta < l.cfg.DeltaMS {
			health -= l.cfg.Penalty
		} else {
			health += l.cfg.Reward
			if health > 100 {
				health = 100
			}
		}
	}
	_ = l.clients.SetHealth(tid, health)

	if health <= 0 {
		metrics.IncrCounter([]string{"ratelimit", "reject", "health"}, 1)
		return Decision{Allowed: false, Reason: structs.ErrRateLimited}
	}

	_ = l.clients.SetLastTs(tid, nowMS)
	metrics.IncrCounter([]string{"ratelimit", "accept"}, 1)
	return Decision{Allowed: true}
}
