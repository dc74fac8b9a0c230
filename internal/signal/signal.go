// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package signal implements the peer Signal subsystem named in
// SPEC_FULL.md §9 (supplemented feature, grounded on
// Signals/SignalServerRequests.cpp and contextual-classifier/): a
// parallel request type keyed by (signal_code, app_name, scenario)
// rather than by opcode, resolved by "last relay wins, ref-counted
// release" instead of the full CocoTable policy engine. Acquire/
// Release translate into ordinary tune/untune submissions against the
// same dispatcher pipeline every client request goes through; Relay
// never touches the CocoTable at all, mirroring the original's
// SIGNAL_RELAY branch (a notify-only fan-out to subscribed features).
package signal

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/resourcetuner/urm/internal/structs"
)

// Config is one signal's registered descriptor, the Signal-config YAML
// analogue of a ResourceConfig: the fixed resource list an Acquire
// resolves to, and the default duration used when a client doesn't
// specify one (spec's "use the default duration... from the Signal
// Configs file").
type Config struct {
	SignalCode uint32
	Resources  []*structs.Resource
	DefaultMS  int64
	Permission structs.Permission
}

// Submitter is the subset of the Dispatcher's ingress surface the
// Signal subsystem drives. Kept as an interface, duck-typed against
// *dispatch.Dispatcher, so this package never imports internal/dispatch
// (which holds a Handler through the SignalHandler interface instead -
// the same mutual-peer shape ratelimit.Limiter/clientreg.Registry use).
type Submitter interface {
	SubmitTune(f *structs.TuneFrame) (int64, error)
	SubmitUntune(f *structs.UntuneFrame) error
}

// TrustFunc resolves a pid's trust level.
type TrustFunc func(pid int32) (structs.TrustLevel, bool)

type key struct {
	signalCode uint32
	appName    string
	scenario   string
}

// acquisition tracks one live (signal, app, scenario) grant: the
// tune handle it resolved to in the shared Priority Queue pipeline,
// and how many overlapping Acquire calls are currently holding it.
type acquisition struct {
	handle   int64
	refcount int
}

// Handler is the concrete dispatch.SignalHandler.
type Handler struct {
	mu        sync.Mutex
	configs   map[uint32]*Config
	live      map[key]*acquisition
	lastRelay map[key]uint32 // last relay's Args[0] per (code, app, scenario), "last relay wins"

	submit Submitter
	trust  TrustFunc
	log    hclog.Logger
}

// New builds a Handler over the given signal configs.
func New(configs []*Config, submit Submitter, trust TrustFunc, log hclog.Logger) *Handler {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if trust == nil {
		trust = func(int32) (structs.TrustLevel, bool) { return structs.TrustThirdParty, false }
	}
	h := &Handler{
		configs:   make(map[uint32]*Config, len(configs)),
		live:      make(map[key]*acquisition),
		lastRelay: make(map[key]uint32),
		submit:    submit,
		trust:     trust,
		log:       log.Named("signal"),
	}
	for _, c := range configs {
		h.configs[c.SignalCode] = c
	}
	return h
}

func keyOf(f *structs.SignalFrame) key {
	return key{signalCode: f.SignalCode, appName: f.AppName, scenario: f.Scenario}
}

// Acquire implements dispatch.SignalHandler. A second Acquire for the
// same (signal, app, scenario) while one is already live just bumps
// the refcount rather than submitting a second tune - overlapping
// acquisitions of the same signal share one underlying grant.
func (h *Handler) Acquire(f *structs.SignalFrame) error {
	cfg, ok := h.configs[f.SignalCode]
	if !ok {
		return structs.NewError(structs.ErrBadRequest, "unknown signal code %#x", f.SignalCode)
	}
	if cfg.Permission == structs.PermSystem {
		if trust, _ := h.trust(f.Pid); trust != structs.TrustSystem {
			return structs.NewError(structs.ErrBadRequest, "signal %#x requires system trust", f.SignalCode)
		}
	}

	k := keyOf(f)
	h.mu.Lock()
	if acq, exists := h.live[k]; exists {
		acq.refcount++
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	handle, err := h.submit.SubmitTune(&structs.TuneFrame{
		DurationMS: cfg.DefaultMS,
		Properties: structs.EncodeProperties(structs.ClientHigh, structs.ModeResume),
		Pid:        f.Pid,
		Tid:        f.Tid,
		Resources:  cfg.Resources,
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.live[k] = &acquisition{handle: handle, refcount: 1}
	h.mu.Unlock()
	return nil
}

// Release implements dispatch.SignalHandler: decrements the refcount
// and only untunes once the last holder has released.
func (h *Handler) Release(f *structs.SignalFrame) error {
	k := keyOf(f)
	h.mu.Lock()
	acq, exists := h.live[k]
	if !exists {
		h.mu.Unlock()
		return nil
	}
	acq.refcount--
	if acq.refcount > 0 {
		h.mu.Unlock()
		return nil
	}
	delete(h.live, k)
	h.mu.Unlock()

	// pid == 0: this untune isn't attributed to a specific client pid
	// (the release may come from a different thread than the acquire);
	// relies on SubmitUntune/handleUntune's f.Pid == 0 ownership-check
	// bypass for internally synthesized untunes.
	return h.submit.SubmitUntune(&structs.UntuneFrame{Handle: acq.handle})
}

// Relay implements dispatch.SignalHandler. Relay never reaches the
// CocoTable; it only records the latest relayed value per
// (signal, app, scenario), "last relay wins" (the original's
// SIGNAL_RELAY handler fans this out to subscribed features with no
// CocoTable interaction of its own).
func (h *Handler) Relay(f *structs.SignalFrame) error {
	if _, ok := h.configs[f.SignalCode]; !ok {
		return structs.NewError(structs.ErrBadRequest, "unknown signal code %#x", f.SignalCode)
	}
	var v uint32
	if len(f.Args) > 0 {
		v = f.Args[0]
	}
	h.mu.Lock()
	h.lastRelay[keyOf(f)] = v
	h.mu.Unlock()
	return nil
}

// LastRelay reports the most recently relayed value for a
// (signal, app, scenario), and whether one has ever been relayed.
func (h *Handler) LastRelay(signalCode uint32, appName, scenario string) (uint32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.lastRelay[key{signalCode: signalCode, appName: appName, scenario: scenario}]
	return v, ok
}
