// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/resourcetuner/urm/internal/structs"
	"gopkg.in/yaml.v2"
)

// resourceYAML mirrors one entry of ResourcesConfig.yaml
// (original_source/Core/Framework/Include/ConfigProcessor.h's
// documented layout). ApplierID/ResetID are a Go-native extension: the
// original dispatches by a hardcoded opcode switch
// (RESTUNE_REGISTER_APPLIER_CB(opcode, cb)); this port lets a config
// author name a hook explicitly, falling back to builtinHooks for the
// opcodes the teacher repo ships by default and to the scope-derived
// name otherwise (internal/applier.hookID).
type resourceYAML struct {
	ResType       string   `yaml:"ResType"`
	ResID         string   `yaml:"ResID"`
	Name          string   `yaml:"Name"`
	Path          string   `yaml:"Path"`
	Supported     *bool    `yaml:"Supported"`
	HighThreshold int32    `yaml:"HighThreshold"`
	LowThreshold  int32    `yaml:"LowThreshold"`
	Permissions   string   `yaml:"Permissions"`
	Modes         []string `yaml:"Modes"`
	Policy        string   `yaml:"Policy"`
	ApplyType     string   `yaml:"ApplyType"`
	ApplierID     string   `yaml:"ApplierID,omitempty"`
	ResetID       string   `yaml:"ResetID,omitempty"`
}

type resourceDoc struct {
	ResourceConfigs []resourceYAML `yaml:"ResourceConfigs"`
}

// builtinHooks maps the opcodes the teacher's CGroupRegistration.cpp/
// ResourceHooks.cpp register against a fixed C callback onto the
// string hook ids internal/applier ships by default, so a stock
// ResourcesConfig.yaml (one that doesn't name ApplierID/ResetID at
// all, exactly like the original's) still resolves to working hooks.
var builtinHooks = map[structs.Opcode]string{
	0x00090000: "cgroup_default",
	0x00090001: "cgroup_default",
	0x00090002: "run_on_cores",
	0x00090003: "run_on_cores_exclusively",
	0x00090004: "cgroup_default",
	0x00090005: "cpu_bandwidth",
	0x00090006: "cgroup_default",
	0x00090007: "uclamp_min",
	0x00090008: "uclamp_max",
	0x00090009: "memory_limit",
	0x0009000a: "cgroup_default",
	0x0009000b: "cgroup_move_pid",
	0x0009000c: "cgroup_move_tid",
}

// ParseResources decodes a ResourcesConfig.yaml document.
func ParseResources(data []byte) ([]*structs.ResourceConfig, error) {
	var doc resourceDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "parse resource configs: %v", err)
	}

	out := make([]*structs.ResourceConfig, 0, len(doc.ResourceConfigs))
	for _, ry := range doc.ResourceConfigs {
		rc, err := ry.toResourceConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

// LoadResources reads and decodes a ResourcesConfig.yaml file at path.
func LoadResources(path string) ([]*structs.ResourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "read %s: %v", path, err)
	}
	return ParseResources(data)
}

func (ry resourceYAML) toResourceConfig() (*structs.ResourceConfig, error) {
	opcode, err := buildOpcode(ry.ResType, ry.ResID)
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "resource %q: %v", ry.Name, err)
	}

	applierID, resetID := ry.ApplierID, ry.ResetID
	if applierID == "" {
		applierID = builtinHooks[opcode]
	}
	if resetID == "" {
		resetID = builtinHooks[opcode]
	}

	modes, err := parseModes(ry.Modes)
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "resource %q: %v", ry.Name, err)
	}

	supported := true
	if ry.Supported != nil {
		supported = *ry.Supported
	}

	return &structs.ResourceConfig{
		Opcode:       opcode,
		Name:         ry.Name,
		PathFormat:   ry.Path,
		Low:          ry.LowThreshold,
		High:         ry.HighThreshold,
		Permission:   parsePermission(ry.Permissions),
		AllowedModes: modes,
		Supported:    supported,
		Scope:        parseScope(ry.ApplyType),
		Policy:       parsePolicy(ry.Policy),
		ApplierID:    applierID,
		ResetID:      resetID,
	}, nil
}

func buildOpcode(resType, resID string) (structs.Opcode, error) {
	typ, err := strconv.ParseUint(resType, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bad ResType %q: %w", resType, err)
	}
	id, err := strconv.ParseUint(resID, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("bad ResID %q: %w", resID, err)
	}
	return structs.Opcode(typ<<16 | id), nil
}

func parsePermission(s string) structs.Permission {
	if strings.EqualFold(s, "system") {
		return structs.PermSystem
	}
	return structs.PermThirdParty
}

func parseScope(s string) structs.ApplyScope {
	switch strings.ToLower(s) {
	case "cluster":
		return structs.ScopeCluster
	case "core":
		return structs.ScopeCore
	case "cgroup":
		return structs.ScopeCGroup
	default:
		return structs.ScopeGlobal
	}
}

func parsePolicy(s string) structs.Policy {
	switch strings.ToLower(s) {
	case "higher_is_better":
		return structs.PolicyHigherIsBetter
	case "lower_is_better":
		return structs.PolicyLowerIsBetter
	case "lazy_apply":
		return structs.PolicyLazyApply
	default:
		return structs.PolicyInstantApply
	}
}

func parseModes(modes []string) (structs.ModeMask, error) {
	var mask structs.ModeMask
	for _, m := range modes {
		switch strings.ToLower(m) {
		case "display_on", "resume":
			mask |= structs.ModeResume
		case "display_off", "suspend":
			mask |= structs.ModeSuspend
		case "doze":
			mask |= structs.ModeDoze
		default:
			return 0, fmt.Errorf("unknown mode %q", m)
		}
	}
	if mask == 0 {
		// unset Modes means "allowed in every mode" (spec §4.2 default).
		mask = structs.ModeResume | structs.ModeSuspend | structs.ModeDoze
	}
	return mask, nil
}

// MergeResources overlays custom on top of base, keyed by opcode: a
// custom entry with the same opcode as a base entry replaces it
// outright (whole-struct replace, not field merge, matching Nomad's
// base-config + override-config idiom referenced in SPEC_FULL.md §2);
// a custom entry with a new opcode is appended.
func MergeResources(base, custom []*structs.ResourceConfig) []*structs.ResourceConfig {
	byOpcode := make(map[structs.Opcode]*structs.ResourceConfig, len(base)+len(custom))
	order := make([]structs.Opcode, 0, len(base)+len(custom))
	for _, rc := range base {
		byOpcode[rc.Opcode] = rc
		order = append(order, rc.Opcode)
	}
	for _, rc := range custom {
		if _, exists := byOpcode[rc.Opcode]; !exists {
			order = append(order, rc.Opcode)
		}
		byOpcode[rc.Opcode] = rc
	}
	out := make([]*structs.ResourceConfig, 0, len(order))
	for _, op := range order {
		out = append(out, byOpcode[op])
	}
	return out
}
