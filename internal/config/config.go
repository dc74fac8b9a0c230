// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package config loads and merges the four YAML documents
// (ResourcesConfig, PropertiesConfig, InitConfig, TargetConfig) named
// in SPEC_FULL.md §2, grounded on original_source's ConfigProcessor
// (base parse) and the teacher's base-config + override-config merge
// idiom (custom overlay, same shape as Nomad's agent config Merge).
package config

import (
	"github.com/hashicorp/go-multierror"
	"github.com/resourcetuner/urm/internal/propstore"
	"github.com/resourcetuner/urm/internal/registry"
	"github.com/resourcetuner/urm/internal/signal"
	"github.com/resourcetuner/urm/internal/structs"
)

// Paths names the on-disk location of each config document. A path
// left empty is simply skipped — a deployment without a custom
// overlay, or without MPAM/cgroup info, is expected, not an error.
type Paths struct {
	Resources       string
	CustomResources string
	Properties      string
	Init            string
	Target          string
	Signals         string
}

// Config is the fully loaded, merged configuration: everything
// internal/core needs to build the rest of the daemon's components.
type Config struct {
	Resources  []*structs.ResourceConfig
	Properties []*propstore.Def
	CGroups    []*registry.CGroupConfig
	ClusterMap []ClusterMapEntry
	MPAM       []MPAMGroup
	Cache      []CacheInfo
	Topology   *registry.Topology // nil if no TargetConfig was supplied; caller falls back to registry.DiscoverTopology
	Signals    []*signal.Config
}

// Load reads every document named by p, merges the custom resource
// overlay (if any) over the base set, and returns one Config. Errors
// from independent documents are aggregated with go-multierror so a
// single bad file doesn't obscure problems in the others; Load still
// returns nil on any failure — a daemon can't start on a partial
// config.
func Load(p Paths) (*Config, error) {
	var errs *multierror.Error
	cfg := &Config{}

	if p.Resources != "" {
		base, err := LoadResources(p.Resources)
		if err != nil {
			errs = multierror.Append(errs, err)
		} else {
			cfg.Resources = base
		}
	}
	if p.CustomResources != "" {
		custom, err := LoadResources(p.CustomResources)
		if err != nil {
			errs = multierror.Append(errs, err)
		} else {
			cfg.Resources = MergeResources(cfg.Resources, custom)
		}
	}

	if p.Properties != "" {
		props, err := LoadProperties(p.Properties)
		if err != nil {
			errs = multierror.Append(errs, err)
		} else {
			cfg.Properties = props
		}
	}

	if p.Init != "" {
		ic, err := LoadInitConfig(p.Init)
		if err != nil {
			errs = multierror.Append(errs, err)
		} else {
			cfg.CGroups = ic.CGroups
			cfg.ClusterMap = ic.ClusterMap
			cfg.MPAM = ic.MPAM
			cfg.Cache = ic.Cache
		}
	}

	if p.Target != "" {
		topo, err := LoadTarget(p.Target)
		if err != nil {
			errs = multierror.Append(errs, err)
		} else {
			cfg.Topology = topo
		}
	}

	if p.Signals != "" {
		sigs, err := LoadSignals(p.Signals)
		if err != nil {
			errs = multierror.Append(errs, err)
		} else {
			cfg.Signals = sigs
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RegistryOptions builds the internal/registry.Option slice this
// Config implies: a topology override when TargetConfig was supplied,
// nothing otherwise (registry.New falls back to sysfs discovery).
func (c *Config) RegistryOptions() []registry.Option {
	if c.Topology == nil {
		return nil
	}
	return []registry.Option{registry.WithTopologyOverride(c.Topology)}
}
