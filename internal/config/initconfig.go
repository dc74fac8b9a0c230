// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"os"

	"github.com/resourcetuner/urm/internal/registry"
	"github.com/resourcetuner/urm/internal/structs"
	"gopkg.in/yaml.v2"
)

// ClusterMapEntry names a topology cluster's capacity class
// ("little"/"big"/"prime"), informational metadata the dispatcher
// doesn't consume directly but that init logging and diagnostics
// surface, per original_source's documented InitConfigs example.
type ClusterMapEntry struct {
	ID   int32
	Type string
}

// MPAMGroup describes one MPAM (Memory System Resource Partitioning and
// Monitoring) group the target declares. No resource hook in
// internal/applier's default set yet applies to an MPAM-group tunable
// (the retrieved source doesn't ship an MPAM applier callback, only the
// registry-level config for one); InitConfig still parses the section
// so a future applier can be registered against it without a config
// format change.
type MPAMGroup struct {
	Name     string
	ID       int32
	Priority int32
}

// CacheInfo describes one cache-partitioning entry (L2/L3 etc.) the
// target declares. Same status as MPAMGroup: parsed, not yet applied.
type CacheInfo struct {
	Type           string
	NumCacheBlocks int32
	PriorityAware  bool
}

// InitConfig is the fully decoded InitConfigs document.
type InitConfig struct {
	ClusterMap []ClusterMapEntry
	CGroups    []*registry.CGroupConfig
	MPAM       []MPAMGroup
	Cache      []CacheInfo
}

type clusterMapEntryYAML struct {
	Id   int32  `yaml:"Id"`
	Type string `yaml:"Type"`
}

type cgroupEntryYAML struct {
	Name       string `yaml:"Name"`
	ID         int32  `yaml:"ID"`
	Create     bool   `yaml:"Create"`
	IsThreaded bool   `yaml:"IsThreaded"`
}

type mpamGroupEntryYAML struct {
	Name     string `yaml:"Name"`
	ID       int32  `yaml:"ID"`
	Priority int32  `yaml:"Priority"`
}

type cacheInfoEntryYAML struct {
	Type           string `yaml:"Type"`
	NumCacheBlocks int32  `yaml:"NumCacheBlocks"`
	PriorityAware  int32  `yaml:"PriorityAware"`
}

// initSectionYAML models one element of the InitConfigs list: each
// element carries exactly one of the four keys, matching the
// one-key-per-list-item shape of the original YAML example.
type initSectionYAML struct {
	ClusterMap  []clusterMapEntryYAML `yaml:"ClusterMap,omitempty"`
	CgroupsInfo []cgroupEntryYAML     `yaml:"CgroupsInfo,omitempty"`
	MPAM        []mpamGroupEntryYAML  `yaml:"MPAMgroupsInfo,omitempty"`
	CacheInfo   []cacheInfoEntryYAML  `yaml:"CacheInfo,omitempty"`
}

type initDoc struct {
	InitConfigs []initSectionYAML `yaml:"InitConfigs"`
}

// cgroupMountPoint is the cgroupv2 mount point CGroupRegistration.cpp
// writes through ("/sys/fs/cgroup/cgroup.procs" is its parent-cgroup
// move target).
const cgroupMountPoint = "/sys/fs/cgroup"

// ParseInitConfig decodes an InitConfig.yaml document.
func ParseInitConfig(data []byte) (*InitConfig, error) {
	var doc initDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "parse init config: %v", err)
	}

	out := &InitConfig{}
	for _, section := range doc.InitConfigs {
		for _, cm := range section.ClusterMap {
			out.ClusterMap = append(out.ClusterMap, ClusterMapEntry{ID: cm.Id, Type: cm.Type})
		}
		for _, cg := range section.CgroupsInfo {
			out.CGroups = append(out.CGroups, &registry.CGroupConfig{
				NameID: cg.ID,
				Name:   cg.Name,
				Path:   cgroupMountPoint + "/" + cg.Name,
			})
		}
		for _, mp := range section.MPAM {
			out.MPAM = append(out.MPAM, MPAMGroup{Name: mp.Name, ID: mp.ID, Priority: mp.Priority})
		}
		for _, ci := range section.CacheInfo {
			out.Cache = append(out.Cache, CacheInfo{
				Type:           ci.Type,
				NumCacheBlocks: ci.NumCacheBlocks,
				PriorityAware:  ci.PriorityAware != 0,
			})
		}
	}
	return out, nil
}

// LoadInitConfig reads and decodes an InitConfig.yaml file.
func LoadInitConfig(path string) (*InitConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "read %s: %v", path, err)
	}
	return ParseInitConfig(data)
}
