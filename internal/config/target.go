// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"os"
	"sort"

	"github.com/resourcetuner/urm/internal/registry"
	"github.com/resourcetuner/urm/internal/structs"
	"gopkg.in/yaml.v2"
)

type clusterInfoEntryYAML struct {
	LgcId int `yaml:"LgcId"`
	PhyId int `yaml:"PhyId"`
}

type clusterSpreadEntryYAML struct {
	PhyId    int `yaml:"PhyId"`
	NumCores int `yaml:"NumCores"`
}

type targetEntryYAML struct {
	TargetName    []string                 `yaml:"TargetName"`
	ClusterInfo   []clusterInfoEntryYAML   `yaml:"ClusterInfo"`
	ClusterSpread []clusterSpreadEntryYAML `yaml:"ClusterSpread"`
}

type targetDoc struct {
	TargetConfig []targetEntryYAML `yaml:"TargetConfig"`
}

// ParseTarget decodes a TargetConfig.yaml document into a fixed
// Topology, the config-file equivalent of registry.DiscoverTopology.
// Only the first TargetConfig entry is honored — the file names one
// board's layout, not a menu to pick from at runtime.
func ParseTarget(data []byte) (*registry.Topology, error) {
	var doc targetDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "parse target config: %v", err)
	}
	if len(doc.TargetConfig) == 0 {
		return nil, structs.NewError(structs.ErrFatalInit, "target config has no TargetConfig entries")
	}
	return buildTopology(doc.TargetConfig[0])
}

// LoadTarget reads and decodes a TargetConfig.yaml file.
func LoadTarget(path string) (*registry.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "read %s: %v", path, err)
	}
	return ParseTarget(data)
}

// buildTopology assigns sequential physical core ids across
// ClusterSpread entries in ascending PhyId order, then resolves each
// ClusterInfo's LgcId to the core range for its PhyId — the file
// declares capacity per physical cluster id, not individual core
// numbers, so core numbering is a derived, stable convention rather
// than data the YAML carries directly.
func buildTopology(t targetEntryYAML) (*registry.Topology, error) {
	spread := append([]clusterSpreadEntryYAML(nil), t.ClusterSpread...)
	sort.Slice(spread, func(i, j int) bool { return spread[i].PhyId < spread[j].PhyId })

	coresByPhyId := make(map[int][]int, len(spread))
	next := 0
	for _, s := range spread {
		cores := make([]int, s.NumCores)
		for i := range cores {
			cores[i] = next
			next++
		}
		coresByPhyId[s.PhyId] = cores
	}

	info := append([]clusterInfoEntryYAML(nil), t.ClusterInfo...)
	sort.Slice(info, func(i, j int) bool { return info[i].LgcId < info[j].LgcId })

	clusters := make([][]int, len(info))
	for _, ci := range info {
		if ci.LgcId < 0 || ci.LgcId >= len(clusters) {
			return nil, structs.NewError(structs.ErrFatalInit, "cluster LgcId %d out of range", ci.LgcId)
		}
		clusters[ci.LgcId] = coresByPhyId[ci.PhyId]
	}
	return &registry.Topology{Clusters: clusters}, nil
}
