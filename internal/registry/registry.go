// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package registry implements C1, the read-only Resource/Target
// Registry: the catalog of tunable descriptors and the CPU/cgroup
// topology they expand over.
package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/resourcetuner/urm/internal/structs"
)

// CGroupConfig describes one named cgroup target (spec §1, §4.1).
type CGroupConfig struct {
	NameID int32
	Name   string
	Path   string
}

// Topology is the discovered (or overridden) CPU shape: number of
// clusters and, per cluster, the physical core ids it contains.
type Topology struct {
	Clusters [][]int // Clusters[logicalCluster] = physical core ids
}

func (t *Topology) ClusterCount() int { return len(t.Clusters) }

func (t *Topology) CoreCount() int {
	n := 0
	for _, c := range t.Clusters {
		n += len(c)
	}
	return n
}

// HasCore reports whether id names an actual physical core somewhere
// in the topology — physical ids aren't necessarily contiguous from 0,
// so this is a membership check rather than a bounds check against
// CoreCount().
func (t *Topology) HasCore(id int32) bool {
	for _, cluster := range t.Clusters {
		for _, core := range cluster {
			if int32(core) == id {
				return true
			}
		}
	}
	return false
}

// LogicalToPhysical resolves a (logical cluster, logical core-within-
// cluster) pair to a physical core id.
func (t *Topology) LogicalToPhysical(logicalCluster, logicalCore int) (int, bool) {
	if logicalCluster < 0 || logicalCluster >= len(t.Clusters) {
		return 0, false
	}
	cores := t.Clusters[logicalCluster]
	if logicalCore < 0 || logicalCore >= len(cores) {
		return 0, false
	}
	return cores[logicalCore], true
}

// Registry is the immutable-after-load catalog. Safe for concurrent
// reads from any goroutine; never mutated post-construction.
type Registry struct {
	byOpcode map[structs.Opcode]*structs.ResourceConfig
	cgroups  map[int32]*CGroupConfig
	topology *Topology
}

// Option configures New.
type Option func(*Registry)

// WithTopologyOverride forces a fixed topology instead of discovering
// one from sysfs, used by tests and by a config-file override layer.
func WithTopologyOverride(topo *Topology) Option {
	return func(r *Registry) { r.topology = topo }
}

// New builds a Registry from already-parsed resource and cgroup
// configs. Config parsing itself (YAML decode, override merge) lives
// in internal/config and is out of this package's concern.
func New(resources []*structs.ResourceConfig, cgroups []*CGroupConfig, opts ...Option) (*Registry, error) {
	r := &Registry{
		byOpcode: make(map[structs.Opcode]*structs.ResourceConfig, len(resources)),
		cgroups:  make(map[int32]*CGroupConfig, len(cgroups)),
	}
	for _, rc := range resources {
		if _, dup := r.byOpcode[rc.Opcode]; dup {
			return nil, fmt.Errorf("duplicate resource opcode %#x (%s)", rc.Opcode, rc.Name)
		}
		r.byOpcode[rc.Opcode] = rc
	}
	for _, cg := range cgroups {
		r.cgroups[cg.NameID] = cg
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.topology == nil {
		topo, err := DiscoverTopology()
		if err != nil {
			return nil, fmt.Errorf("discover topology: %w", err)
		}
		r.topology = topo
	}
	return r, nil
}

// Lookup returns the descriptor for opcode, or nil if unknown.
func (r *Registry) Lookup(opcode structs.Opcode) *structs.ResourceConfig {
	return r.byOpcode[opcode]
}

// CGroup returns the cgroup descriptor for nameID, or nil.
func (r *Registry) CGroup(nameID int32) *CGroupConfig {
	return r.cgroups[nameID]
}

// Topology returns the discovered/overridden CPU topology.
func (r *Registry) Topology() *Topology { return r.topology }

// LogicalToPhysical is a convenience forward to the held topology.
func (r *Registry) LogicalToPhysical(logicalCluster, logicalCore int) (int, bool) {
	return r.topology.LogicalToPhysical(logicalCluster, logicalCore)
}

// DiscoverTopology reads
// /sys/devices/system/cpu/cpufreq/policy*/related_cpus to build
// cluster membership; if that path is unavailable it falls back to a
// uniform division of the online CPU count across 1 cluster (spec
// §4.1). A config override always takes precedence (WithTopologyOverride).
func DiscoverTopology() (*Topology, error) {
	const globPattern = "/sys/devices/system/cpu/cpufreq/policy*/related_cpus"
	matches, err := filepath.Glob(globPattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return uniformTopology(), nil
	}
	sort.Strings(matches)
	clusters := make([][]int, 0, len(matches))
	for _, path := range matches {
		cores, err := readRelatedCPUs(path)
		if err != nil {
			return nil, err
		}
		if len(cores) > 0 {
			clusters = append(clusters, cores)
		}
	}
	if len(clusters) == 0 {
		return uniformTopology(), nil
	}
	return &Topology{Clusters: clusters}, nil
}

func readRelatedCPUs(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var cores []int
	for sc.Scan() {
		for _, tok := range strings.Fields(sc.Text()) {
			v, err := strconv.Atoi(tok)
			if err != nil {
				continue
			}
			cores = append(cores, v)
		}
	}
	return cores, sc.Err()
}

// uniformTopology is the heuristic fallback: every online CPU in one
// cluster. Real heterogeneous-cluster division requires the sysfs
// hierarchy or a config override.
func uniformTopology() *Topology {
	n := onlineCPUCount()
	cores := make([]int, n)
	for i := range cores {
		cores[i] = i
	}
	return &Topology{Clusters: [][]int{cores}}
}

func onlineCPUCount() int {
	data, err := os.ReadFile("/sys/devices/system/cpu/online")
	if err != nil {
		return 1
	}
	return parseCPUList(strings.TrimSpace(string(data)))
}

// parseCPUList parses strings like "0-3,6,8-9" into a count.
func parseCPUList(s string) int {
	if s == "" {
		return 1
	}
	count := 0
	for _, part := range strings.Split(s, ",") {
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(lo)
			b, err2 := strconv.Atoi(hi)
			if err1 == nil && err2 == nil && b >= a {
				count += b - a + 1
				continue
			}
		}
		if _, err := strconv.Atoi(part); err == nil {
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return count
}
