// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"os"
	"strings"

	"github.com/resourcetuner/urm/internal/propstore"
	"github.com/resourcetuner/urm/internal/structs"
	"gopkg.in/yaml.v2"
)

// propertyYAML mirrors one entry of PropertiesConfig.yaml
// (original_source/Core/Framework/Include/ConfigProcessor.h). Permission
// is a Go-native extension beyond the original's Name/Value pair,
// letting a handful of internal-only properties
// (resource_tuner.* server knobs) require system trust to change.
type propertyYAML struct {
	Name       string `yaml:"Name"`
	Value      string `yaml:"Value"`
	Permission string `yaml:"Permission,omitempty"`
}

type propertyDoc struct {
	PropertyConfigs []propertyYAML `yaml:"PropertyConfigs"`
}

// ParseProperties decodes a PropertiesConfig.yaml document into
// propstore.Def values.
func ParseProperties(data []byte) ([]*propstore.Def, error) {
	var doc propertyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "parse properties config: %v", err)
	}
	out := make([]*propstore.Def, 0, len(doc.PropertyConfigs))
	for _, py := range doc.PropertyConfigs {
		out = append(out, &propstore.Def{
			Name:       py.Name,
			Default:    py.Value,
			Permission: parsePermission(py.Permission),
		})
	}
	return out, nil
}

// LoadProperties reads and decodes a PropertiesConfig.yaml file.
func LoadProperties(path string) ([]*propstore.Def, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "read %s: %v", path, err)
	}
	return ParseProperties(data)
}

// MergeProperties overlays custom on top of base, keyed by name, the
// same whole-entry-replace rule MergeResources uses.
func MergeProperties(base, custom []*propstore.Def) []*propstore.Def {
	byName := make(map[string]*propstore.Def, len(base)+len(custom))
	order := make([]string, 0, len(base)+len(custom))
	for _, d := range base {
		byName[d.Name] = d
		order = append(order, d.Name)
	}
	for _, d := range custom {
		if _, exists := byName[d.Name]; !exists {
			order = append(order, d.Name)
		}
		byName[d.Name] = d
	}
	out := make([]*propstore.Def, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// wellKnownServerProps are the resource_tuner.* keys the original's
// PropertiesConfig.yaml example ships (Core/Framework/Include/
// ConfigProcessor.h); exported so internal/core can read typed server
// settings out of a loaded propstore without hardcoding the strings in
// two places.
const (
	PropMaxConcurrentRequests  = "resource_tuner.maximum.concurrent.requests"
	PropMaxResourcesPerRequest = "resource_tuner.maximum.resources.per.request"
	PropListeningPort          = "resource_tuner.listening.port"
	PropPulseDuration          = "resource_tuner.pulse.duration"
	PropGCDuration             = "resource_tuner.garbage_collection.duration"
	PropRateLimiterDelta       = "resource_tuner.rate_limiter.delta"
	PropPenaltyFactor          = "resource_tuner.penalty.factor"
	PropRewardFactor           = "resource_tuner.reward.factor"
)

// IsServerProp reports whether name is one of the built-in
// resource_tuner.* server-configuration properties rather than a
// client-defined one.
func IsServerProp(name string) bool {
	return strings.HasPrefix(name, "resource_tuner.")
}
