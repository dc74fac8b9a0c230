// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"fmt"
	"os"

	"github.com/resourcetuner/urm/internal/signal"
	"github.com/resourcetuner/urm/internal/structs"
	"gopkg.in/yaml.v2"
)

// signalResourceYAML is one resource a Signal's Acquire resolves to.
// No SignalConfigProcessor.h made it into the retrieved original
// source (only SignalServerRequests.cpp, which reads an already-
// resolved SignalInfo back out of SignalRegistry); this schema is
// modeled on ResourcesConfig.yaml's own shape instead, since
// signal.Config's fields are structurally a resource descriptor plus
// a default duration.
type signalResourceYAML struct {
	ResType string  `yaml:"ResType"`
	ResID   string  `yaml:"ResID"`
	Info    int32   `yaml:"Info,omitempty"`
	Values  []int32 `yaml:"Values"`
}

type signalYAML struct {
	SignalCode string               `yaml:"SignalCode"`
	AppName    string               `yaml:"AppName,omitempty"`
	Resources  []signalResourceYAML `yaml:"Resources"`
	DefaultMS  int64                `yaml:"DefaultDurationMS"`
	Permission string               `yaml:"Permissions"`
}

type signalDoc struct {
	SignalConfigs []signalYAML `yaml:"SignalConfigs"`
}

// ParseSignals decodes a SignalConfig.yaml document into signal.Config
// values, the config-file analogue of a resources.yaml document for
// the peer Signal subsystem.
func ParseSignals(data []byte) ([]*signal.Config, error) {
	var doc signalDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "parse signal configs: %v", err)
	}

	out := make([]*signal.Config, 0, len(doc.SignalConfigs))
	for _, sy := range doc.SignalConfigs {
		code, err := parseSignalCode(sy.SignalCode)
		if err != nil {
			return nil, structs.NewError(structs.ErrFatalInit, "signal %q: %v", sy.SignalCode, err)
		}

		resources := make([]*structs.Resource, 0, len(sy.Resources))
		for _, ry := range sy.Resources {
			opcode, err := buildOpcode(ry.ResType, ry.ResID)
			if err != nil {
				return nil, structs.NewError(structs.ErrFatalInit, "signal %q resource: %v", sy.SignalCode, err)
			}
			resources = append(resources, &structs.Resource{
				Opcode: opcode,
				Info:   ry.Info,
				Count:  int32(len(ry.Values)),
				Values: ry.Values,
			})
		}

		out = append(out, &signal.Config{
			SignalCode: code,
			Resources:  resources,
			DefaultMS:  sy.DefaultMS,
			Permission: parsePermission(sy.Permission),
		})
	}
	return out, nil
}

// LoadSignals reads and decodes a SignalConfig.yaml file.
func LoadSignals(path string) ([]*signal.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "read %s: %v", path, err)
	}
	return ParseSignals(data)
}

func parseSignalCode(s string) (uint32, error) {
	var code uint32
	if _, err := fmt.Sscanf(s, "0x%x", &code); err == nil {
		return code, nil
	}
	if _, err := fmt.Sscanf(s, "%d", &code); err == nil {
		return code, nil
	}
	return 0, fmt.Errorf("bad SignalCode %q", s)
}
