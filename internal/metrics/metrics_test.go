// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package metrics_test

import (
	"testing"
	"time"

	"github.com/resourcetuner/urm/internal/ci"
	"github.com/resourcetuner/urm/internal/metrics"
	"github.com/shoenig/test/must"
)

func TestSetup_InstallsInmemSink(t *testing.T) {
	ci.Parallel(t)

	cfg := metrics.DefaultConfig("resource_tuner_test")
	cfg.InMemInterval = time.Second
	cfg.InMemRetain = time.Minute

	h, err := metrics.Setup(cfg)
	must.NoError(t, err)
	must.NotNil(t, h)
	defer h.Close()

	must.NotNil(t, h.InMem)

	data, err := h.Dump()
	must.NoError(t, err)
	must.NotNil(t, data)
}

func TestDefaultConfig_SetsProductionDefaults(t *testing.T) {
	ci.Parallel(t)

	cfg := metrics.DefaultConfig("resource_tuner")
	must.Eq(t, "resource_tuner", cfg.ServiceName)
	must.True(t, cfg.EnableHostname)
	must.True(t, cfg.EnableRuntimeMetrics)
	must.Eq(t, "", cfg.StatsdAddr)
}
