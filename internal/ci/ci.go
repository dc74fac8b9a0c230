// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

// Package ci holds small test helpers shared across the module's test
// suites, mirroring the helper Nomad's own retrieved test files lean
// on (ci.Parallel, testlog.HCLogger).
package ci

import (
	"os"
	"testing"

	"github.com/hashicorp/go-hclog"
)

// Parallel marks t as safe to run in parallel, skipping when the
// RESOURCETUNER_NO_PARALLEL_TESTS env var is set (e.g. on constrained
// CI runners), the same escape hatch Nomad's own ci package offers.
func Parallel(t *testing.T) {
	t.Helper()
	if os.Getenv("RESOURCETUNER_NO_PARALLEL_TESTS") != "" {
		return
	}
	t.Parallel()
}

// Logger returns a leveled hclog.Logger scoped to the test name, quiet
// unless RESOURCETUNER_TEST_LOG_LEVEL is set.
func Logger(t *testing.T) hclog.Logger {
	level := hclog.Off
	if v := os.Getenv("RESOURCETUNER_TEST_LOG_LEVEL"); v != "" {
		level = hclog.LevelFromString(v)
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  t.Name(),
		Level: level,
	})
}
