// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package core

import (
	"io"
	"os"

	circbuf "github.com/armon/circbuf"
	"github.com/hashicorp/go-hclog"
	gsyslog "github.com/hashicorp/go-syslog"
	uuid "github.com/hashicorp/go-uuid"
	"github.com/resourcetuner/urm/internal/structs"
)

// logRingSize bounds the in-memory tail kept for a crash dump,
// mirroring how a bounded command-output buffer is sized elsewhere in
// the teacher's dependency stack (SPEC_FULL.md §3).
const logRingSize = 256 * 1024

// LogConfig configures Core's logger bootstrap.
type LogConfig struct {
	Level     string // hclog level name; empty defaults to "info"
	JSON      bool
	Syslog    bool
	SyslogTag string // facility tag; defaults to "resource_tuner" when Syslog is set
}

// buildLogger assembles the root hclog.Logger plus the bounded ring
// buffer its output is teed into: on a fatal error the ring's content
// is the recent log tail worth dumping, without unbounded memory
// growth over a long-running daemon's lifetime. instanceID is stamped
// into every line so multiple daemon runs reviewed from the same log
// sink are distinguishable.
func buildLogger(cfg LogConfig) (hclog.Logger, *circbuf.Buffer, error) {
	ring, err := circbuf.NewBuffer(logRingSize)
	if err != nil {
		return nil, nil, structs.NewError(structs.ErrFatalInit, "allocate log ring buffer: %v", err)
	}

	writers := []io.Writer{os.Stderr, ring}
	if cfg.Syslog {
		tag := cfg.SyslogTag
		if tag == "" {
			tag = "resource_tuner"
		}
		sink, err := gsyslog.NewLogger(gsyslog.LOG_NOTICE, "DAEMON", tag)
		if err != nil {
			return nil, nil, structs.NewError(structs.ErrFatalInit, "open syslog: %v", err)
		}
		writers = append(writers, &syslogWriter{sink: sink})
	}

	instanceID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, nil, structs.NewError(structs.ErrFatalInit, "generate instance id: %v", err)
	}

	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:       "resource_tuner",
		Level:      level,
		Output:     io.MultiWriter(writers...),
		JSONFormat: cfg.JSON,
	}).With("instance", instanceID)

	return log, ring, nil
}

// syslogWriter adapts a gsyslog.Syslogger to io.Writer. hclog already
// filters by level before a line reaches Output, so unlike the
// teacher's SyslogWrapper (which layers a second, logutils-based
// level filter in front of the same Write call) this needs no filter
// of its own — hashicorp/logutils isn't part of this module's
// dependency set.
type syslogWriter struct {
	sink gsyslog.Syslogger
}

func (s *syslogWriter) Write(p []byte) (int, error) {
	if err := s.sink.WriteLevel(gsyslog.LOG_NOTICE, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
