// Copyright (c) Resource Tuner Authors
// SPDX-License-Identifier: BUSL-1.1

package core

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/resourcetuner/urm/internal/structs"
)

// DefaultsFile is the best-effort crash-recovery mechanism spec.md §6
// describes: a single text file, one "path,default_value" line per
// tunable captured before its first apply, consulted on the next
// start to restore nodes a prior crash left dirty, then deleted.
//
// No original_source file documents this mechanism concretely (a
// targeted search for persistence/dirty-node handling around
// ServerInit turned up nothing beyond an unrelated --persistent CLI
// flag); this type is built directly from spec.md §6's own
// description rather than a specific teacher file. It mirrors
// internal/applier's own file-write conventions (truncate-on-write,
// trimmed reads) so the two stay consistent in how they touch disk.
type DefaultsFile struct {
	mu   sync.Mutex
	path string
}

// NewDefaultsFile returns a DefaultsFile backed by path. path is not
// touched until the first Record/Clear call.
func NewDefaultsFile(path string) *DefaultsFile {
	return &DefaultsFile{path: path}
}

// Load reads every "path,default_value" line currently on disk. A
// missing file is not an error — the common case, a clean prior
// shutdown already deleted it.
func (d *DefaultsFile) Load() (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "open defaults file: %v", err)
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		path, value, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		out[path] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "read defaults file: %v", err)
	}
	return out, nil
}

// Record appends (or updates) path's captured default. Rewritten
// atomically (temp file + rename) so a crash mid-write never leaves a
// half-written line behind for the next Load to choke on.
func (d *DefaultsFile) Record(path, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := d.loadLocked()
	if err != nil {
		return err
	}
	entries[path] = value
	return d.rewriteLocked(entries)
}

// Forget removes path's entry, called once its reset has actually
// landed — there is nothing left to recover for it.
func (d *DefaultsFile) Forget(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := d.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := entries[path]; !ok {
		return nil
	}
	delete(entries, path)
	return d.rewriteLocked(entries)
}

// Clear deletes the file outright, called after every entry it named
// has been replayed at startup.
func (d *DefaultsFile) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return structs.NewError(structs.ErrFatalInit, "clear defaults file: %v", err)
	}
	return nil
}

func (d *DefaultsFile) loadLocked() (map[string]string, error) {
	f, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, structs.NewError(structs.ErrFatalInit, "open defaults file: %v", err)
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		path, value, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		out[path] = value
	}
	return out, scanner.Err()
}

func (d *DefaultsFile) rewriteLocked(entries map[string]string) error {
	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, ".defaults-*.tmp")
	if err != nil {
		return structs.NewError(structs.ErrFatalInit, "create defaults temp file: %v", err)
	}
	tmpPath := tmp.Name()

	var b strings.Builder
	for path, value := range entries {
		b.WriteString(path)
		b.WriteByte(',')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return structs.NewError(structs.ErrFatalInit, "write defaults temp file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return structs.NewError(structs.ErrFatalInit, "close defaults temp file: %v", err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		os.Remove(tmpPath)
		return structs.NewError(structs.ErrFatalInit, "rename defaults temp file: %v", err)
	}
	return nil
}
