// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jllopis/sextant/pkg/telemetry"
)

// Backend is the durable form of the episode log.
type Backend interface {
	// Load returns every persisted episode. A missing store is empty.
	Load(ctx context.Context) ([]Episode, error)
	// Save replaces the persisted episodes.
	Save(ctx context.Context, episodes []Episode) error
}

// NopBackend keeps nothing.
type NopBackend struct{}

// Load implements Backend.
func (NopBackend) Load(context.Context) ([]Episode, error) { return nil, nil }

// Save implements Backend.
func (NopBackend) Save(context.Context, []Episode) error { return nil }

// FileBackend persists episodes as JSON lines.
type FileBackend struct {
	path   string
	logger *slog.Logger
}

// NewFileBackend creates a file-backed episode store at path.
func NewFileBackend(path string, logger *slog.Logger) *FileBackend {
	if logger == nil {
		logger = telemetry.Component(slog.Default(), "memory")
	}
	return &FileBackend{path: path, logger: logger}
}

// Path returns the file location.
func (f *FileBackend) Path() string { return f.path }

// Load reads the file. Lines that do not decode are skipped and unknown
// fields are ignored.
func (f *FileBackend) Load(ctx context.Context) ([]Episode, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var out []Episode
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Episode
		if err := json.Unmarshal(raw, &e); err != nil {
			f.logger.WarnContext(ctx, "memory.load.corrupt",
				slog.String("path", f.path),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		f.logger.WarnContext(ctx, "memory.load.truncated", slog.String("path", f.path), slog.String("error", err.Error()))
	}
	return out, nil
}

// Save writes every episode to a temporary file and renames it over the
// previous one.
func (f *FileBackend) Save(_ context.Context, episodes []Episode) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, e := range episodes {
		if err := enc.Encode(e); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
