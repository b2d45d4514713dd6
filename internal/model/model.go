// Package model persists the frozen embedder and baseline produced by
// training as a single zstd-compressed JSON artifact.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/setevik/logsentinel/internal/baseline"
	"github.com/setevik/logsentinel/internal/classifier"
	"github.com/setevik/logsentinel/internal/embedder"
)

// Version is the artifact format version written by Save.
const Version = 1

// ErrModelUnavailable is returned when the artifact cannot be loaded. The
// service must not start without a model.
var ErrModelUnavailable = errors.New("model unavailable")

// Training records the clustering parameters the baseline was built with.
type Training struct {
	Eps        float64 `json:"eps"`
	MinSamples int     `json:"min_samples"`
	Scaled     bool    `json:"scaled"`
	Clusters   int     `json:"clusters"`
	Noise      int     `json:"noise"`
}

// Model is the on-disk artifact.
type Model struct {
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Embedder  embedder.Snapshot `json:"embedder"`
	Baseline  baseline.Snapshot `json:"baseline"`
	Training  Training          `json:"training"`
}

// New captures a fitted embedder and baseline.
func New(emb *embedder.Embedder, base *baseline.Baseline, tr Training) *Model {
	return &Model{
		Version:   Version,
		CreatedAt: time.Now().UTC(),
		Embedder:  emb.Snapshot(),
		Baseline:  base.Snapshot(),
		Training:  tr,
	}
}

// Loaded is a decoded artifact with its live embedder and baseline.
type Loaded struct {
	*Model
	Embedder *embedder.Embedder
	Baseline *baseline.Baseline
}

// Save writes m to path atomically.
func Save(path string, m *Model) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, m); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("installing model file: %w", err)
	}
	return nil
}

func encode(w io.Writer, m *Model) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(m); err != nil {
		zw.Close()
		return fmt.Errorf("encoding model: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flushing model: %w", err)
	}
	return nil
}

// Load reads and verifies the artifact at path. Every failure wraps
// ErrModelUnavailable.
func Load(path string) (*Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	defer f.Close()

	l, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelUnavailable, path, err)
	}
	return l, nil
}

func decode(r io.Reader) (*Loaded, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	var m Model
	if err := json.NewDecoder(zr).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	if m.Version != Version {
		return nil, fmt.Errorf("unsupported model version %d", m.Version)
	}

	emb, err := embedder.FromSnapshot(m.Embedder)
	if err != nil {
		return nil, err
	}
	base, err := baseline.FromSnapshot(m.Baseline)
	if err != nil {
		return nil, err
	}
	if err := classifier.Compatible(emb, base); err != nil {
		return nil, err
	}
	return &Loaded{Model: &m, Embedder: emb, Baseline: base}, nil
}
