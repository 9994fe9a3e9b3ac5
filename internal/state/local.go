package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/picklr-io/dockstate/internal/ir"
)

// localBackend keeps the state document in a JSON file.
type localBackend struct {
	path string
}

func newLocalBackend(path string) *localBackend {
	return &localBackend{path: path}
}

func (b *localBackend) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return ir.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", b.path, err)
	}
	st, err := DecodeState(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", b.path, err)
	}
	return st, nil
}

// Write replaces the file atomically: a temp file in the same directory is
// renamed over the old one.
func (b *localBackend) Write(ctx context.Context, st *ir.State) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content, err := EncodeState(st)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", b.path, err)
	}
	return nil
}

func (b *localBackend) Close() error { return nil }
