package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/picklr-io/dockstate/internal/ir"
)

// Backend defines the interface for state storage backends.
type Backend interface {
	// Read loads the state from the backend. A backend with nothing stored
	// yet returns an empty state.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, state *ir.State) error

	// Close releases any handle the backend holds.
	Close() error
}

// Config selects and configures a state backend.
type Config struct {
	Type    string `yaml:"type" json:"type"` // "local", "sqlite", "bolt", "s3", "memory"
	Path    string `yaml:"path" json:"path,omitempty"`
	Bucket  string `yaml:"bucket" json:"bucket,omitempty"`
	Key     string `yaml:"key" json:"key,omitempty"`
	Region  string `yaml:"region" json:"region,omitempty"`
	Profile string `yaml:"profile" json:"profile,omitempty"`
}

const (
	DefaultLocalPath  = ".dockstate/state.json"
	DefaultSQLitePath = ".dockstate/state.db"
	DefaultBoltPath   = ".dockstate/state.bolt"
)

// NewBackend creates a state backend from configuration.
func NewBackend(ctx context.Context, cfg *Config) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		return newLocalBackend(pathOr(cfg.Path, DefaultLocalPath)), nil
	case "sqlite":
		return newSQLiteBackend(ctx, pathOr(cfg.Path, DefaultSQLitePath))
	case "bolt", "bbolt":
		return newBoltBackend(pathOr(cfg.Path, DefaultBoltPath))
	case "s3":
		return newS3Backend(ctx, cfg)
	case "memory":
		return NewMemoryBackend(nil)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

func pathOr(path, def string) string {
	if path == "" {
		return def
	}
	return path
}

// EncodeState renders the state document as indented JSON.
func EncodeState(st *ir.State) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeState parses a JSON state document.
func DecodeState(data []byte) (*ir.State, error) {
	st := ir.NewState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if st.Version != ir.NewState().Version {
		return nil, fmt.Errorf("unsupported state version %d", st.Version)
	}
	return st, nil
}

func encodeResource(rs *ir.ResourceState) ([]byte, error) {
	data, err := json.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", rs.Address(), err)
	}
	return data, nil
}

func decodeResource(data []byte) (*ir.ResourceState, error) {
	var rs ir.ResourceState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}
	return &rs, nil
}
