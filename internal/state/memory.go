package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/picklr-io/dockstate/internal/ir"
)

// memoryBackend keeps the encoded state document in process. Nothing it
// holds outlives the run.
type memoryBackend struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryBackend returns a backend holding a copy of seed. A nil seed reads
// as an empty state.
func NewMemoryBackend(seed *ir.State) (Backend, error) {
	b := &memoryBackend{}
	if seed != nil {
		data, err := EncodeState(seed)
		if err != nil {
			return nil, err
		}
		b.data = data
	}
	return b, nil
}

// Detach reads the state held by b once, closes b and returns an in-memory
// backend seeded with it. Writes to the result never reach b.
func Detach(ctx context.Context, b Backend) (Backend, error) {
	st, err := b.Read(ctx)
	closeErr := b.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close state backend: %w", closeErr)
	}
	return NewMemoryBackend(st)
}

func (b *memoryBackend) Read(ctx context.Context) (*ir.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return ir.NewState(), nil
	}
	return DecodeState(b.data)
}

func (b *memoryBackend) Write(ctx context.Context, st *ir.State) error {
	data, err := EncodeState(st)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = data
	return nil
}

func (b *memoryBackend) Close() error { return nil }
