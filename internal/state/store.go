package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/picklr-io/dockstate/internal/ir"
)

// Store is the per-run cache of recorded state. Every mutation is written
// through to the backend before it returns, so an interrupted run leaves the
// backend consistent up to the last completed resource.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	state   *ir.State
	index   map[string]int
}

// Open reads the current state from backend.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	st, err := backend.Read(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = ir.NewState()
	}
	s := &Store{backend: backend, state: st}
	s.reindex()
	return s, nil
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.state.Resources))
	for i, rs := range s.state.Resources {
		s.index[rs.Address().String()] = i
	}
}

// Get returns the recorded state of addr.
func (s *Store) Get(addr string) (*ir.ResourceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[addr]
	if !ok {
		return nil, false
	}
	return s.state.Resources[i], true
}

// All returns the recorded resources in the order they were first written.
func (s *Store) All() []*ir.ResourceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ir.ResourceState(nil), s.state.Resources...)
}

// Put records rs, replacing any earlier state for the same address.
func (s *Store) Put(ctx context.Context, rs *ir.ResourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.draft()
	if i, ok := s.index[rs.Address().String()]; ok {
		next.Resources[i] = rs
	} else {
		next.Resources = append(next.Resources, rs)
	}
	return s.commit(ctx, next)
}

// Delete drops addr from state. Deleting an unknown address is a no-op.
func (s *Store) Delete(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[addr]
	if !ok {
		return nil
	}
	next := s.draft()
	next.Resources = append(next.Resources[:i], next.Resources[i+1:]...)
	return s.commit(ctx, next)
}

// Taint marks addr for replacement on the next apply.
func (s *Store) Taint(ctx context.Context, addr string) error {
	return s.setTainted(ctx, addr, true)
}

// Untaint clears the taint mark of addr.
func (s *Store) Untaint(ctx context.Context, addr string) error {
	return s.setTainted(ctx, addr, false)
}

func (s *Store) setTainted(ctx context.Context, addr string, tainted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[addr]
	if !ok {
		return fmt.Errorf("resource %s not found in state", addr)
	}
	rs := *s.state.Resources[i]
	rs.Tainted = tainted
	next := s.draft()
	next.Resources[i] = &rs
	return s.commit(ctx, next)
}

// Snapshot returns a copy of the whole state document.
func (s *Store) Snapshot() *ir.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s.state
	cp.Resources = append([]*ir.ResourceState(nil), s.state.Resources...)
	return &cp
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// draft copies the document for a mutation. Callers hold s.mu.
func (s *Store) draft() *ir.State {
	next := *s.state
	next.Resources = append([]*ir.ResourceState(nil), s.state.Resources...)
	return &next
}

// commit bumps the serial of next and writes it. The cache only moves to
// next once the backend holds it. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, next *ir.State) error {
	if next.Lineage == "" {
		next.Lineage = uuid.NewString()
	}
	next.Serial++
	if err := s.backend.Write(ctx, next); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	s.state = next
	s.reindex()
	return nil
}
