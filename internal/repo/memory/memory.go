package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/repo"
)

var _ repo.StateStore = (*Store)(nil)

// Store keeps states in process memory; nothing survives a restart.
type Store struct {
	mu     sync.RWMutex
	states map[domain.TargetID]domain.State
}

func New() *Store {
	return &Store{states: make(map[domain.TargetID]domain.State)}
}

func (m *Store) Put(ctx context.Context, s domain.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.TargetID] = s
	return nil
}

func (m *Store) List(ctx context.Context) ([]domain.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out, nil
}

func (m *Store) Close() error { return nil }
