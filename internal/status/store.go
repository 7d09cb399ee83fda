// Package status holds the authoritative current state of every registered
// target.
package status

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/notify"
	"github.com/hamed0406/uptimed/internal/repo"
)

var (
	ErrNotFound = errors.New("target not registered")
	ErrClosed   = errors.New("status store closed")
)

// persistTimeout bounds a single backend write so a hung backend cannot pin
// a target's cell.
const persistTimeout = 5 * time.Second

// cell is one target's state. mu serializes writers; snap is the last
// committed state and is what readers see.
type cell struct {
	mu     sync.Mutex
	target domain.Target
	state  domain.State
	closed bool

	snap atomic.Pointer[domain.State]
}

func (c *cell) commit() {
	st := c.state
	c.snap.Store(&st)
}

// Store maps target ids to independently locked cells. The map itself only
// changes in Register, before probing starts.
type Store struct {
	log     *zap.Logger
	backend repo.StateStore
	sink    notify.Sink

	mu    sync.RWMutex
	cells map[domain.TargetID]*cell
	ids   []domain.TargetID
}

// New returns an empty store. backend and sink may be nil.
func New(log *zap.Logger, backend repo.StateStore, sink notify.Sink) *Store {
	return &Store{
		log:     log,
		backend: backend,
		sink:    sink,
		cells:   make(map[domain.TargetID]*cell),
	}
}

// Register creates an UNKNOWN state for each target not already known.
func (s *Store) Register(targets ...domain.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range targets {
		if _, ok := s.cells[t.ID]; ok {
			continue
		}
		c := &cell{target: t, state: domain.State{TargetID: t.ID, Verdict: domain.VerdictUnknown}}
		c.commit()
		s.cells[t.ID] = c
		s.ids = append(s.ids, t.ID)
	}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
}

// Restore seeds registered targets from the backend. States older than
// maxAge (by LastChecked) are ignored, as are ids that are no longer
// registered. maxAge <= 0 accepts any age. It returns how many were restored.
func (s *Store) Restore(ctx context.Context, maxAge time.Duration) (int, error) {
	if s.backend == nil {
		return 0, nil
	}
	states, err := s.backend.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load persisted states: %w", err)
	}

	now := time.Now()
	restored := 0
	for _, st := range states {
		c := s.cell(st.TargetID)
		if c == nil {
			s.log.Info("warm_start_skip_unknown", zap.String("target_id", string(st.TargetID)))
			continue
		}
		if maxAge > 0 && now.Sub(st.LastChecked) > maxAge {
			s.log.Info("warm_start_skip_stale",
				zap.String("target_id", string(st.TargetID)),
				zap.Time("last_checked", st.LastChecked))
			continue
		}
		if st.Verdict != domain.VerdictUp && st.Verdict != domain.VerdictDown {
			continue
		}
		c.mu.Lock()
		if !c.closed {
			c.state = st
			c.commit()
			restored++
		}
		c.mu.Unlock()
	}
	s.log.Info("warm_start_done", zap.Int("restored", restored), zap.Int("persisted", len(states)))
	return restored, nil
}

func (s *Store) cell(id domain.TargetID) *cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cells[id]
}

// Record reconciles one outcome into its target's state. When the verdict
// changes it publishes and persists the new state and returns the
// transition. A persistence error is returned alongside the transition; the
// in-memory verdict stands.
func (s *Store) Record(ctx context.Context, out domain.Outcome) (domain.Transition, bool, error) {
	c := s.cell(out.TargetID)
	if c == nil {
		return domain.Transition{}, false, fmt.Errorf("%w: %s", ErrNotFound, out.TargetID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.Transition{}, false, ErrClosed
	}

	prev := c.state.Verdict
	next, changed := Apply(c.state, c.target, out)
	c.state = next
	if !changed {
		c.commit()
		return domain.Transition{}, false, nil
	}

	tr := domain.Transition{TargetID: out.TargetID, From: prev, To: next.Verdict, At: next.LastTransition, State: next}
	err := s.persist(ctx, next)
	c.commit()

	if s.sink != nil {
		if perr := s.sink.Publish(tr); perr != nil {
			s.log.Warn("transition_publish_error", zap.String("target_id", string(tr.TargetID)), zap.Error(perr))
		}
	}
	return tr, true, err
}

func (s *Store) persist(ctx context.Context, st domain.State) error {
	if s.backend == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.backend.Put(ctx, st); err != nil {
		s.log.Error("persist_error", zap.String("target_id", string(st.TargetID)), zap.Error(err))
		return fmt.Errorf("persist %s: %w", st.TargetID, err)
	}
	return nil
}

// Read returns the last committed state without waiting on writers.
func (s *Store) Read(id domain.TargetID) (domain.State, error) {
	c := s.cell(id)
	if c == nil {
		return domain.State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *c.snap.Load(), nil
}

// ReadAll returns every committed state ordered by target id.
func (s *Store) ReadAll() []domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.State, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, *s.cells[id].snap.Load())
	}
	return out
}

// Close rejects further Record calls and flushes every cell's latest state
// to the backend so the next start can warm start from it. Each cell is
// closed under its own lock, so a Record already inside its reconciliation
// finishes first and nothing mutates state afterwards. Close does not close
// the backend.
func (s *Store) Close(ctx context.Context) error {
	s.mu.RLock()
	cells := make([]*cell, 0, len(s.ids))
	for _, id := range s.ids {
		cells = append(cells, s.cells[id])
	}
	s.mu.RUnlock()

	var err error
	for _, c := range cells {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			continue
		}
		c.closed = true
		st := c.state
		c.mu.Unlock()

		if st.Verdict == domain.VerdictUnknown {
			continue
		}
		err = multierr.Append(err, s.persist(ctx, st))
	}
	return err
}
