// Package scheduler runs one independent probe loop per target.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/probe"
	"github.com/hamed0406/uptimed/internal/status"
)

var ErrUnknownTarget = errors.New("target not scheduled")

// Resolver picks and validates the prober for a target. probe.Registry
// implements it.
type Resolver interface {
	For(t domain.Target) (probe.Prober, error)
}

// Recorder receives every outcome. status.Store implements it.
type Recorder interface {
	Record(ctx context.Context, out domain.Outcome) (domain.Transition, bool, error)
}

// Excluded is a target that failed registration and will never be probed.
type Excluded struct {
	Target domain.Target `json:"target"`
	Reason string        `json:"reason"`
}

type loop struct {
	target domain.Target
	prober probe.Prober
	kick   chan struct{}
}

type Scheduler struct {
	log      *zap.Logger
	probers  Resolver
	recorder Recorder

	mu       sync.RWMutex
	loops    map[domain.TargetID]*loop
	order    []domain.TargetID
	excluded []Excluded

	wg sync.WaitGroup
}

func New(log *zap.Logger, probers Resolver, recorder Recorder) *Scheduler {
	return &Scheduler{
		log:      log,
		probers:  probers,
		recorder: recorder,
		loops:    make(map[domain.TargetID]*loop),
	}
}

// Register validates targets and schedules the good ones. Each rejected
// target is logged once and returned; it is never retried.
func (s *Scheduler) Register(targets ...domain.Target) []Excluded {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rejected []Excluded
	for _, t := range targets {
		p, err := s.probers.For(t)
		if err == nil {
			if _, dup := s.loops[t.ID]; dup {
				err = fmt.Errorf("%w: duplicate id %s", domain.ErrInvalidTarget, t.ID)
			}
		}
		if err != nil {
			s.log.Error("target_excluded",
				zap.String("target_id", string(t.ID)),
				zap.String("address", t.Address),
				zap.Error(err))
			rejected = append(rejected, Excluded{Target: t, Reason: err.Error()})
			continue
		}
		s.loops[t.ID] = &loop{target: t, prober: p, kick: make(chan struct{}, 1)}
		s.order = append(s.order, t.ID)
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	s.excluded = append(s.excluded, rejected...)
	return rejected
}

// Targets returns the scheduled targets ordered by id.
func (s *Scheduler) Targets() []domain.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Target, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.loops[id].target)
	}
	return out
}

func (s *Scheduler) Excluded() []Excluded {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Excluded(nil), s.excluded...)
}

// Kick asks a target's loop to probe as soon as it is idle. Kicks arriving
// while one is already pending are merged.
func (s *Scheduler) Kick(id domain.TargetID) error {
	s.mu.RLock()
	l, ok := s.loops[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	select {
	case l.kick <- struct{}{}:
	default:
	}
	return nil
}

// Run starts every loop and blocks until ctx is cancelled. Loops may still
// be finishing a probe when it returns; see Wait.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.RLock()
	loops := make([]*loop, 0, len(s.order))
	for _, id := range s.order {
		loops = append(loops, s.loops[id])
	}
	s.mu.RUnlock()

	s.log.Info("scheduler_started", zap.Int("targets", len(loops)))
	for _, l := range loops {
		s.wg.Add(1)
		go s.run(ctx, l)
	}
	<-ctx.Done()
	s.log.Info("scheduler_stopping")
	return nil
}

// Wait blocks until every loop has exited or grace elapses. It reports
// whether all loops finished; loops still running after that are abandoned
// and drop their outcomes.
func (s *Scheduler) Wait(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		s.log.Warn("scheduler_grace_expired", zap.Duration("grace", grace))
		return false
	}
}

func (s *Scheduler) run(ctx context.Context, l *loop) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-l.kick:
			timer.Stop()
		}

		start := time.Now()
		out := s.probeOnce(ctx, l, start)
		if ctx.Err() != nil {
			// shutting down; the store may already be closing
			return
		}
		s.record(ctx, out)

		wait := l.target.Interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

func (s *Scheduler) probeOnce(ctx context.Context, l *loop, start time.Time) domain.Outcome {
	pctx, cancel := context.WithTimeout(ctx, l.target.Timeout)
	defer cancel()
	out := l.prober.Probe(pctx, l.target)
	out.TargetID = l.target.ID
	if out.At.IsZero() {
		out.At = start
	}
	return out
}

func (s *Scheduler) record(ctx context.Context, out domain.Outcome) {
	s.log.Debug("probe_done",
		zap.String("target_id", string(out.TargetID)),
		zap.Bool("success", out.Success),
		zap.Duration("latency", out.Latency),
		zap.String("class", string(out.Class)),
		zap.String("error", out.Error),
	)
	_, _, err := s.recorder.Record(ctx, out)
	switch {
	case err == nil:
	case errors.Is(err, status.ErrClosed):
		s.log.Debug("record_after_close", zap.String("target_id", string(out.TargetID)))
	default:
		// persistence failures are already logged by the store
		s.log.Debug("record_error", zap.String("target_id", string(out.TargetID)), zap.Error(err))
	}
}
