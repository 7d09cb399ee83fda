// Package notify fans committed verdict transitions out to in-process
// consumers (the log, the websocket feed).
package notify

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
)

// Sink receives transitions in commit order per target. Publish is called
// while the target's cell is locked, so implementations must not block.
type Sink interface {
	Publish(tr domain.Transition) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(domain.Transition) error

func (f SinkFunc) Publish(tr domain.Transition) error { return f(tr) }

type Multi []Sink

func (m Multi) Publish(tr domain.Transition) error {
	var err error
	for _, s := range m {
		if s == nil {
			continue
		}
		err = multierr.Append(err, s.Publish(tr))
	}
	return err
}

// Log writes each transition as a status_transition event. DOWN transitions
// are logged at warn level.
type Log struct {
	L *zap.Logger
}

func (l Log) Publish(tr domain.Transition) error {
	lvl := zap.InfoLevel
	if tr.To == domain.VerdictDown {
		lvl = zap.WarnLevel
	}
	l.L.Log(lvl, "status_transition",
		zap.String("target_id", string(tr.TargetID)),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.Time("at", tr.At),
		zap.Duration("last_latency", tr.State.LastLatency),
		zap.String("last_error", tr.State.LastError),
		zap.String("last_class", string(tr.State.LastClass)),
	)
	return nil
}
