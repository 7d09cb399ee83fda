package repo

import (
	"context"

	"github.com/hamed0406/uptimed/internal/domain"
)

// StateStore persists the latest State of each target so a restarted agent
// can warm start. Put is an upsert keyed by State.TargetID.
type StateStore interface {
	Put(ctx context.Context, s domain.State) error
	List(ctx context.Context) ([]domain.State, error)
	Close() error
}
