package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/hamed0406/uptimed/internal/domain"
)

func TestProbeAll_BoundedAndOrdered(t *testing.T) {
	p := &fakeProber{delay: 20 * time.Millisecond}
	res := staticResolver{"a": p, "b": p, "c": p, "d": p}
	targets := []domain.Target{
		tcpTarget("d", time.Second), tcpTarget("a", time.Second),
		tcpTarget("c", time.Second), tcpTarget("b", time.Second),
	}

	got, err := ProbeAll(context.Background(), res, targets, 2)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, c := range got {
		assert.Equal(t, targets[i].ID, c.Target.ID)
		assert.Equal(t, targets[i].ID, c.Outcome.TargetID)
		assert.True(t, c.Outcome.Success)
	}
	assert.LessOrEqual(t, p.maxFlight.Load(), int32(2))
}

func TestProbeAll_SkipsInvalid(t *testing.T) {
	p := &fakeProber{delay: time.Millisecond}
	bad := tcpTarget("bad", time.Second)
	bad.FailureThreshold = 0

	got, err := ProbeAll(context.Background(), staticResolver{"ok": p}, []domain.Target{
		tcpTarget("ok", time.Second), bad, tcpTarget("orphan", time.Second),
	}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, domain.TargetID("ok"), got[0].Target.ID)
	assert.Len(t, multierr.Errors(err), 2)
	assert.True(t, errors.Is(err, domain.ErrInvalidTarget))
}
