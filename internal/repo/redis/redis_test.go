package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
)

func TestRedisStore_PutList(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping Redis integration test")
	}
	ctx := context.Background()
	key := fmt.Sprintf("uptimed:test:%d", time.Now().UnixNano())

	s, err := New(ctx, Options{Addr: addr, Key: key}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	defer s.client.Del(ctx, key)

	now := time.Now().UTC()
	require.NoError(t, s.Put(ctx, domain.State{TargetID: "b", Verdict: domain.VerdictUp, LastChecked: now}))
	require.NoError(t, s.Put(ctx, domain.State{TargetID: "a", Verdict: domain.VerdictDown, LastClass: domain.ClassTimeout}))
	require.NoError(t, s.client.HSet(ctx, key, "garbage", "{not json").Err())

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.TargetID("a"), list[0].TargetID)
	assert.Equal(t, domain.ClassTimeout, list[0].LastClass)
	assert.True(t, list[1].LastChecked.Equal(now))
}

func TestRedisStore_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, Options{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}
