// Package redis stores target states as JSON fields of one Redis hash,
// which lets several agents share a warm-start source.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
	"github.com/hamed0406/uptimed/internal/repo"
)

var _ repo.StateStore = (*Store)(nil)

const DefaultKey = "uptimed:states"

type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

type Store struct {
	client *goredis.Client
	key    string
	log    *zap.Logger
}

func New(ctx context.Context, opts Options, log *zap.Logger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}

	key := opts.Key
	if key == "" {
		key = DefaultKey
	}
	log.Info("state_store_ready", zap.String("backend", "redis"), zap.String("addr", opts.Addr), zap.String("key", key))
	return &Store{client: client, key: key, log: log}, nil
}

func (s *Store) Put(ctx context.Context, st domain.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state %s: %w", st.TargetID, err)
	}
	if err := s.client.HSet(ctx, s.key, string(st.TargetID), data).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", st.TargetID, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.State, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", s.key, err)
	}
	out := make([]domain.State, 0, len(fields))
	for id, raw := range fields {
		var st domain.State
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			s.log.Warn("state_decode_failed", zap.String("target_id", id), zap.Error(err))
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out, nil
}

func (s *Store) Close() error { return s.client.Close() }
