package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/config"
	"github.com/hamed0406/uptimed/internal/domain"
	apimw "github.com/hamed0406/uptimed/internal/httpapi/middleware"
	"github.com/hamed0406/uptimed/internal/logging"
	"github.com/hamed0406/uptimed/internal/probe"
	"github.com/hamed0406/uptimed/internal/repo"
	"github.com/hamed0406/uptimed/internal/repo/memory"
	"github.com/hamed0406/uptimed/internal/repo/postgres"
	"github.com/hamed0406/uptimed/internal/repo/redis"
	"github.com/hamed0406/uptimed/internal/repo/sqlite"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(logging.Options{Dir: cfg.Log.Dir, Level: cfg.Log.Level, Console: cfg.Log.Console})
}

func newRegistry(cfg *config.Config) probe.Registry {
	return probe.NewRegistry(probe.Options{
		UserAgent:      cfg.Probe.UserAgent,
		ICMPPrivileged: cfg.Probe.ICMPPrivileged,
		DNSServer:      cfg.Probe.DNSServer,
	})
}

// loadTargets logs each rejected entry once and returns the rest.
func loadTargets(cfg *config.Config, log *zap.Logger) ([]domain.Target, []config.TargetError) {
	targets, errs := cfg.Targets()
	for _, e := range errs {
		log.Error("target_config_error",
			zap.Int("index", e.Index),
			zap.String("target_id", e.ID),
			zap.String("address", e.Address),
			zap.Error(e.Err))
	}
	return targets, errs
}

// openBackend connects the configured state store. Failing here is fatal
// for serve.
func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (repo.StateStore, error) {
	s := cfg.Storage
	switch s.Backend {
	case config.BackendSQLite:
		return sqlite.Open(s.SQLitePath, log)
	case config.BackendPostgres:
		return postgres.New(ctx, s.DatabaseURL, log)
	case config.BackendRedis:
		return redis.New(ctx, redis.Options{Addr: s.RedisAddr, Password: s.RedisPassword, DB: s.RedisDB, Key: s.RedisKey}, log)
	case config.BackendMemory:
		log.Warn("state_store_memory", zap.String("note", "verdicts will not survive a restart"))
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
}

func newAuthorizer(cfg *config.Config, log *zap.Logger) apimw.AdminAuthorizer {
	if cfg.Auth.Disabled {
		log.Warn("auth_disabled")
		return apimw.AllowAll{}
	}
	if len(cfg.Auth.PublicKeys) == 0 && len(cfg.Auth.AdminKeys) == 0 {
		log.Warn("auth_no_keys", zap.String("note", "every status request will be denied"))
	}
	return apimw.Keys{PublicKeys: cfg.Auth.PublicKeys, AdminKeys: cfg.Auth.AdminKeys}
}
