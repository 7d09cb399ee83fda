// Package config loads the agent configuration from a YAML file and the
// environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/hamed0406/uptimed/internal/domain"
)

const EnvPrefix = "UPTIMED"

type Config struct {
	Server     ServerConfig    `mapstructure:"server"`
	Log        LogConfig       `mapstructure:"log"`
	Auth       AuthConfig      `mapstructure:"auth"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Storage    StorageConfig   `mapstructure:"storage"`
	Probe      ProbeConfig     `mapstructure:"probe"`
	Defaults   TargetDefaults  `mapstructure:"defaults"`
	RawTargets []RawTarget     `mapstructure:"targets"`

	// File is the config file actually read, empty when running on
	// defaults and environment only.
	File string `mapstructure:"-"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
}

type LogConfig struct {
	Dir     string `mapstructure:"dir"`
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type AuthConfig struct {
	PublicKeys []string `mapstructure:"public_keys"`
	AdminKeys  []string `mapstructure:"admin_keys"`
	Disabled   bool     `mapstructure:"disabled"`
}

type RateLimitConfig struct {
	RPM        int  `mapstructure:"rpm"`
	Burst      int  `mapstructure:"burst"`
	TrustProxy bool `mapstructure:"trust_proxy"`
}

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type StorageConfig struct {
	Backend         string        `mapstructure:"backend"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	DatabaseURL     string        `mapstructure:"database_url"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	RedisKey        string        `mapstructure:"redis_key"`
	WarmStartMaxAge time.Duration `mapstructure:"warm_start_max_age"`
}

type ProbeConfig struct {
	ICMPPrivileged bool   `mapstructure:"icmp_privileged"`
	DNSServer      string `mapstructure:"dns_server"`
	UserAgent      string `mapstructure:"user_agent"`
	// Concurrency bounds one-shot checks; scheduled probing is per target.
	Concurrency int `mapstructure:"concurrency"`
}

// TargetDefaults fill in whatever a target entry leaves unset.
type TargetDefaults struct {
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Method           string        `mapstructure:"method"`
	AcceptStatus     []string      `mapstructure:"accept_status"`
}

// RawTarget is one entry of the targets list as written in the file.
type RawTarget struct {
	ID               string        `mapstructure:"id"`
	Name             string        `mapstructure:"name"`
	Kind             string        `mapstructure:"kind"`
	Address          string        `mapstructure:"address"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Method           string        `mapstructure:"method"`
	AcceptStatus     []string      `mapstructure:"accept_status"`
	ExpectBanner     string        `mapstructure:"expect_banner"`
	Send             string        `mapstructure:"send"`
	SendHex          string        `mapstructure:"send_hex"`
	Server           string        `mapstructure:"server"`
	RecordType       string        `mapstructure:"record_type"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.shutdown_grace", "10s")
	v.SetDefault("server.read_timeout", "15s")

	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)

	v.SetDefault("auth.public_keys", []string{})
	v.SetDefault("auth.admin_keys", []string{})
	v.SetDefault("auth.disabled", false)

	v.SetDefault("rate_limit.rpm", 120)
	v.SetDefault("rate_limit.burst", 60)
	v.SetDefault("rate_limit.trust_proxy", false)

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite_path", "data/uptimed.db")
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_key", "uptimed:states")
	v.SetDefault("storage.warm_start_max_age", "10m")

	v.SetDefault("probe.icmp_privileged", false)
	v.SetDefault("probe.dns_server", "")
	v.SetDefault("probe.user_agent", "uptimed/1")
	v.SetDefault("probe.concurrency", 8)

	v.SetDefault("defaults.interval", "30s")
	v.SetDefault("defaults.timeout", "5s")
	v.SetDefault("defaults.failure_threshold", 3)
	v.SetDefault("defaults.success_threshold", 2)
	v.SetDefault("defaults.method", "GET")
	v.SetDefault("defaults.accept_status", []string{})
}

// legacyEnv maps keys to the plain environment names older deployments use.
var legacyEnv = map[string]string{
	"server.addr":          "API_ADDR",
	"log.dir":              "LOG_DIR",
	"storage.database_url": "DATABASE_URL",
	"auth.public_keys":     "PUBLIC_API_KEYS",
	"auth.admin_keys":      "ADMIN_API_KEYS",
}

// Load reads path (or uptimed.yaml from the working directory or
// /etc/uptimed when path is empty), then applies UPTIMED_* and legacy
// environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("uptimed")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/uptimed")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Auth.PublicKeys = splitKeys(cfg.Auth.PublicKeys)
	cfg.Auth.AdminKeys = splitKeys(cfg.Auth.AdminKeys)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitKeys flattens comma separated entries and drops blanks.
func splitKeys(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, k := range strings.Split(s, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
	}
	return out
}

// Validate checks process-level settings. Target entries are checked
// individually by Targets.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.ShutdownGrace < 0 {
		return errors.New("server.shutdown_grace must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.RateLimit.RPM < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("storage.database_url (or DATABASE_URL) is required for the postgres backend")
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q: want sqlite, postgres, redis or memory", c.Storage.Backend)
	}
	return nil
}

// TargetError describes one rejected target entry.
type TargetError struct {
	Index   int
	ID      string
	Address string
	Err     error
}

func (e TargetError) Error() string {
	return fmt.Sprintf("targets[%d] (%s %s): %v", e.Index, e.ID, e.Address, e.Err)
}

func (e TargetError) Unwrap() error { return e.Err }

// targetNamespace scopes derived target ids.
var targetNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/hamed0406/uptimed/targets"))

// DeriveID returns the stable id used for a target without an explicit id.
func DeriveID(kind domain.Kind, address string) domain.TargetID {
	return domain.TargetID(uuid.NewSHA1(targetNamespace, []byte(string(kind)+"|"+address)).String())
}

// Targets converts the raw entries, applying defaults and deriving ids.
// Bad entries never fail the whole set; they come back as TargetErrors.
func (c *Config) Targets() ([]domain.Target, []TargetError) {
	var (
		out  []domain.Target
		errs []TargetError
		seen = make(map[domain.TargetID]int)
	)
	for i, rt := range c.RawTargets {
		t, err := c.target(rt)
		if err == nil {
			if first, dup := seen[t.ID]; dup {
				err = fmt.Errorf("%w: id %s already used by targets[%d]", domain.ErrInvalidTarget, t.ID, first)
			}
		}
		if err != nil {
			errs = append(errs, TargetError{Index: i, ID: string(t.ID), Address: rt.Address, Err: err})
			continue
		}
		seen[t.ID] = i
		out = append(out, t)
	}
	return out, errs
}

func (c *Config) target(rt RawTarget) (domain.Target, error) {
	d := c.Defaults
	address := strings.TrimSpace(rt.Address)

	kind := domain.Kind(strings.ToLower(strings.TrimSpace(rt.Kind)))
	if kind == "" {
		kind = domain.KindICMP
		if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
			kind = domain.KindHTTP
		}
	}

	t := domain.Target{
		ID:               domain.TargetID(strings.TrimSpace(rt.ID)),
		Name:             rt.Name,
		Kind:             kind,
		Address:          address,
		Interval:         pick(rt.Interval, d.Interval),
		Timeout:          pick(rt.Timeout, d.Timeout),
		FailureThreshold: pick(rt.FailureThreshold, d.FailureThreshold),
		SuccessThreshold: pick(rt.SuccessThreshold, d.SuccessThreshold),
		ExpectBanner:     rt.ExpectBanner,
		Server:           rt.Server,
		RecordType:       rt.RecordType,
	}
	if t.ID == "" {
		t.ID = DeriveID(kind, address)
	}

	switch {
	case rt.Send != "" && rt.SendHex != "":
		return t, fmt.Errorf("%w: set send or send_hex, not both", domain.ErrInvalidTarget)
	case rt.SendHex != "":
		b, err := hex.DecodeString(strings.ReplaceAll(rt.SendHex, " ", ""))
		if err != nil {
			return t, fmt.Errorf("%w: send_hex: %v", domain.ErrInvalidTarget, err)
		}
		t.Send = b
	case rt.Send != "":
		t.Send = []byte(rt.Send)
	}
	if t.Name == "" {
		t.Name = address
	}

	if kind == domain.KindHTTP {
		t.Method = strings.ToUpper(pick(rt.Method, d.Method))
		ranges := rt.AcceptStatus
		if len(ranges) == 0 {
			ranges = d.AcceptStatus
		}
		for _, raw := range splitKeys(ranges) {
			r, err := domain.ParseStatusRange(raw)
			if err != nil {
				return t, fmt.Errorf("%w: %v", domain.ErrInvalidTarget, err)
			}
			t.AcceptStatus = append(t.AcceptStatus, r)
		}
	}

	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func pick[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
