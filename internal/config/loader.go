package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables that steer loading itself.
const (
	EnvPrefix     = "MPLUS_"
	EnvConfigFile = "MPLUS_CONFIG"
	EnvDotenvFile = "MPLUS_DOTENV"
)

// Load builds a Config by layering defaults, .env, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. .env file (MPLUS_DOTENV, default ".env"; missing file ignored). Its
//     entries only fill variables not already set in the process.
//  3. file (YAML) if MPLUS_CONFIG is set
//  4. env (prefix MPLUS_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	dotenv := os.Getenv(EnvDotenvFile)
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, dotenv, err)
	}

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// MPLUS_WCL_CLIENT_ID -> wcl_client_id (flat keys, underscores kept).
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field rules.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if c.Addr == "" {
		add("addr must not be empty")
	}
	switch c.StoreBackend {
	case "sqlite":
		if c.SQLitePath == "" {
			add("sqlite_path must not be empty")
		}
	case "redis":
		if c.RedisAddr == "" {
			add("redis_addr must not be empty")
		}
	default:
		add("store_backend %q must be sqlite or redis", c.StoreBackend)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		add("log_format %q must be text or json", c.LogFormat)
	}
	if c.WCLTimeoutMS <= 0 {
		add("wcl_timeout_ms must be positive")
	}
	if c.WCLMaxRetries < 0 {
		add("wcl_max_retries must not be negative")
	}
	if c.WCLBaseDelayMS <= 0 || c.WCLMaxDelayMS < c.WCLBaseDelayMS {
		add("wcl_base_delay_ms must be positive and not above wcl_max_delay_ms")
	}
	if c.WCLRatePerSec <= 0 || c.WCLBurst <= 0 {
		add("wcl_rate_per_sec and wcl_burst must be positive")
	}
	if c.DeathPenaltyLT12Sec < 0 || c.DeathPenaltyGE12Sec < 0 {
		add("death penalties must not be negative")
	}
	if c.PollActiveMS <= 0 || c.PollIdleMS <= 0 {
		add("poll intervals must be positive")
	}
	if c.FetchWorkers <= 0 {
		add("fetch_workers must be positive")
	}
	if c.RecentRunsCapacity <= 0 {
		add("recent_runs_capacity must be positive")
	}
	if c.QuotaLimit <= 0 {
		add("quota_limit must be positive")
	}
	if c.RecapDurationMS <= 0 {
		add("recap_duration_ms must be positive")
	}
	if start, end, err := c.EventWindow(); err != nil {
		add("event window: %v", err)
	} else if !start.IsZero() && !end.IsZero() && !end.After(start) {
		add("event_end must be after event_start")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
