// Package config defines service configuration and its loading.
//
// Values are layered by Load: built-in defaults, an optional .env file, an
// optional YAML file and MPLUS_* environment variables.
package config

import (
	"context"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":3000".
	Addr string `koanf:"addr"`

	// StoreBackend selects the persistence backend: sqlite or redis.
	StoreBackend  string `koanf:"store_backend"`
	SQLitePath    string `koanf:"sqlite_path"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`

	// Reporting API credentials and endpoints.
	WCLClientID     string `koanf:"wcl_client_id"`
	WCLClientSecret string `koanf:"wcl_client_secret"`
	WCLTokenURL     string `koanf:"wcl_token_url"`
	WCLGraphQLURL   string `koanf:"wcl_gql_url"`

	// Request policy for the reporting API.
	WCLTimeoutMS   int     `koanf:"wcl_timeout_ms"`
	WCLMaxRetries  int     `koanf:"wcl_max_retries"`
	WCLBaseDelayMS int     `koanf:"wcl_base_delay_ms"`
	WCLMaxDelayMS  int     `koanf:"wcl_max_delay_ms"`
	WCLRatePerSec  float64 `koanf:"wcl_rate_per_sec"`
	WCLBurst       int     `koanf:"wcl_burst"`

	// WCLRequireKill drops fights the source did not mark as killed.
	WCLRequireKill bool `koanf:"wcl_require_kill"`

	// Per-death penalties, split at keystone level 12.
	DeathPenaltyLT12Sec int `koanf:"death_penalty_lt12_sec"`
	DeathPenaltyGE12Sec int `koanf:"death_penalty_ge12_sec"`

	// RealmTZ is the zone EventStart and EventEnd are written in.
	RealmTZ            string `koanf:"realm_tz"`
	EventStart         string `koanf:"event_start"`
	EventEnd           string `koanf:"event_end"`
	EventEnforceWindow bool   `koanf:"event_enforce_window"`

	PollActiveMS int `koanf:"poll_active_ms"`
	PollIdleMS   int `koanf:"poll_idle_ms"`
	FetchWorkers int `koanf:"fetch_workers"`

	RecapDurationMS    int `koanf:"recap_duration_ms"`
	RecentRunsCapacity int `koanf:"recent_runs_capacity"`
	QuotaLimit         int `koanf:"quota_limit"`

	// AdminSecret gates admin commands. Empty disables the check.
	AdminSecret    string `koanf:"admin_secret"`
	TournamentName string `koanf:"tournament_name"`
}

// New returns a Config filled with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":3000",
		StoreBackend:        "sqlite",
		SQLitePath:          "data/tournament.db",
		RedisAddr:           "localhost:6379",
		RedisPrefix:         "mplus:",
		WCLTokenURL:         "https://www.warcraftlogs.com/oauth/token",
		WCLGraphQLURL:       "https://www.warcraftlogs.com/api/v2/client",
		WCLTimeoutMS:        30_000,
		WCLMaxRetries:       3,
		WCLBaseDelayMS:      1_000,
		WCLMaxDelayMS:       30_000,
		WCLRatePerSec:       5,
		WCLBurst:            5,
		WCLRequireKill:      true,
		DeathPenaltyLT12Sec: 5,
		DeathPenaltyGE12Sec: 15,
		RealmTZ:             "Europe/Stockholm",
		PollActiveMS:        30_000,
		PollIdleMS:          300_000,
		FetchWorkers:        4,
		RecapDurationMS:     15_000,
		RecentRunsCapacity:  10,
		QuotaLimit:          3_600,
		TournamentName:      "M+ Tournament",
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// WCLTimeout is the per-request timeout.
func (c *Config) WCLTimeout() time.Duration { return ms(c.WCLTimeoutMS) }

// WCLBaseDelay is the first retry delay.
func (c *Config) WCLBaseDelay() time.Duration { return ms(c.WCLBaseDelayMS) }

// WCLMaxDelay caps the retry delay.
func (c *Config) WCLMaxDelay() time.Duration { return ms(c.WCLMaxDelayMS) }

// PollActive is the poll interval while any run is in progress.
func (c *Config) PollActive() time.Duration { return ms(c.PollActiveMS) }

// PollIdle is the poll interval otherwise.
func (c *Config) PollIdle() time.Duration { return ms(c.PollIdleMS) }

// RecapDuration is how long a recap stays on screen.
func (c *Config) RecapDuration() time.Duration { return ms(c.RecapDurationMS) }

// HasCredentials reports whether both reporting API credentials are set.
func (c *Config) HasCredentials() bool {
	return c.WCLClientID != "" && c.WCLClientSecret != ""
}

// Location loads RealmTZ, falling back to UTC when it is empty.
func (c *Config) Location() (*time.Location, error) {
	if c.RealmTZ == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.RealmTZ)
}

const eventLayout = "2006-01-02 15:04"

// EventWindow parses EventStart and EventEnd in the realm zone. Unset bounds
// are returned as zero times.
func (c *Config) EventWindow() (start, end time.Time, err error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if c.EventStart != "" {
		if start, err = time.ParseInLocation(eventLayout, c.EventStart, loc); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if c.EventEnd != "" {
		if end, err = time.ParseInLocation(eventLayout, c.EventEnd, loc); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}
