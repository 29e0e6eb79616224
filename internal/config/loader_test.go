package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Sponsorn/mythic-tournament/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		clearConfigEnvVars()
		// Never pick up a .env from the working directory.
		_ = os.Setenv(config.EnvDotenvFile, filepath.Join(dir, "missing.env"))
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":3000")
				convey.So(cfg.SQLitePath, convey.ShouldEqual, "data/tournament.db")
				convey.So(cfg.FetchWorkers, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("MPLUS_ADDR", ":8080")
			_ = os.Setenv("MPLUS_WCL_CLIENT_ID", "id")
			_ = os.Setenv("MPLUS_WCL_CLIENT_SECRET", "secret")
			_ = os.Setenv("MPLUS_FETCH_WORKERS", "8")
			_ = os.Setenv("MPLUS_WCL_REQUIRE_KILL", "false")
			_ = os.Setenv("MPLUS_WCL_RATE_PER_SEC", "2.5")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.HasCredentials(), convey.ShouldBeTrue)
				convey.So(cfg.FetchWorkers, convey.ShouldEqual, 8)
				convey.So(cfg.WCLRequireKill, convey.ShouldBeFalse)
				convey.So(cfg.WCLRatePerSec, convey.ShouldEqual, 2.5)
			})
		})

		convey.Convey("When loading config with a .env file", func() {
			dotenv := filepath.Join(dir, "test.env")
			_ = os.WriteFile(dotenv, []byte("MPLUS_ADMIN_SECRET=hunter2\nMPLUS_ADDR=:7000\n"), 0o600)
			_ = os.Setenv(config.EnvDotenvFile, dotenv)
			_ = os.Setenv("MPLUS_ADDR", ":8080")

			cfg, err := config.Load(ctx)

			convey.Convey("Then the file fills gaps but never beats the process env", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.AdminSecret, convey.ShouldEqual, "hunter2")
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(dir, `
addr: ":9090"
store_backend: redis
redis_addr: "cache:6379"
poll_active_ms: 10000
tournament_name: "Autumn Cup"
`)
			_ = os.Setenv(config.EnvConfigFile, tmpFile)
			_ = os.Setenv("MPLUS_ADDR", ":8080")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.StoreBackend, convey.ShouldEqual, "redis")
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "cache:6379")
				convey.So(cfg.PollActiveMS, convey.ShouldEqual, 10000)
				convey.So(cfg.TournamentName, convey.ShouldEqual, "Autumn Cup")
				convey.So(cfg.PollIdleMS, convey.ShouldEqual, 300000)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			_ = os.Setenv(config.EnvConfigFile, createTempConfigFile(dir, `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv(config.EnvConfigFile, "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an empty addr and an unknown backend", func() {
			_ = os.Setenv("MPLUS_ADDR", "")
			_ = os.Setenv("MPLUS_STORE_BACKEND", "postgres")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error naming both", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(err.Error(), convey.ShouldContainSubstring, "postgres")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the realm zone is unknown", func() {
			_ = os.Setenv("MPLUS_REALM_TZ", "Mars/Olympus")

			_, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

// createTempConfigFile writes content to a YAML file under dir.
func createTempConfigFile(dir, content string) string {
	f, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		panic(err)
	}
	return f.Name()
}

// clearConfigEnvVars unsets every MPLUS_ variable.
func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				if key := kv[:i]; len(key) > len(config.EnvPrefix) && key[:len(config.EnvPrefix)] == config.EnvPrefix {
					_ = os.Unsetenv(key)
				}
				break
			}
		}
	}
}
