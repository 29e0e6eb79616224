// Command mplus runs the tournament service and its operator tools.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sponsorn/mythic-tournament/internal/adapters/repository"
	"github.com/Sponsorn/mythic-tournament/internal/config"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

type cli struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "mplus",
		Short: "Mythic+ tournament scoring service",
		Long: `mplus polls keystone runs from the reporting API, scores them against the
tournament brackets and serves a live leaderboard over HTTP and websockets.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file (overrides "+config.EnvConfigFile+")")

	root.AddCommand(c.serveCmd())
	root.AddCommand(c.pollCmd())
	root.AddCommand(c.teamsCmd())
	root.AddCommand(c.ledgerCmd())
	return root
}

// setup loads configuration and initializes logging for every subcommand.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if c.configPath != "" {
		if err := os.Setenv(config.EnvConfigFile, c.configPath); err != nil {
			return err
		}
	}
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return err
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithWriter(cmd.ErrOrStderr())); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(cmd.Context(), "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	c.cfg = cfg
	return nil
}

// openStore opens the configured store for the one-shot commands.
func (c *cli) openStore(ctx context.Context) (repository.Store, error) {
	return repository.Open(ctx, repository.Params{
		Backend:       c.cfg.StoreBackend,
		SQLitePath:    c.cfg.SQLitePath,
		RedisAddr:     c.cfg.RedisAddr,
		RedisPassword: c.cfg.RedisPassword,
		RedisDB:       c.cfg.RedisDB,
	}, repository.WithKeyPrefix(c.cfg.RedisPrefix))
}
