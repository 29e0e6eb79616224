// Package service wires the store, the reporting API client, the live
// state, the collector, the poller and the HTTP layer into one process.
package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/adapters/http/api"
	"github.com/Sponsorn/mythic-tournament/internal/adapters/repository"
	"github.com/Sponsorn/mythic-tournament/internal/adapters/wcl"
	"github.com/Sponsorn/mythic-tournament/internal/app/collector"
	"github.com/Sponsorn/mythic-tournament/internal/app/poller"
	"github.com/Sponsorn/mythic-tournament/internal/app/state"
	"github.com/Sponsorn/mythic-tournament/internal/config"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
	"github.com/Sponsorn/mythic-tournament/pkg/metrics"
)

// Service owns the long-lived components.
type Service struct {
	mu sync.Mutex

	cfg *config.Config

	store     repository.Store
	ownsStore bool
	client    *wcl.Client
	live      *state.Manager
	collector *collector.Collector
	poller    *poller.Poller
	api       *api.Server

	// passMu keeps poller passes and admin refreshes from overlapping.
	passMu sync.Mutex

	started     bool
	cancel      context.CancelFunc
	done        chan struct{}
	stopGateway func()

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore uses an already open store instead of opening one from the
// configuration. The caller keeps ownership.
func WithStore(st repository.Store) Option {
	return func(s *Service) { s.store = st }
}

// New constructs a Service. Nothing is opened until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New(context.Background())
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Open builds every component without starting background work. Start
// calls it; the CLI uses it directly for one-shot commands.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(ctx)
}

func (s *Service) openLocked(ctx context.Context) error {
	if s.live != nil {
		return nil
	}
	cfg := s.cfg

	if s.store == nil {
		st, err := repository.Open(ctx, repository.Params{
			Backend:       cfg.StoreBackend,
			SQLitePath:    cfg.SQLitePath,
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			RedisDB:       cfg.RedisDB,
		}, repository.WithKeyPrefix(cfg.RedisPrefix))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		s.store = st
		s.ownsStore = true
	}

	s.live = state.New(s.store,
		state.WithTournamentName(cfg.TournamentName),
		state.WithRecentCapacity(cfg.RecentRunsCapacity),
		state.WithQuotaLimit(cfg.QuotaLimit),
	)
	live := s.live
	s.client = wcl.New(
		wcl.WithCredentials(cfg.WCLClientID, cfg.WCLClientSecret, cfg.WCLTokenURL),
		wcl.WithEndpoint(cfg.WCLGraphQLURL),
		wcl.WithTimeout(cfg.WCLTimeout()),
		wcl.WithRetry(cfg.WCLMaxRetries, cfg.WCLBaseDelay(), cfg.WCLMaxDelay()),
		wcl.WithRateLimit(cfg.WCLRatePerSec, cfg.WCLBurst),
		wcl.WithOnRequest(live.RecordAPIRequest),
	)

	start, end, err := cfg.EventWindow()
	if err != nil {
		s.closeStoreLocked()
		return fmt.Errorf("invalid event window: %w", err)
	}
	s.collector = collector.New(s.store, s.client,
		collector.WithRequireKill(cfg.WCLRequireKill),
		collector.WithDeathPenalties(secs(cfg.DeathPenaltyLT12Sec), secs(cfg.DeathPenaltyGE12Sec)),
		collector.WithEventWindow(start, end, cfg.EventEnforceWindow),
		collector.WithWorkers(cfg.FetchWorkers),
		collector.WithNotifier(live),
	)
	s.poller = poller.New(s, live,
		poller.WithIntervals(cfg.PollActive(), cfg.PollIdle()),
		poller.WithCredentials(cfg.HasCredentials()),
		poller.WithOnPass(s.announce),
	)
	s.api = api.NewServer(live, s.store, s,
		api.WithAdminSecret(cfg.AdminSecret),
		api.WithRecapDuration(cfg.RecapDuration()),
	)

	if err := live.Initialize(ctx); err != nil {
		s.closeStoreLocked()
		return fmt.Errorf("failed to load state: %w", err)
	}
	teams := live.Teams()
	metrics.UpdateTeams(len(teams))
	s.logger.Info(ctx, "state loaded",
		logger.Int("teams", len(teams)),
		logger.String("backend", cfg.StoreBackend),
		logger.Bool("credentials", cfg.HasCredentials()),
	)
	return nil
}

// Start opens the components and starts polling.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting tournament service...")
	if err := s.openLocked(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.stopGateway = s.api.Start(runCtx)
	go func() {
		defer close(s.done)
		_ = s.poller.Run(runCtx)
	}()

	s.started = true
	s.logger.Info(ctx, "tournament service started",
		logger.Duration("poll_active", s.cfg.PollActive()),
		logger.Duration("poll_idle", s.cfg.PollIdle()),
		logger.Int("fetch_workers", s.cfg.FetchWorkers),
	)
	return nil
}

// Stop halts polling, disconnects clients and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	if s.started {
		s.logger.Info(ctx, "stopping tournament service...")
		s.cancel()
		<-s.done
		s.stopGateway()
		s.started = false
	}
	s.closeStoreLocked()
	s.logger.Info(ctx, "tournament service stopped")
}

func (s *Service) closeStoreLocked() {
	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(context.Background(), "store close failed", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}
	s.live = nil
}

// Handler is the HTTP handler for the REST API and the gateway.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api.Routes()
}

// Store returns the persistence store.
func (s *Service) Store() repository.Store { return s.store }

// State returns the live state manager.
func (s *Service) State() *state.Manager { return s.live }

// CollectAndSync runs one ingestion pass.
func (s *Service) CollectAndSync(ctx context.Context) (collector.Result, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	return s.collector.CollectAndSync(ctx)
}

// RefreshTeam runs a pass for one team.
func (s *Service) RefreshTeam(ctx context.Context, name string) (int, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	res, err := s.collector.RefreshTeam(ctx, name)
	s.announce(res)
	return res.NewCount, err
}

// RefreshAll asks the poller for an immediate pass.
func (s *Service) RefreshAll() { s.poller.Trigger() }

func (s *Service) announce(res collector.Result) {
	for _, line := range res.Public {
		s.logger.Info(context.Background(), line)
	}
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
