// Package api serves the REST read endpoints and the websocket gateway.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Sponsorn/mythic-tournament/internal/app/state"
	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/internal/domain/types"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

// LiveState is the live snapshot as the HTTP layer sees it: reads for REST,
// subscriptions for the gateway and the mutations admin commands use.
type LiveState interface {
	Snapshot() types.Snapshot
	Leaderboard() []types.Entry
	ActiveRuns() []types.ActiveRun
	Teams() []types.TeamView
	APIQuota() types.Quota
	Subscribe(fn state.Listener) (unsubscribe func())

	RefreshTeams(ctx context.Context) error
	RefreshLeaderboard(ctx context.Context) error
	SetTournamentStatus(status string) error
	ShowRecap(index int, d time.Duration) error
	OnRunClear(team string) bool
	ToggleRun(team string) (paused, ok bool)
	AnnotateRun(team, note string) bool
}

// Roster is the store surface used by history reads and admin writes.
type Roster interface {
	FindTeam(ctx context.Context, name string) (model.Team, error)
	UpdateTeam(ctx context.Context, u model.TeamUpdate) (model.Team, error)
	RenameTeam(ctx context.Context, oldName, newName string) (model.Team, error)
	Runs(ctx context.Context) ([]model.RunRecord, error)
}

// Refresher forces ingestion from admin commands.
type Refresher interface {
	// RefreshTeam runs a pass for one team and waits for it.
	RefreshTeam(ctx context.Context, name string) (newRuns int, err error)
	// RefreshAll schedules a full pass.
	RefreshAll()
}

// Server wires HTTP routes.
type Server struct {
	live    LiveState
	roster  Roster
	gateway *Gateway
	health  *HealthHandler
	history *HistoryHandler
	logger  logger.Logger
}

// NewServer creates the server and its gateway. Refresher may be nil, in
// which case force refresh commands fail.
func NewServer(live LiveState, roster Roster, refresher Refresher, opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		live:    live,
		roster:  roster,
		gateway: newGateway(live, roster, refresher, o),
		health:  NewHealthHandler(),
		history: NewHistoryHandler(roster, o.engine),
		logger:  o.logger,
	}
}

// Gateway returns the websocket gateway.
func (s *Server) Gateway() *Gateway { return s.gateway }

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)
	r.Use(MetricsMiddleware)

	r.Get("/health", s.health.HandleHealth)
	r.Get("/metrics", s.health.HandleMetrics)
	r.Get("/ws", s.gateway.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/active-runs", s.handleActiveRuns)
		r.Get("/quota", s.handleQuota)
		r.Get("/teams", s.handleTeams)

		r.Get("/dungeons", s.history.HandleDungeons)
		r.Get("/best-times", s.history.HandleBestTimes)
		r.Get("/dungeon-pars", s.history.HandleDungeonPars)
		r.Get("/dungeon-short-names", s.history.HandleShortNames)
		r.Get("/team-stats", s.history.HandleTeamStats)
	})
	return r
}

// Start subscribes the gateway to state changes. The returned function
// closes every client and unsubscribes.
func (s *Server) Start(ctx context.Context) (stop func()) {
	return s.gateway.start(ctx)
}
