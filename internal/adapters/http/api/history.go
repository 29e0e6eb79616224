package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/adapters/repository"
	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/internal/domain/scoring"
	"github.com/Sponsorn/mythic-tournament/pkg/metrics"
)

// LedgerReader reads the run ledger.
type LedgerReader interface {
	Runs(ctx context.Context) ([]model.RunRecord, error)
}

// HistoryHandler serves ledger queries and the scoring tables.
type HistoryHandler struct {
	ledger LedgerReader
	engine *scoring.Engine
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(ledger LedgerReader, engine *scoring.Engine) *HistoryHandler {
	if engine == nil {
		engine = scoring.Default()
	}
	return &HistoryHandler{ledger: ledger, engine: engine}
}

// bestRun is one row of /api/best-times.
type bestRun struct {
	Team        string `json:"team"`
	Level       int    `json:"level"`
	Duration    int64  `json:"duration"`
	Deaths      int    `json:"deaths"`
	Points      int    `json:"points"`
	CompletedAt string `json:"completedAt"`
}

func (h *HistoryHandler) runs(w http.ResponseWriter, r *http.Request) ([]model.RunRecord, bool) {
	start := time.Now()
	runs, err := h.ledger.Runs(r.Context())
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return nil, false
	}
	return runs, true
}

// HandleDungeons handles GET /api/dungeons.
func (h *HistoryHandler) HandleDungeons(w http.ResponseWriter, r *http.Request) {
	runs, ok := h.runs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, repository.DungeonNames(runs))
}

// HandleBestTimes handles GET /api/best-times?dungeon=.
func (h *HistoryHandler) HandleBestTimes(w http.ResponseWriter, r *http.Request) {
	runs, ok := h.runs(w, r)
	if !ok {
		return
	}
	best := repository.BestRunsPerDungeon(runs, r.URL.Query().Get("dungeon"))
	out := make(map[string][]bestRun, len(best))
	for dungeon, list := range best {
		rows := make([]bestRun, 0, len(list))
		for _, rec := range list {
			rows = append(rows, bestRun{
				Team:        rec.Team,
				Level:       rec.Level,
				Duration:    rec.DurationMS,
				Deaths:      rec.Deaths,
				Points:      rec.Points,
				CompletedAt: rec.FinishedAt.UTC().Format(time.RFC3339),
			})
		}
		out[dungeon] = rows
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleTeamStats handles GET /api/team-stats.
func (h *HistoryHandler) HandleTeamStats(w http.ResponseWriter, r *http.Request) {
	runs, ok := h.runs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, repository.TeamStats(runs))
}

// HandleDungeonPars handles GET /api/dungeon-pars.
func (h *HistoryHandler) HandleDungeonPars(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ParTimes())
}

// HandleShortNames handles GET /api/dungeon-short-names.
func (h *HistoryHandler) HandleShortNames(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ShortNames())
}
