package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/adapters/repository"
	"github.com/Sponsorn/mythic-tournament/internal/adapters/wcl"
	"github.com/Sponsorn/mythic-tournament/internal/app/state"
	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/internal/domain/types"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

const adminResponseType = "admin:response"

// Admin command names.
const (
	CmdSetReportCode = "admin:setReportCode"
	CmdUpdateTeam    = "admin:updateTeam"
	CmdForceRefresh  = "admin:forceRefresh"
	CmdTournament    = "admin:tournament"
	CmdShowRecap     = "admin:showRecap"
	CmdClearRun      = "admin:clearRun"
	CmdToggleRun     = "admin:toggleRun"
	CmdAnnotateRun   = "admin:annotateRun"
)

// adminRequest is the union of every admin command's fields.
type adminRequest struct {
	Secret       string `json:"secret"`
	TeamName     string `json:"teamName"`
	TeamNumber   int    `json:"teamNumber"`
	OriginalName string `json:"originalName"`
	NewTeamName  string `json:"newTeamName"`
	LeaderName   string `json:"leaderName"`
	ReportCode   string `json:"reportCode"`
	BackupCode   string `json:"backupCode"`
	Bracket      string `json:"bracket"`
	Action       string `json:"action"`
	RunIndex     int    `json:"runIndex"`
	Duration     int64  `json:"duration"` // ms
	Note         string `json:"note"`
}

type adminResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func ok(format string, args ...any) adminResponse {
	return adminResponse{Success: true, Message: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) adminResponse {
	return adminResponse{Success: false, Message: fmt.Sprintf(format, args...)}
}

type adminCommand func(g *Gateway, ctx context.Context, req adminRequest) adminResponse

var adminCommands = map[string]adminCommand{
	CmdSetReportCode: (*Gateway).setReportCode,
	CmdUpdateTeam:    (*Gateway).updateTeam,
	CmdForceRefresh:  (*Gateway).forceRefresh,
	CmdTournament:    (*Gateway).tournament,
	CmdShowRecap:     (*Gateway).showRecap,
	CmdClearRun:      (*Gateway).clearRun,
	CmdToggleRun:     (*Gateway).toggleRun,
	CmdAnnotateRun:   (*Gateway).annotateRun,
}

func isAdminType(t string) bool { return strings.HasPrefix(t, "admin:") }

// authorize checks the shared admin secret. Without a configured secret
// every command is allowed.
func (g *Gateway) authorize(secret string) error {
	if g.opts.secret == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(g.opts.secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// reportURL normalizes a report reference. An empty reference yields an
// empty URL; anything else must hold a valid code.
func reportURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	code, found := wcl.ExtractCode(raw)
	if !found {
		return "", fmt.Errorf("%w %q", wcl.ErrInvalidCode, raw)
	}
	return wcl.ReportURL(code), nil
}

// reportURLs resolves the primary and backup references of a request. An
// empty backup leaves the stored one untouched.
func reportURLs(req adminRequest) (primary string, backup *string, err error) {
	if primary, err = reportURL(req.ReportCode); err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(req.BackupCode) == "" {
		return primary, nil, nil
	}
	b, err := reportURL(req.BackupCode)
	if err != nil {
		return "", nil, err
	}
	return primary, &b, nil
}

func (g *Gateway) setReportCode(ctx context.Context, req adminRequest) adminResponse {
	if strings.TrimSpace(req.TeamName) == "" && req.TeamNumber <= 0 {
		return fail("teamName or teamNumber is required")
	}
	primary, backup, err := reportURLs(req)
	if err != nil {
		return fail("%v", err)
	}
	u := model.TeamUpdate{Name: req.TeamName, Slot: req.TeamNumber, ReportURL: &primary, BackupURL: backup}
	if _, err := g.roster.UpdateTeam(ctx, u); err != nil {
		return g.teamFailure(ctx, err)
	}
	g.refreshTeams(ctx)
	return ok("Report code updated")
}

func (g *Gateway) updateTeam(ctx context.Context, req adminRequest) adminResponse {
	name := req.OriginalName
	if name == "" {
		name = req.TeamName
	}
	primary, backup, err := reportURLs(req)
	if err != nil {
		return fail("%v", err)
	}
	existing, err := g.roster.FindTeam(ctx, name)
	if err != nil {
		return g.teamFailure(ctx, err)
	}

	leader := existing.Leader
	if req.LeaderName != "" {
		leader = req.LeaderName
	}
	u := model.TeamUpdate{Name: existing.Name, Leader: &leader, ReportURL: &primary, BackupURL: backup}
	if req.Bracket != "" {
		u.Bracket = &req.Bracket
	}
	if _, err := g.roster.UpdateTeam(ctx, u); err != nil {
		return g.teamFailure(ctx, err)
	}

	final := existing.Name
	if newName := strings.TrimSpace(req.NewTeamName); newName != "" && newName != existing.Name {
		if _, err := g.roster.RenameTeam(ctx, existing.Name, newName); err != nil {
			return g.teamFailure(ctx, err)
		}
		final = newName
	}

	g.refreshTeams(ctx)
	if err := g.live.RefreshLeaderboard(ctx); err != nil {
		g.logger.Warn(ctx, "leaderboard refresh failed", logger.Error(err))
	}
	return ok("Team %q updated", final)
}

func (g *Gateway) forceRefresh(ctx context.Context, req adminRequest) adminResponse {
	if g.refresher == nil {
		return fail("Refresh %s", ErrUnavailable)
	}
	if strings.TrimSpace(req.TeamName) == "" {
		g.refresher.RefreshAll()
		return ok("Refresh scheduled")
	}
	n, err := g.refresher.RefreshTeam(ctx, req.TeamName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail("Team not found")
		}
		return fail("%v", err)
	}
	return ok("Refreshed %s (%d new runs)", req.TeamName, n)
}

func (g *Gateway) tournament(_ context.Context, req adminRequest) adminResponse {
	var status string
	switch req.Action {
	case "pause":
		status = types.StatusPaused
	case "resume":
		status = types.StatusActive
	default:
		return fail("Unknown action %q", req.Action)
	}
	if err := g.live.SetTournamentStatus(status); err != nil {
		return fail("%v", err)
	}
	return ok("Tournament %sd", req.Action)
}

func (g *Gateway) showRecap(_ context.Context, req adminRequest) adminResponse {
	d := time.Duration(req.Duration) * time.Millisecond
	if err := g.live.ShowRecap(req.RunIndex, d); err != nil {
		if errors.Is(err, state.ErrRecapNotFound) {
			return fail("Run not found")
		}
		return fail("%v", err)
	}
	return ok("Recap triggered")
}

func (g *Gateway) clearRun(_ context.Context, req adminRequest) adminResponse {
	if !g.live.OnRunClear(req.TeamName) {
		return fail("No active run for %s", req.TeamName)
	}
	return ok("Run cleared")
}

func (g *Gateway) toggleRun(_ context.Context, req adminRequest) adminResponse {
	paused, found := g.live.ToggleRun(req.TeamName)
	if !found {
		return fail("No active run for %s", req.TeamName)
	}
	if paused {
		return ok("Run paused")
	}
	return ok("Run resumed")
}

func (g *Gateway) annotateRun(_ context.Context, req adminRequest) adminResponse {
	if !g.live.AnnotateRun(req.TeamName, req.Note) {
		return fail("No active run for %s", req.TeamName)
	}
	return ok("Note saved")
}

func (g *Gateway) refreshTeams(ctx context.Context) {
	if err := g.live.RefreshTeams(ctx); err != nil {
		g.logger.Warn(ctx, "team refresh failed", logger.Error(err))
	}
}

func (g *Gateway) teamFailure(ctx context.Context, err error) adminResponse {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fail("Team not found")
	case errors.Is(err, repository.ErrValidation), errors.Is(err, repository.ErrConflict):
		return fail("%v", err)
	default:
		g.logger.Error(ctx, "team update failed", logger.Error(err))
		return fail("Failed to update team")
	}
}
