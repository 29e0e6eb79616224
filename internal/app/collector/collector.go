// Package collector runs ingestion passes: fetch every team's reports, keep
// the fights that qualify, score them and commit each accepted run once.
package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Sponsorn/mythic-tournament/internal/adapters/mq/worker"
	"github.com/Sponsorn/mythic-tournament/internal/adapters/repository"
	"github.com/Sponsorn/mythic-tournament/internal/adapters/wcl"
	"github.com/Sponsorn/mythic-tournament/internal/domain/dedupe"
	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/internal/domain/scoring"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
	"github.com/Sponsorn/mythic-tournament/pkg/metrics"
)

// Default collector configuration constants.
const (
	defaultWorkers      = 4
	defaultPenaltyLow   = 5 * time.Second
	defaultPenaltyHigh  = 15 * time.Second
	penaltyLevelSplit   = 12
	keystoneStartOffset = 10 * time.Second
)

// Fetcher is the part of the reporting API the collector uses.
type Fetcher interface {
	FetchReport(ctx context.Context, code string) (model.Report, error)
	CountDeaths(ctx context.Context, code string, fightID int) (int, error)
	BossKillTimes(ctx context.Context, code string, fightID int, fightStart int64) ([]int64, error)
}

// Notifier is the live state refreshed after a pass.
type Notifier interface {
	RefreshTeams(ctx context.Context) error
	RefreshLeaderboard(ctx context.Context) error
	OnRunComplete(ctx context.Context, c model.Completion) error
}

// Result summarizes one pass.
type Result struct {
	NewCount    int
	Notices     []string // operator messages
	Public      []string // one line per accepted run, safe for viewers
	Completions []model.Completion
}

// Collector is not safe for overlapping passes; the poller never starts a
// pass before the previous one returns.
type Collector struct {
	store    repository.Store
	api      Fetcher
	engine   *scoring.Engine
	notifier Notifier

	requireKill   bool
	penaltyLow    time.Duration
	penaltyHigh   time.Duration
	windowStart   time.Time
	windowEnd     time.Time
	enforceWindow bool
	workers       int

	logger logger.Logger
}

// New creates a Collector.
func New(store repository.Store, api Fetcher, opts ...Option) *Collector {
	c := &Collector{
		store:       store,
		api:         api,
		engine:      scoring.Default(),
		requireKill: true,
		penaltyLow:  defaultPenaltyLow,
		penaltyHigh: defaultPenaltyHigh,
		workers:     defaultWorkers,
		logger:      logger.Get().Named("collector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CollectAndSync runs one pass over the whole roster.
func (c *Collector) CollectAndSync(ctx context.Context) (Result, error) {
	teams, err := c.store.Teams(ctx)
	if err != nil {
		metrics.RecordPass("error", 0, 0)
		return Result{}, fmt.Errorf("failed to load teams: %w", err)
	}
	return c.run(ctx, teams)
}

// RefreshTeam runs a pass for a single team.
func (c *Collector) RefreshTeam(ctx context.Context, name string) (Result, error) {
	team, err := c.store.FindTeam(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("refresh %q: %w", name, err)
	}
	return c.run(ctx, []model.Team{team})
}

func (c *Collector) run(ctx context.Context, teams []model.Team) (Result, error) {
	start := time.Now()
	passLog := c.logger.Named("pass")
	passID := uuid.NewString()

	res, err := c.collect(ctx, passID, teams)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordPass("error", float64(elapsed.Milliseconds()), res.NewCount)
		passLog.Error(ctx, "pass failed",
			logger.String("pass_id", passID),
			logger.Int("new_runs", res.NewCount),
			logger.Error(err),
		)
	} else {
		metrics.RecordPass("ok", float64(elapsed.Milliseconds()), res.NewCount)
		passLog.Info(ctx, "pass finished",
			logger.String("pass_id", passID),
			logger.Int("teams", len(teams)),
			logger.Int("new_runs", res.NewCount),
			logger.Duration("elapsed", elapsed),
		)
	}
	metrics.RecordNotices(len(res.Notices))

	// Committed runs are synced even when part of the pass failed.
	if c.notifier != nil && (err == nil || res.NewCount > 0) {
		c.sync(ctx, res)
	}
	return res, err
}

// sync pushes the committed results into the live state. Failures here
// leave the store correct and are only logged.
func (c *Collector) sync(ctx context.Context, res Result) {
	if err := c.notifier.RefreshTeams(ctx); err != nil {
		c.logger.Warn(ctx, "team refresh failed", logger.Error(err))
	}
	if err := c.notifier.RefreshLeaderboard(ctx); err != nil {
		c.logger.Warn(ctx, "leaderboard refresh failed", logger.Error(err))
	}
	for _, comp := range res.Completions {
		if err := c.notifier.OnRunComplete(ctx, comp); err != nil {
			c.logger.Warn(ctx, "run completion update failed", logger.String("team", comp.Team), logger.Error(err))
		}
	}
}

type pass struct {
	id         string
	seen       dedupe.Deduper
	res        Result
	authFailed bool
}

func (p *pass) notice(format string, args ...any) {
	p.res.Notices = append(p.res.Notices, fmt.Sprintf(format, args...))
}

func (c *Collector) collect(ctx context.Context, passID string, teams []model.Team) (Result, error) {
	if len(teams) == 0 {
		return Result{}, nil
	}
	keys, err := c.store.Seen(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load seen runs: %w", err)
	}
	p := &pass{id: passID, seen: dedupe.NewInMemoryDeduper(dedupe.WithSeed(keys))}

	byName := make(map[string]model.Team, len(teams))
	var jobs []model.ReportJob
	for _, t := range teams {
		byName[t.Name] = t
		codes := c.codes(p, t)
		if len(codes) == 0 {
			p.notice("[WCL Info] team=%s has no report codes", t.Name)
			continue
		}
		for _, code := range codes {
			jobs = append(jobs, model.ReportJob{Index: len(jobs), Team: t.Name, Code: code})
		}
	}

	authFailed := func(err error) bool { return errors.Is(err, wcl.ErrAuth) }
	var failures []error
	for _, r := range worker.FetchAll(ctx, c.api, jobs, c.workers, authFailed) {
		team := byName[r.Job.Team]
		switch {
		case errors.Is(r.Err, worker.ErrSkipped):
			p.notice("[WCL] %s: skipped %s after credential failure", team.Name, r.Job.Code)
			continue
		case authFailed(r.Err):
			if !p.authFailed {
				p.authFailed = true
				c.logger.Warn(ctx, "reporting API rejected credentials", logger.String("team", team.Name), logger.Error(r.Err))
			}
			p.notice("[WCL] %s: failed %s: %v", team.Name, r.Job.Code, r.Err)
			continue
		case r.Err != nil:
			p.notice("[WCL] %s: failed %s: %v", team.Name, r.Job.Code, r.Err)
			continue
		}
		p.notice("[WCL Info] team=%s code=%s fights=%d", team.Name, r.Job.Code, len(r.Report.Fights))
		for _, f := range r.Report.Fights {
			if err := c.processFight(ctx, p, team, r.Report, f); err != nil {
				p.notice("[WCL] %s: commit failed id=%d: %v", team.Name, f.ID, err)
				failures = append(failures, err)
			}
		}
	}
	for _, n := range p.res.Notices {
		c.logger.Info(ctx, n, logger.String("pass_id", p.id))
	}
	c.logger.Debug(ctx, "dedup keys recorded",
		logger.String("pass_id", p.id),
		logger.Int("new_keys", len(p.seen.Added())),
		logger.Int64("known_keys", p.seen.Size()),
	)
	return p.res, errors.Join(failures...)
}

// codes extracts the unique report codes of a team, primary first.
func (c *Collector) codes(p *pass, t model.Team) []string {
	var out []string
	for _, raw := range []string{t.ReportURL, t.BackupURL} {
		if raw == "" {
			continue
		}
		code, ok := wcl.ExtractCode(raw)
		if !ok {
			p.notice("[WCL Info] team=%s invalid report reference %q", t.Name, raw)
			continue
		}
		if len(out) == 0 || out[0] != code {
			out = append(out, code)
		}
	}
	return out
}

// processFight applies the acceptance rules to one fight and commits it.
// Only a store failure is returned; it fails that run alone and everything
// else becomes a notice.
func (c *Collector) processFight(ctx context.Context, p *pass, team model.Team, rep model.Report, f model.Fight) error {
	level := f.KeystoneLevel
	if level <= 0 {
		metrics.RecordRunSkipped("no_level")
		return nil
	}
	if c.requireKill && !f.Kill {
		metrics.RecordRunSkipped("not_killed")
		p.notice("[WCL Info] cancelled run from team=%s name=%s lvl=%d id=%d", team.Name, f.Name, level, f.ID)
		return nil
	}

	st, en := f.AbsStart(rep.StartMS), f.AbsEnd(rep.StartMS)
	if en <= st {
		metrics.RecordRunSkipped("bad_times")
		p.notice("[WCL Info] skip bad times id=%d st=%d en=%d", f.ID, st, en)
		return nil
	}
	if c.outsideWindow(st) {
		metrics.RecordRunSkipped("outside_window")
		p.notice("[WCL Info] %s started run outside of event window id=%d", team.Name, f.ID)
		return nil
	}

	finished := time.UnixMilli(en).UTC()
	key := dedupe.Key(team.Name, f.Name, level, finished, dedupe.DefaultBucket)
	if p.seen.Seen(ctx, key) {
		metrics.RecordRunDuplicate()
		p.notice("[WCL Info] skip seen id=%d", f.ID)
		return nil
	}

	deaths, err := c.api.CountDeaths(ctx, rep.Code, f.ID)
	if err != nil {
		c.logger.Debug(ctx, "death count unavailable", logger.String("code", rep.Code), logger.Int("fight", f.ID), logger.Error(err))
		deaths = 0
	}
	kills, err := c.api.BossKillTimes(ctx, rep.Code, f.ID, f.StartMS)
	if err != nil {
		c.logger.Debug(ctx, "boss kills unavailable", logger.String("code", rep.Code), logger.Int("fight", f.ID), logger.Error(err))
		kills = nil
	}

	duration := c.adjustedDuration(f, st, en, deaths)
	score := c.engine.Score(scoring.Input{
		Activity:   f.Name,
		DurationMS: duration,
		Level:      level,
		Bracket:    team.Bracket,
		Bonus:      f.KeystoneBonus,
	})
	rating := 0
	if f.Rating != nil {
		rating = int(math.Round(*f.Rating))
	}

	rec := model.RunRecord{
		FinishedAt: finished,
		Team:       team.Name,
		Dungeon:    f.Name,
		Level:      level,
		Upgrades:   score.Upgrades,
		Rating:     rating,
		InTime:     score.InTime,
		Points:     score.Points,
		Deaths:     deaths,
		DurationMS: duration,
		BossKills:  kills,
	}
	switch err := c.store.CommitRun(ctx, key, rec); {
	case errors.Is(err, repository.ErrDuplicate):
		p.seen.SeenAndRecord(ctx, key)
		metrics.RecordRunDuplicate()
		p.notice("[WCL Info] skip seen id=%d", f.ID)
		return nil
	case err != nil:
		metrics.RecordErrorByComponent("collector", "commit")
		return fmt.Errorf("commit run %s: %w", key, err)
	}
	p.seen.SeenAndRecord(ctx, key)
	metrics.RecordRunAccepted(score.Points)

	par, _ := c.engine.ParTime(f.Name)
	p.res.NewCount++
	p.res.Completions = append(p.res.Completions, model.Completion{
		Team:        team.Name,
		Slot:        team.Slot,
		Dungeon:     f.Name,
		Level:       level,
		DurationMS:  duration,
		ParMS:       par,
		InTime:      score.InTime,
		Upgrades:    score.Upgrades,
		Deaths:      deaths,
		Points:      score.Points,
		Rating:      rating,
		BossKills:   kills,
		CompletedAt: finished,
	})

	upgrades := "depleted"
	if score.InTime {
		upgrades = "+" + strconv.Itoa(score.Upgrades)
	}
	p.notice("%s completed %s +%d, %s, timer: %s, points: %d",
		teamLabel(team), f.Name, level, upgrades, FormatTimer(duration), score.Points)
	p.res.Public = append(p.res.Public, fmt.Sprintf("A team completed %s +%d", f.Name, level))
	return nil
}

func (c *Collector) outsideWindow(startMS int64) bool {
	if !c.enforceWindow || c.windowStart.IsZero() || c.windowEnd.IsZero() {
		return false
	}
	return startMS < c.windowStart.UnixMilli() || startMS > c.windowEnd.UnixMilli()
}

// adjustedDuration prefers the keystone timer. Without it the wall time
// minus the start countdown is used, plus a penalty per death.
func (c *Collector) adjustedDuration(f model.Fight, st, en int64, deaths int) int64 {
	if f.KeystoneTimeMS > 0 {
		return f.KeystoneTimeMS
	}
	base := en - st - keystoneStartOffset.Milliseconds()
	if base < 0 {
		base = 0
	}
	penalty := c.penaltyLow
	if f.KeystoneLevel >= penaltyLevelSplit {
		penalty = c.penaltyHigh
	}
	if deaths < 0 {
		deaths = 0
	}
	return base + int64(deaths)*penalty.Milliseconds()
}

func teamLabel(t model.Team) string {
	if t.Slot > 0 {
		return fmt.Sprintf("%s (Team %d)", t.Name, t.Slot)
	}
	return t.Name
}

// FormatTimer renders ms as m:ss, or h:mm:ss from one hour.
func FormatTimer(ms int64) string {
	if ms <= 0 {
		return "0:00"
	}
	total := ms / 1000
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
