// Package state holds the live tournament snapshot and fans out ordered
// change notifications to subscribers.
package state

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/internal/domain/scoring"
	"github.com/Sponsorn/mythic-tournament/internal/domain/types"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
	"github.com/Sponsorn/mythic-tournament/pkg/metrics"
)

// Default manager configuration constants.
const (
	defaultTournamentName = "M+ Tournament"
	defaultRecentCapacity = 10
	defaultQuotaLimit     = 3600
	defaultRecapDuration  = 15 * time.Second
	defaultTotalBosses    = 3
	defaultParTimeMS      = 1_800_000
	unknownDungeon        = "Unknown Dungeon"

	quotaWindow      = time.Hour
	throttlePercent  = 80.0
	isoMillis        = "2006-01-02T15:04:05.000Z07:00"
	shortNameLetters = 4
)

// Source is the durable state the snapshot is rebuilt from.
type Source interface {
	Teams(ctx context.Context) ([]model.Team, error)
	Leaderboard(ctx context.Context) (map[string]int, error)
	Meta(ctx context.Context) (map[string]model.TeamMeta, error)
}

// RunStart describes a run that just began. Zero fields take defaults.
type RunStart struct {
	FightID       int
	DungeonName   string
	KeystoneLevel int
	StartTime     int64 // epoch ms
	TotalBosses   int
	ParTime       int64 // ms
}

// ProgressUpdate changes an active run. Nil fields are kept, except Elapsed
// which is recomputed from the start time when nil.
type ProgressUpdate struct {
	Percentage   *float64
	BossesKilled *int
	TotalBosses  *int
	Elapsed      *int64
	Deaths       *int
}

type subscriber struct {
	id uint64
	fn Listener
}

// Manager owns the live snapshot. Every mutation updates the snapshot under
// a write lock and then delivers its events before the next mutation starts,
// so subscribers see changes in the order they were applied.
type Manager struct {
	src Source

	emitMu sync.Mutex
	mu     sync.RWMutex
	snap   types.Snapshot

	quotaHits []time.Time
	recentCap int

	subMu  sync.RWMutex
	subs   []subscriber
	nextID uint64

	now    func() time.Time
	logger logger.Logger
}

// New creates a Manager reading from src. Call Initialize before serving.
func New(src Source, opts ...Option) *Manager {
	m := &Manager{
		src: src,
		snap: types.Snapshot{
			Tournament:  types.Tournament{Name: defaultTournamentName, Status: types.StatusActive, Round: 1},
			Teams:       []types.TeamView{},
			Leaderboard: []types.Entry{},
			ActiveRuns:  []types.ActiveRun{},
			RecentRuns:  []types.Recap{},
			APIQuota:    types.Quota{Limit: defaultQuotaLimit},
		},
		recentCap: defaultRecentCapacity,
		now:       time.Now,
		logger:    logger.Get().Named("state"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.snap.APIQuota.ResetTime = m.now().Add(quotaWindow).UnixMilli()
	return m
}

// Initialize loads teams and the leaderboard without emitting events.
func (m *Manager) Initialize(ctx context.Context) error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	teams, points, meta, err := m.load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.snap.Teams = m.buildTeams(teams, meta)
	m.snap.Leaderboard = m.buildLeaderboard(points, meta)
	m.mu.Unlock()
	metrics.UpdateTeams(len(teams))
	return nil
}

// RefreshTeams reloads the roster and emits teams:update.
func (m *Manager) RefreshTeams(ctx context.Context) error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	teams, err := m.src.Teams(ctx)
	if err != nil {
		return fmt.Errorf("failed to load teams: %w", err)
	}
	meta, err := m.src.Meta(ctx)
	if err != nil {
		return fmt.Errorf("failed to load team meta: %w", err)
	}
	m.commit(func() []Event {
		m.snap.Teams = m.buildTeams(teams, meta)
		return []Event{{Type: EventTeams, Data: copyTeams(m.snap.Teams)}}
	})
	metrics.UpdateTeams(len(teams))
	return nil
}

// RefreshLeaderboard reloads point totals, re-ranks and emits
// scoreboard:update.
func (m *Manager) RefreshLeaderboard(ctx context.Context) error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	points, meta, err := m.loadScores(ctx)
	if err != nil {
		return err
	}
	m.commit(func() []Event {
		m.snap.Leaderboard = m.buildLeaderboard(points, meta)
		return []Event{{Type: EventScoreboard, Data: copyEntries(m.snap.Leaderboard)}}
	})
	return nil
}

// OnRunStart tracks a new active run, replacing any earlier one of the team.
func (m *Manager) OnRunStart(team string, d RunStart) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	run := types.ActiveRun{
		ID:            team + "-" + strconv.Itoa(d.FightID),
		TeamName:      team,
		FightID:       d.FightID,
		DungeonName:   d.DungeonName,
		KeystoneLevel: d.KeystoneLevel,
		StartTime:     d.StartTime,
		Progress:      types.Progress{TotalBosses: d.TotalBosses},
		ParTime:       d.ParTime,
	}
	if run.DungeonName == "" {
		run.DungeonName = unknownDungeon
	}
	if run.StartTime == 0 {
		run.StartTime = m.now().UnixMilli()
	}
	if run.Progress.TotalBosses == 0 {
		run.Progress.TotalBosses = defaultTotalBosses
	}
	if run.ParTime == 0 {
		run.ParTime = defaultParTimeMS
	}

	m.commit(func() []Event {
		m.removeActive(team)
		m.snap.ActiveRuns = append(m.snap.ActiveRuns, run)
		m.setTeamStatus(team, types.TeamRunning)
		return []Event{
			{Type: EventRunStart, Data: RunStarted{TeamName: team, Run: run}},
			{Type: EventActiveRuns, Data: copyRuns(m.snap.ActiveRuns)},
		}
	})
}

// OnRunProgress updates the team's active run. Returns false when the team
// has none.
func (m *Manager) OnRunProgress(team string, u ProgressUpdate) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	found := false
	m.commit(func() []Event {
		i := m.activeIndex(team)
		if i < 0 {
			return nil
		}
		found = true
		run := &m.snap.ActiveRuns[i]
		if u.Percentage != nil {
			run.Progress.Percentage = *u.Percentage
		}
		if u.BossesKilled != nil {
			run.Progress.BossesKilled = *u.BossesKilled
		}
		if u.TotalBosses != nil {
			run.Progress.TotalBosses = *u.TotalBosses
		}
		if u.Elapsed != nil {
			run.Progress.Elapsed = *u.Elapsed
		} else {
			run.Progress.Elapsed = m.now().UnixMilli() - run.StartTime
		}
		if u.Deaths != nil {
			run.Deaths = *u.Deaths
		}
		return []Event{{Type: EventRunProgress, Data: RunProgressed{
			TeamName: team,
			RunID:    run.ID,
			Progress: run.Progress,
			Deaths:   run.Deaths,
		}}}
	})
	return found
}

// OnRunComplete drops the team's active run if any, re-ranks, and records
// the recap at the head of the recent-run history. A failed leaderboard
// reload keeps the previous ranking and is returned after the events go out.
func (m *Manager) OnRunComplete(ctx context.Context, c model.Completion) error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	points, meta, loadErr := m.loadScores(ctx)
	if loadErr != nil {
		m.logger.Warn(ctx, "leaderboard reload failed", logger.String("team", c.Team), logger.Error(loadErr))
	}
	recap := m.recapOf(c)

	m.commit(func() []Event {
		m.removeActive(c.Team)
		m.setTeamStatus(c.Team, types.TeamIdle)
		if loadErr == nil {
			m.snap.Leaderboard = m.buildLeaderboard(points, meta)
		}
		m.snap.RecentRuns = append([]types.Recap{recap}, m.snap.RecentRuns...)
		if len(m.snap.RecentRuns) > m.recentCap {
			m.snap.RecentRuns = m.snap.RecentRuns[:m.recentCap]
		}
		return []Event{
			{Type: EventRunComplete, Data: RunCompleted{TeamName: c.Team, Recap: copyRecap(recap)}},
			{Type: EventActiveRuns, Data: copyRuns(m.snap.ActiveRuns)},
			{Type: EventScoreboard, Data: copyEntries(m.snap.Leaderboard)},
		}
	})
	return loadErr
}

// OnRunClear removes the team's active run without a recap. Returns whether
// one existed.
func (m *Manager) OnRunClear(team string) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	found := false
	m.commit(func() []Event {
		if !m.removeActive(team) {
			return nil
		}
		found = true
		m.setTeamStatus(team, types.TeamIdle)
		return []Event{{Type: EventActiveRuns, Data: copyRuns(m.snap.ActiveRuns)}}
	})
	return found
}

// ToggleRun flips the manual pause flag of the team's active run and
// returns the new value.
func (m *Manager) ToggleRun(team string) (paused, ok bool) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.commit(func() []Event {
		i := m.activeIndex(team)
		if i < 0 {
			return nil
		}
		ok = true
		m.snap.ActiveRuns[i].Paused = !m.snap.ActiveRuns[i].Paused
		paused = m.snap.ActiveRuns[i].Paused
		return []Event{{Type: EventActiveRuns, Data: copyRuns(m.snap.ActiveRuns)}}
	})
	return paused, ok
}

// AnnotateRun attaches an operator note to the team's active run.
func (m *Manager) AnnotateRun(team, note string) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	found := false
	m.commit(func() []Event {
		i := m.activeIndex(team)
		if i < 0 {
			return nil
		}
		found = true
		m.snap.ActiveRuns[i].Note = strings.TrimSpace(note)
		return []Event{{Type: EventActiveRuns, Data: copyRuns(m.snap.ActiveRuns)}}
	})
	return found
}

// ShowRecap emits recap:show for the recent run at index (0 is newest).
func (m *Manager) ShowRecap(index int, d time.Duration) error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	if d <= 0 {
		d = defaultRecapDuration
	}
	var err error
	m.commit(func() []Event {
		if index < 0 || index >= len(m.snap.RecentRuns) {
			err = fmt.Errorf("recap %d: %w", index, ErrRecapNotFound)
			return nil
		}
		return []Event{{Type: EventRecapShow, Data: RecapShown{
			Recap:    copyRecap(m.snap.RecentRuns[index]),
			Duration: d.Milliseconds(),
		}}}
	})
	return err
}

// RecordAPIRequest counts one outgoing request in the one-hour window.
func (m *Manager) RecordAPIRequest() {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.commit(func() []Event {
		now := m.now()
		if now.UnixMilli() >= m.snap.APIQuota.ResetTime {
			m.quotaHits = m.quotaHits[:0]
			m.snap.APIQuota.ResetTime = now.Add(quotaWindow).UnixMilli()
		}
		m.quotaHits = append(m.quotaHits, now)

		cutoff := now.Add(-quotaWindow)
		kept := m.quotaHits[:0]
		for _, t := range m.quotaHits {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		m.quotaHits = kept
		m.snap.APIQuota.Used = len(kept)
		metrics.UpdateAPIQuotaUsed(len(kept))
		return []Event{{Type: EventQuota, Data: m.quotaLocked()}}
	})
}

// OnPollComplete stamps the poll time and announces the next interval.
func (m *Manager) OnPollComplete(next time.Duration) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.commit(func() []Event {
		now := m.now().UnixMilli()
		m.snap.LastPollTime = &now
		return []Event{{Type: EventPollComplete, Data: PollCompleted{Time: now, NextInterval: next.Milliseconds()}}}
	})
}

// SetTournamentStatus changes the tournament status.
func (m *Manager) SetTournamentStatus(status string) error {
	if !types.ValidStatus(status) {
		return fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.commit(func() []Event {
		m.snap.Tournament.Status = status
		return []Event{{Type: EventTournamentStatus, Data: StatusChanged{Status: status}}}
	})
	return nil
}

// Subscribe registers fn and returns a function that removes it.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// commit applies fn under the write lock, then delivers what it returned.
// Callers hold emitMu.
func (m *Manager) commit(fn func() []Event) {
	m.mu.Lock()
	events := fn()
	active := len(m.snap.ActiveRuns)
	m.mu.Unlock()

	metrics.UpdateActiveRuns(active)
	if len(events) == 0 {
		return
	}

	m.subMu.RLock()
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.subMu.RUnlock()

	for _, ev := range events {
		for _, s := range subs {
			s.fn(ev)
		}
		metrics.RecordEventPublished(string(ev.Type))
	}
}

func (m *Manager) load(ctx context.Context) ([]model.Team, map[string]int, map[string]model.TeamMeta, error) {
	teams, err := m.src.Teams(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load teams: %w", err)
	}
	points, meta, err := m.loadScores(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return teams, points, meta, nil
}

func (m *Manager) loadScores(ctx context.Context) (map[string]int, map[string]model.TeamMeta, error) {
	points, err := m.src.Leaderboard(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	meta, err := m.src.Meta(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load team meta: %w", err)
	}
	return points, meta, nil
}

func (m *Manager) recapOf(c model.Completion) types.Recap {
	at := c.CompletedAt
	if at.IsZero() {
		at = m.now()
	}
	var kills []int64
	if len(c.BossKills) > 0 {
		kills = append([]int64(nil), c.BossKills...)
	}
	return types.Recap{
		TeamName:      c.Team,
		DungeonName:   c.Dungeon,
		KeystoneLevel: c.Level,
		Duration:      c.DurationMS,
		ParTime:       c.ParMS,
		TimeRemaining: c.ParMS - c.DurationMS,
		Timed:         c.InTime,
		Upgrades:      c.Upgrades,
		Deaths:        c.Deaths,
		Points:        c.Points,
		BlizzRating:   c.Rating,
		BossKills:     kills,
		CompletedAt:   at.UTC().Format(isoMillis),
	}
}

// The helpers below expect m.mu to be held.

func (m *Manager) activeIndex(team string) int {
	key := model.TeamKey(team)
	for i, r := range m.snap.ActiveRuns {
		if model.TeamKey(r.TeamName) == key {
			return i
		}
	}
	return -1
}

func (m *Manager) removeActive(team string) bool {
	i := m.activeIndex(team)
	if i < 0 {
		return false
	}
	m.snap.ActiveRuns = append(m.snap.ActiveRuns[:i], m.snap.ActiveRuns[i+1:]...)
	return true
}

func (m *Manager) isActive(team string) bool { return m.activeIndex(team) >= 0 }

func (m *Manager) statusOf(team string) string {
	if m.isActive(team) {
		return types.TeamRunning
	}
	return types.TeamIdle
}

func (m *Manager) setTeamStatus(team, status string) {
	key := model.TeamKey(team)
	for i := range m.snap.Teams {
		if model.TeamKey(m.snap.Teams[i].Name) == key {
			m.snap.Teams[i].Status = status
		}
	}
	for i := range m.snap.Leaderboard {
		if model.TeamKey(m.snap.Leaderboard[i].TeamName) == key {
			m.snap.Leaderboard[i].Status = status
		}
	}
}

func (m *Manager) buildTeams(teams []model.Team, meta map[string]model.TeamMeta) []types.TeamView {
	byKey := foldMeta(meta)
	out := make([]types.TeamView, 0, len(teams))
	for _, t := range teams {
		tm := byKey[t.Key()]
		out = append(out, types.TeamView{
			ID:         t.Slot,
			Name:       t.Name,
			ShortName:  shortName(t.Name),
			LeaderName: t.Leader,
			ReportURL:  t.ReportURL,
			BackupURL:  t.BackupURL,
			Bracket:    string(scoring.NormalizeBracket(t.Bracket)),
			Status:     m.statusOf(t.Name),
			LastRun:    lastRun(tm),
			RunCount:   tm.Runs,
		})
	}
	return out
}

// buildLeaderboard ranks every team with points plus every roster team
// without any. Order: points desc, runs desc, name asc.
func (m *Manager) buildLeaderboard(points map[string]int, meta map[string]model.TeamMeta) []types.Entry {
	byKey := foldMeta(meta)
	entries := make([]types.Entry, 0, len(points)+len(m.snap.Teams))
	seen := make(map[string]struct{}, len(points))
	for name, p := range points {
		tm := byKey[model.TeamKey(name)]
		entries = append(entries, types.Entry{TeamName: name, Points: p, Runs: tm.Runs, LastRun: lastRun(tm)})
		seen[model.TeamKey(name)] = struct{}{}
	}
	for _, t := range m.snap.Teams {
		if _, ok := seen[model.TeamKey(t.Name)]; ok {
			continue
		}
		tm := byKey[model.TeamKey(t.Name)]
		entries = append(entries, types.Entry{TeamName: t.Name, Runs: tm.Runs, LastRun: lastRun(tm)})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.Runs != b.Runs {
			return a.Runs > b.Runs
		}
		return a.TeamName < b.TeamName
	})

	prev := make(map[string]int, len(m.snap.Leaderboard))
	for _, e := range m.snap.Leaderboard {
		prev[model.TeamKey(e.TeamName)] = e.Rank
	}
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].PreviousRank = i + 1
		if r, ok := prev[model.TeamKey(entries[i].TeamName)]; ok {
			entries[i].PreviousRank = r
		}
		entries[i].Status = m.statusOf(entries[i].TeamName)
	}
	return entries
}

func foldMeta(meta map[string]model.TeamMeta) map[string]model.TeamMeta {
	out := make(map[string]model.TeamMeta, len(meta))
	for name, tm := range meta {
		out[model.TeamKey(name)] = tm
	}
	return out
}

func lastRun(tm model.TeamMeta) *int64 {
	if tm.Last.IsZero() {
		return nil
	}
	ms := tm.Last.UnixMilli()
	return &ms
}

func shortName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "UNK"
	}
	r := []rune(name)
	if len(r) > shortNameLetters {
		r = r[:shortNameLetters]
	}
	return strings.ToUpper(string(r))
}
