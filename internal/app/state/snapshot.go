package state

import (
	"github.com/Sponsorn/mythic-tournament/internal/domain/types"
)

// Snapshot returns a deep copy of the live state stamped with server time.
func (m *Manager) Snapshot() types.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := types.Snapshot{
		Tournament:  m.snap.Tournament,
		Teams:       copyTeams(m.snap.Teams),
		Leaderboard: copyEntries(m.snap.Leaderboard),
		ActiveRuns:  copyRuns(m.snap.ActiveRuns),
		RecentRuns:  copyRecaps(m.snap.RecentRuns),
		APIQuota:    m.quotaLocked(),
		ServerTime:  m.now().UnixMilli(),
	}
	if m.snap.LastPollTime != nil {
		t := *m.snap.LastPollTime
		s.LastPollTime = &t
	}
	return s
}

// Leaderboard returns the ranked leaderboard.
func (m *Manager) Leaderboard() []types.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyEntries(m.snap.Leaderboard)
}

// ActiveRuns returns the runs in progress.
func (m *Manager) ActiveRuns() []types.ActiveRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyRuns(m.snap.ActiveRuns)
}

// Teams returns the roster view.
func (m *Manager) Teams() []types.TeamView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyTeams(m.snap.Teams)
}

// RecentRuns returns the recap history, newest first.
func (m *Manager) RecentRuns() []types.Recap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyRecaps(m.snap.RecentRuns)
}

// APIQuota returns the request window with derived remaining and percentage.
func (m *Manager) APIQuota() types.Quota {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quotaLocked()
}

// ShouldThrottle reports whether 80% or more of the hourly budget is used.
func (m *Manager) ShouldThrottle() bool {
	return m.APIQuota().Percentage >= throttlePercent
}

// Status returns the tournament status.
func (m *Manager) Status() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.Tournament.Status
}

// IsPaused reports whether the tournament is paused.
func (m *Manager) IsPaused() bool { return m.Status() == types.StatusPaused }

// HasActiveRuns reports whether any team has a run in progress.
func (m *Manager) HasActiveRuns() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snap.ActiveRuns) > 0
}

func (m *Manager) quotaLocked() types.Quota {
	q := m.snap.APIQuota
	q.Remaining = q.Limit - q.Used
	if q.Limit > 0 {
		q.Percentage = float64(q.Used) / float64(q.Limit) * 100
	}
	return q
}

func copyTeams(in []types.TeamView) []types.TeamView {
	out := make([]types.TeamView, len(in))
	copy(out, in)
	return out
}

func copyEntries(in []types.Entry) []types.Entry {
	out := make([]types.Entry, len(in))
	copy(out, in)
	return out
}

func copyRuns(in []types.ActiveRun) []types.ActiveRun {
	out := make([]types.ActiveRun, len(in))
	copy(out, in)
	return out
}

func copyRecap(r types.Recap) types.Recap {
	if r.BossKills != nil {
		r.BossKills = append([]int64(nil), r.BossKills...)
	}
	return r
}

func copyRecaps(in []types.Recap) []types.Recap {
	out := make([]types.Recap, len(in))
	for i, r := range in {
		out[i] = copyRecap(r)
	}
	return out
}
