// Package types contains the live tournament read shapes shared by the state
// manager and the HTTP layer.
package types

// Tournament status values.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusFinished = "finished"
)

// Team activity values shown on the leaderboard.
const (
	TeamIdle    = "idle"
	TeamRunning = "running"
)

// ValidStatus reports whether s is a tournament status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusActive, StatusPaused, StatusFinished:
		return true
	}
	return false
}

// Tournament is the header of the live snapshot.
type Tournament struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Round  int    `json:"round"`
}

// TeamView is a roster entry as clients see it.
type TeamView struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	ShortName  string `json:"shortName"`
	LeaderName string `json:"leaderName"`
	ReportURL  string `json:"wclUrl"`
	BackupURL  string `json:"wclBackupUrl"`
	Bracket    string `json:"bracket"`
	Status     string `json:"status"`
	LastRun    *int64 `json:"lastRun"` // epoch ms, nil before the first run
	RunCount   int    `json:"runCount"`
}

// Entry is one ranked leaderboard row.
type Entry struct {
	Rank         int    `json:"rank"`
	PreviousRank int    `json:"previousRank"`
	TeamName     string `json:"teamName"`
	Points       int    `json:"points"`
	Runs         int    `json:"runs"`
	LastRun      *int64 `json:"lastRun"`
	Status       string `json:"status"`
}

// Progress tracks an active run.
type Progress struct {
	Percentage   float64 `json:"percentage"`
	BossesKilled int     `json:"bossesKilled"`
	TotalBosses  int     `json:"totalBosses"`
	Elapsed      int64   `json:"elapsed"`
}

// ActiveRun is a run in progress. At most one per team.
type ActiveRun struct {
	ID            string   `json:"id"`
	TeamName      string   `json:"teamName"`
	FightID       int      `json:"fightId"`
	DungeonName   string   `json:"dungeonName"`
	KeystoneLevel int      `json:"keystoneLevel"`
	StartTime     int64    `json:"startTime"`
	Progress      Progress `json:"progress"`
	Deaths        int      `json:"deaths"`
	ParTime       int64    `json:"parTime"`
	Paused        bool     `json:"paused"`
	Note          string   `json:"note,omitempty"`
}

// Recap summarizes a finished run for the recent-runs list.
type Recap struct {
	TeamName      string  `json:"teamName"`
	DungeonName   string  `json:"dungeonName"`
	KeystoneLevel int     `json:"keystoneLevel"`
	Duration      int64   `json:"duration"`
	ParTime       int64   `json:"parTime"`
	TimeRemaining int64   `json:"timeRemaining"`
	Timed         bool    `json:"timed"`
	Upgrades      int     `json:"upgrades"`
	Deaths        int     `json:"deaths"`
	Points        int     `json:"points"`
	BlizzRating   int     `json:"blizzRating"`
	BossKills     []int64 `json:"bossKills,omitempty"`
	CompletedAt   string  `json:"completedAt"`
}

// Quota is the sliding one-hour API request window.
type Quota struct {
	Used       int     `json:"used"`
	Limit      int     `json:"limit"`
	ResetTime  int64   `json:"resetTime"`
	Remaining  int     `json:"remaining"`
	Percentage float64 `json:"percentage"`
}

// Snapshot is the full live state sent on connect.
type Snapshot struct {
	Tournament   Tournament  `json:"tournament"`
	Teams        []TeamView  `json:"teams"`
	Leaderboard  []Entry     `json:"leaderboard"`
	ActiveRuns   []ActiveRun `json:"activeRuns"`
	RecentRuns   []Recap     `json:"recentRuns"`
	APIQuota     Quota       `json:"apiQuota"`
	LastPollTime *int64      `json:"lastPollTime"`
	ServerTime   int64       `json:"serverTime"`
}
