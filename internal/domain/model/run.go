package model

import "time"

// RunRecord is one row of the append-only ledger. Never mutated once written.
type RunRecord struct {
	FinishedAt time.Time `json:"finished_at"`
	Team       string    `json:"team"`
	Dungeon    string    `json:"dungeon"`
	Level      int       `json:"level"`
	Upgrades   int       `json:"upgrades"`
	Rating     int       `json:"blizz_rating"`
	InTime     bool      `json:"in_time"`
	Points     int       `json:"points"`
	Deaths     int       `json:"deaths"`
	DurationMS int64     `json:"duration_ms"`
	BossKills  []int64   `json:"boss_kills"` // ms from run start, ascending
	Character  string    `json:"character"`
	Realm      string    `json:"realm"`
	Region     string    `json:"region"`
}

// Report is the subset of a source report the collector consumes.
type Report struct {
	Code    string
	StartMS int64 // epoch ms; fight offsets are relative to this
	Fights  []Fight
}

// Fight is one keystone attempt inside a report. Optional source fields are
// pointers so that "absent" and "zero" stay distinguishable.
type Fight struct {
	ID             int
	Name           string
	StartMS        int64
	EndMS          int64
	KeystoneLevel  int
	KeystoneTimeMS int64
	KeystoneBonus  *int
	Rating         *float64
	Kill           bool
}

// AbsStart returns the fight start as epoch ms.
func (f Fight) AbsStart(reportStart int64) int64 { return reportStart + f.StartMS }

// AbsEnd returns the fight end as epoch ms.
func (f Fight) AbsEnd(reportStart int64) int64 { return reportStart + f.EndMS }

// Completion summarizes one accepted run for fan-out.
type Completion struct {
	Team        string    `json:"teamName"`
	Slot        int       `json:"teamNumber"`
	Dungeon     string    `json:"dungeonName"`
	Level       int       `json:"keystoneLevel"`
	DurationMS  int64     `json:"duration"`
	ParMS       int64     `json:"parTime"`
	InTime      bool      `json:"inTime"`
	Upgrades    int       `json:"upgrades"`
	Deaths      int       `json:"deaths"`
	Points      int       `json:"points"`
	Rating      int       `json:"blizzRating"`
	BossKills   []int64   `json:"bossKills"`
	CompletedAt time.Time `json:"completedAt"`
}

// ReportJob asks a fetch worker for one report.
type ReportJob struct {
	Index int // position in the pass, used to restore roster order
	Team  string
	Code  string
}

// ReportResult is what a fetch worker hands back.
type ReportResult struct {
	Job    ReportJob
	Report Report
	Err    error
}
