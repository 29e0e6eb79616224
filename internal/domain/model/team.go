// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// Team is one roster entry. Names are unique case-insensitively.
type Team struct {
	Name      string `json:"team_name"`
	Leader    string `json:"leader_name"`
	ReportURL string `json:"wcl_url"`        // primary report reference
	BackupURL string `json:"wcl_backup_url"` // optional second reference
	Slot      int    `json:"team_number"`    // display slot, unique, > 0 once saved
	Bracket   string `json:"bracket"`
}

// Key returns the case-folded identity used for lookups.
func (t Team) Key() string { return TeamKey(t.Name) }

// TeamKey folds a team name the same way Team.Key does.
func TeamKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TeamUpdate carries a partial edit. Nil fields are left untouched.
// The target is found by Slot when positive, otherwise by Name.
type TeamUpdate struct {
	Name      string
	Slot      int
	Leader    *string
	ReportURL *string
	BackupURL *string
	Bracket   *string
}

// TeamMeta is the per-team ingestion bookkeeping.
type TeamMeta struct {
	Runs int       `json:"runs"`
	Last time.Time `json:"last"` // zero until the first accepted run
}

// UpsertStatus reports what a roster write did.
type UpsertStatus string

// Roster write outcomes.
const (
	StatusCreated  UpsertStatus = "created"
	StatusUpdated  UpsertStatus = "updated"
	StatusConflict UpsertStatus = "conflict"
)

// SlotResult describes a slot assignment. When Status is StatusConflict the
// requested slot belonged to ConflictWith and the team got Slot instead.
type SlotResult struct {
	Status       UpsertStatus
	Team         Team
	Requested    int
	ConflictWith string
}
