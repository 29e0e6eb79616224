// Package repository holds the durable tournament state: roster, dedup set,
// point totals, per-team metadata and the append-only run ledger.
package repository

import (
	"context"
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
)

// Store provides read/write access to the tournament state. All mutations
// are serialized by a single writer; a write issued from inside another
// write fails with ErrReentrantWrite.
type Store interface {
	// Teams returns the roster ordered by slot.
	Teams(ctx context.Context) ([]model.Team, error)
	// FindTeam matches names case-insensitively. Returns ErrNotFound.
	FindTeam(ctx context.Context, name string) (model.Team, error)
	// FindTeamBySlot returns the team holding slot. Returns ErrNotFound.
	FindTeamBySlot(ctx context.Context, slot int) (model.Team, error)

	// UpsertTeam creates or updates a team by name. New teams without a slot
	// get the lowest free one. A requested slot held by another team falls
	// back to the next free slot and reports StatusConflict.
	UpsertTeam(ctx context.Context, t model.Team) (model.SlotResult, error)
	// UpdateTeam edits an existing team found by slot or name.
	UpdateTeam(ctx context.Context, u model.TeamUpdate) (model.Team, error)
	// SetSlot reassigns a team's display slot with conflict fallback.
	SetSlot(ctx context.Context, name string, slot int) (model.SlotResult, error)
	// RenameTeam renames a team and moves its points and metadata.
	RenameTeam(ctx context.Context, oldName, newName string) (model.Team, error)

	// Seen returns every persisted dedup key.
	Seen(ctx context.Context) ([]string, error)
	// SaveSeen adds keys to the persisted set.
	SaveSeen(ctx context.Context, keys []string) error

	// UpdateLeaderboard adds points to a team's total. Negative values are rejected.
	UpdateLeaderboard(ctx context.Context, team string, points int) error
	// UpdateMeta counts one run and moves last-seen forward, never back.
	UpdateMeta(ctx context.Context, team string, at time.Time) error
	// AppendRun writes one ledger row.
	AppendRun(ctx context.Context, rec model.RunRecord) error

	// CommitRun applies every effect of one accepted run as a unit: the dedup
	// key, the point increment (when positive), the metadata update and the
	// ledger row. Returns ErrDuplicate when key is already persisted.
	CommitRun(ctx context.Context, key string, rec model.RunRecord) error

	// Leaderboard returns point totals keyed by team name.
	Leaderboard(ctx context.Context) (map[string]int, error)
	// Meta returns run counts and last-seen times keyed by team name.
	Meta(ctx context.Context) (map[string]model.TeamMeta, error)
	// Runs returns the ledger in insertion order.
	Runs(ctx context.Context) ([]model.RunRecord, error)

	Close() error
}
