package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
	"github.com/Sponsorn/mythic-tournament/pkg/metrics"
)

const memoryDSN = ":memory:"

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store on a single SQLite database. Every mutation
// runs in one transaction behind the store's write guard.
type SQLiteStore struct {
	db     *sql.DB
	guard  writeGuard
	opts   options
	logger logger.Logger
	closed atomic.Bool
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if path != memoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s, err := NewSQLiteStore(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database handle and applies the schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("repository")
	}

	// One connection: in-memory databases are per-connection, and the
	// store has a single writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, SchemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, opts: o, logger: o.logger}, nil
}

// write runs fn inside a transaction while holding the single writer.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ctx, release, err := s.guard.acquire(ctx)
	if err != nil {
		metrics.RecordErrorByComponent("repository", "reentrant_write")
		return fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.RecordErrorByComponent("repository", op)
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		metrics.RecordErrorByComponent("repository", op)
		return err
	}
	if err := tx.Commit(); err != nil {
		metrics.RecordErrorByComponent("repository", op)
		s.logger.Error(ctx, "commit failed", logger.String("op", op), logger.Error(err))
		return fmt.Errorf("%s: failed to commit: %w", op, err)
	}
	return nil
}

func (s *SQLiteStore) read(ctx context.Context) (context.Context, func()) {
	start := time.Now()
	return ctx, func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}
}

// Teams returns the roster ordered by slot.
func (s *SQLiteStore) Teams(ctx context.Context) ([]model.Team, error) {
	ctx, done := s.read(ctx)
	defer done()
	return loadTeams(ctx, s.db)
}

func loadTeams(ctx context.Context, q querier) ([]model.Team, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT team_name, leader_name, wcl_url, wcl_backup_url, team_number, bracket FROM teams ORDER BY team_number")
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		var t model.Team
		if err := rows.Scan(&t.Name, &t.Leader, &t.ReportURL, &t.BackupURL, &t.Slot, &t.Bracket); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// FindTeam matches names case-insensitively.
func (s *SQLiteStore) FindTeam(ctx context.Context, name string) (model.Team, error) {
	ctx, done := s.read(ctx)
	defer done()
	return scanTeam(s.db.QueryRowContext(ctx,
		"SELECT team_name, leader_name, wcl_url, wcl_backup_url, team_number, bracket FROM teams WHERE team_key = ?",
		model.TeamKey(name)))
}

// FindTeamBySlot returns the team holding slot.
func (s *SQLiteStore) FindTeamBySlot(ctx context.Context, slot int) (model.Team, error) {
	ctx, done := s.read(ctx)
	defer done()
	return scanTeam(s.db.QueryRowContext(ctx,
		"SELECT team_name, leader_name, wcl_url, wcl_backup_url, team_number, bracket FROM teams WHERE team_number = ?",
		slot))
}

func scanTeam(row *sql.Row) (model.Team, error) {
	var t model.Team
	err := row.Scan(&t.Name, &t.Leader, &t.ReportURL, &t.BackupURL, &t.Slot, &t.Bracket)
	if err == sql.ErrNoRows {
		return model.Team{}, ErrNotFound
	}
	if err != nil {
		return model.Team{}, fmt.Errorf("failed to get team: %w", err)
	}
	return t, nil
}

// saveTeam writes t, removing the row stored under oldKey when the key changed.
func saveTeam(ctx context.Context, tx *sql.Tx, t model.Team, oldKey string) error {
	if oldKey != "" && oldKey != t.Key() {
		if _, err := tx.ExecContext(ctx, "DELETE FROM teams WHERE team_key = ?", oldKey); err != nil {
			return fmt.Errorf("failed to move team: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO teams (team_key, team_name, leader_name, wcl_url, wcl_backup_url, team_number, bracket)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(team_key) DO UPDATE SET
			team_name = excluded.team_name,
			leader_name = excluded.leader_name,
			wcl_url = excluded.wcl_url,
			wcl_backup_url = excluded.wcl_backup_url,
			team_number = excluded.team_number,
			bracket = excluded.bracket`,
		t.Key(), t.Name, t.Leader, t.ReportURL, t.BackupURL, t.Slot, t.Bracket)
	if err != nil {
		return fmt.Errorf("failed to save team: %w", err)
	}
	// Keep display names on derived rows in step with the roster.
	for _, table := range []string{"leaderboard", "team_meta"} {
		if _, err := tx.ExecContext(ctx, "UPDATE "+table+" SET team = ? WHERE team_key = ?", t.Name, t.Key()); err != nil {
			return fmt.Errorf("failed to sync %s name: %w", table, err)
		}
	}
	return nil
}

// UpsertTeam creates or updates a team by name.
func (s *SQLiteStore) UpsertTeam(ctx context.Context, in model.Team) (model.SlotResult, error) {
	var res model.SlotResult
	err := s.write(ctx, "upsert_team", func(ctx context.Context, tx *sql.Tx) error {
		teams, err := loadTeams(ctx, tx)
		if err != nil {
			return err
		}
		_, res, err = planUpsert(teams, in)
		if err != nil {
			return err
		}
		return saveTeam(ctx, tx, res.Team, "")
	})
	return res, err
}

// UpdateTeam edits an existing team found by slot or name.
func (s *SQLiteStore) UpdateTeam(ctx context.Context, u model.TeamUpdate) (model.Team, error) {
	var out model.Team
	err := s.write(ctx, "update_team", func(ctx context.Context, tx *sql.Tx) error {
		teams, err := loadTeams(ctx, tx)
		if err != nil {
			return err
		}
		teams, idx, err := planUpdate(teams, u)
		if err != nil {
			return err
		}
		out = teams[idx]
		return saveTeam(ctx, tx, out, "")
	})
	return out, err
}

// SetSlot reassigns a team's display slot with conflict fallback.
func (s *SQLiteStore) SetSlot(ctx context.Context, name string, slot int) (model.SlotResult, error) {
	var res model.SlotResult
	err := s.write(ctx, "set_slot", func(ctx context.Context, tx *sql.Tx) error {
		teams, err := loadTeams(ctx, tx)
		if err != nil {
			return err
		}
		_, res, err = planSetSlot(teams, name, slot)
		if err != nil {
			return err
		}
		return saveTeam(ctx, tx, res.Team, "")
	})
	return res, err
}

// RenameTeam renames a team and folds its points and metadata into the new
// name. Ledger rows keep the name they were written with.
func (s *SQLiteStore) RenameTeam(ctx context.Context, oldName, newName string) (model.Team, error) {
	var out model.Team
	err := s.write(ctx, "rename_team", func(ctx context.Context, tx *sql.Tx) error {
		teams, err := loadTeams(ctx, tx)
		if err != nil {
			return err
		}
		teams, idx, err := planRename(teams, oldName, newName)
		if err != nil {
			return err
		}
		out = teams[idx]
		oldKey := model.TeamKey(oldName)
		if err := saveTeam(ctx, tx, out, oldKey); err != nil {
			return err
		}
		if oldKey == out.Key() {
			return nil
		}
		return moveStanding(ctx, tx, oldKey, out)
	})
	return out, err
}

func moveStanding(ctx context.Context, tx *sql.Tx, oldKey string, t model.Team) error {
	var points int
	err := tx.QueryRowContext(ctx, "SELECT points FROM leaderboard WHERE team_key = ?", oldKey).Scan(&points)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to read points: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, "DELETE FROM leaderboard WHERE team_key = ?", oldKey); err != nil {
			return fmt.Errorf("failed to move points: %w", err)
		}
		if err := addPoints(ctx, tx, t.Name, points); err != nil {
			return err
		}
	}

	var (
		runs int
		last sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, "SELECT runs, last_ms FROM team_meta WHERE team_key = ?", oldKey).Scan(&runs, &last)
	switch {
	case err == sql.ErrNoRows:
		return nil
	case err != nil:
		return fmt.Errorf("failed to read meta: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM team_meta WHERE team_key = ?", oldKey); err != nil {
		return fmt.Errorf("failed to move meta: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO team_meta (team_key, team, runs, last_ms) VALUES (?, ?, ?, ?)
		ON CONFLICT(team_key) DO UPDATE SET
			team = excluded.team,
			runs = runs + excluded.runs,
			last_ms = CASE
				WHEN last_ms IS NULL OR excluded.last_ms > last_ms THEN excluded.last_ms
				ELSE last_ms END`,
		t.Key(), t.Name, runs, last)
	if err != nil {
		return fmt.Errorf("failed to merge meta: %w", err)
	}
	return nil
}

// Seen returns every persisted dedup key.
func (s *SQLiteStore) Seen(ctx context.Context) ([]string, error) {
	ctx, done := s.read(ctx)
	defer done()
	rows, err := s.db.QueryContext(ctx, "SELECT dedup_key FROM seen_runs ORDER BY seen_at, dedup_key")
	if err != nil {
		return nil, fmt.Errorf("failed to list seen keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan seen key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SaveSeen adds keys to the persisted set. Known keys are ignored.
func (s *SQLiteStore) SaveSeen(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.write(ctx, "save_seen", func(ctx context.Context, tx *sql.Tx) error {
		now := s.opts.now().UTC().Format(time.RFC3339Nano)
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO seen_runs (dedup_key, seen_at) VALUES (?, ?)", k, now); err != nil {
				return fmt.Errorf("failed to save seen key: %w", err)
			}
		}
		return nil
	})
}

// UpdateLeaderboard adds points to a team's total.
func (s *SQLiteStore) UpdateLeaderboard(ctx context.Context, team string, points int) error {
	if points < 0 {
		return fmt.Errorf("points %d: %w", points, ErrValidation)
	}
	return s.write(ctx, "update_leaderboard", func(ctx context.Context, tx *sql.Tx) error {
		return addPoints(ctx, tx, team, points)
	})
}

func addPoints(ctx context.Context, tx *sql.Tx, team string, points int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO leaderboard (team_key, team, points) VALUES (?, ?, ?)
		ON CONFLICT(team_key) DO UPDATE SET points = points + excluded.points, team = excluded.team`,
		model.TeamKey(team), team, points)
	if err != nil {
		return fmt.Errorf("failed to update leaderboard: %w", err)
	}
	return nil
}

// UpdateMeta counts one run and moves last-seen forward only.
func (s *SQLiteStore) UpdateMeta(ctx context.Context, team string, at time.Time) error {
	return s.write(ctx, "update_meta", func(ctx context.Context, tx *sql.Tx) error {
		return bumpMeta(ctx, tx, team, at)
	})
}

func bumpMeta(ctx context.Context, tx *sql.Tx, team string, at time.Time) error {
	var last sql.NullInt64
	if !at.IsZero() {
		last = sql.NullInt64{Int64: at.UnixMilli(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO team_meta (team_key, team, runs, last_ms) VALUES (?, ?, 1, ?)
		ON CONFLICT(team_key) DO UPDATE SET
			team = excluded.team,
			runs = runs + 1,
			last_ms = CASE
				WHEN last_ms IS NULL OR excluded.last_ms > last_ms THEN excluded.last_ms
				ELSE last_ms END`,
		model.TeamKey(team), team, last)
	if err != nil {
		return fmt.Errorf("failed to update meta: %w", err)
	}
	return nil
}

// AppendRun writes one ledger row.
func (s *SQLiteStore) AppendRun(ctx context.Context, rec model.RunRecord) error {
	return s.write(ctx, "append_run", func(ctx context.Context, tx *sql.Tx) error {
		return insertRun(ctx, tx, rec)
	})
}

func insertRun(ctx context.Context, tx *sql.Tx, rec model.RunRecord) error {
	kills := rec.BossKills
	if kills == nil {
		kills = []int64{}
	}
	killsJSON, err := json.Marshal(kills)
	if err != nil {
		return fmt.Errorf("failed to encode boss kills: %w", err)
	}
	inTime := 0
	if rec.InTime {
		inTime = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger (finished_at, team, dungeon, level, upgrades, blizz_rating, in_time, points,
			deaths, duration_ms, boss_kills, character, realm, region)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FinishedAt.UTC().Format(time.RFC3339Nano), rec.Team, rec.Dungeon, rec.Level, rec.Upgrades,
		rec.Rating, inTime, rec.Points, rec.Deaths, rec.DurationMS, string(killsJSON),
		rec.Character, rec.Realm, rec.Region)
	if err != nil {
		return fmt.Errorf("failed to append run: %w", err)
	}
	return nil
}

// CommitRun applies every effect of one accepted run in one transaction.
func (s *SQLiteStore) CommitRun(ctx context.Context, key string, rec model.RunRecord) error {
	if rec.Points < 0 {
		return fmt.Errorf("points %d: %w", rec.Points, ErrValidation)
	}
	return s.write(ctx, "commit_run", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO seen_runs (dedup_key, seen_at) VALUES (?, ?)",
			key, s.opts.now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to record seen key: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrDuplicate
		}
		if rec.Points > 0 {
			if err := addPoints(ctx, tx, rec.Team, rec.Points); err != nil {
				return err
			}
		}
		if err := bumpMeta(ctx, tx, rec.Team, rec.FinishedAt); err != nil {
			return err
		}
		return insertRun(ctx, tx, rec)
	})
}

// Leaderboard returns point totals keyed by team name.
func (s *SQLiteStore) Leaderboard(ctx context.Context) (map[string]int, error) {
	ctx, done := s.read(ctx)
	defer done()
	rows, err := s.db.QueryContext(ctx, "SELECT team, points FROM leaderboard")
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			team   string
			points int
		)
		if err := rows.Scan(&team, &points); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard: %w", err)
		}
		out[team] = points
	}
	return out, rows.Err()
}

// Meta returns run counts and last-seen times keyed by team name.
func (s *SQLiteStore) Meta(ctx context.Context) (map[string]model.TeamMeta, error) {
	ctx, done := s.read(ctx)
	defer done()
	rows, err := s.db.QueryContext(ctx, "SELECT team, runs, last_ms FROM team_meta")
	if err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}
	defer rows.Close()
	out := make(map[string]model.TeamMeta)
	for rows.Next() {
		var (
			team string
			m    model.TeamMeta
			last sql.NullInt64
		)
		if err := rows.Scan(&team, &m.Runs, &last); err != nil {
			return nil, fmt.Errorf("failed to scan meta: %w", err)
		}
		if last.Valid {
			m.Last = time.UnixMilli(last.Int64).UTC()
		}
		out[team] = m
	}
	return out, rows.Err()
}

// Runs returns the ledger in insertion order.
func (s *SQLiteStore) Runs(ctx context.Context) ([]model.RunRecord, error) {
	ctx, done := s.read(ctx)
	defer done()
	rows, err := s.db.QueryContext(ctx, `
		SELECT finished_at, team, dungeon, level, upgrades, blizz_rating, in_time, points,
			deaths, duration_ms, boss_kills, character, realm, region
		FROM ledger ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var (
			rec      model.RunRecord
			finished string
			inTime   int
			kills    string
		)
		if err := rows.Scan(&finished, &rec.Team, &rec.Dungeon, &rec.Level, &rec.Upgrades, &rec.Rating,
			&inTime, &rec.Points, &rec.Deaths, &rec.DurationMS, &kills,
			&rec.Character, &rec.Realm, &rec.Region); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, finished)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at of %s run: %w", rec.Team, err)
		}
		rec.FinishedAt = at
		rec.InTime = inTime != 0
		if err := json.Unmarshal([]byte(kills), &rec.BossKills); err != nil {
			return nil, fmt.Errorf("failed to parse boss kills of %s run: %w", rec.Team, err)
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
