package repository

// SchemaSQL is the authoritative SQLite schema. Tests load it into
// in-memory databases instead of declaring their own tables.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS teams (
	team_key       TEXT PRIMARY KEY,
	team_name      TEXT NOT NULL,
	leader_name    TEXT NOT NULL DEFAULT '',
	wcl_url        TEXT NOT NULL DEFAULT '',
	wcl_backup_url TEXT NOT NULL DEFAULT '',
	team_number    INTEGER NOT NULL UNIQUE CHECK (team_number > 0),
	bracket        TEXT NOT NULL DEFAULT 'A'
);

CREATE TABLE IF NOT EXISTS seen_runs (
	dedup_key TEXT PRIMARY KEY,
	seen_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS leaderboard (
	team_key TEXT PRIMARY KEY,
	team     TEXT NOT NULL,
	points   INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0)
);

CREATE TABLE IF NOT EXISTS team_meta (
	team_key TEXT PRIMARY KEY,
	team     TEXT NOT NULL,
	runs     INTEGER NOT NULL DEFAULT 0,
	last_ms  INTEGER
);

CREATE TABLE IF NOT EXISTS ledger (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	finished_at  TEXT NOT NULL,
	team         TEXT NOT NULL,
	dungeon      TEXT NOT NULL,
	level        INTEGER NOT NULL,
	upgrades     INTEGER NOT NULL,
	blizz_rating INTEGER NOT NULL DEFAULT 0,
	in_time      INTEGER NOT NULL,
	points       INTEGER NOT NULL,
	deaths       INTEGER NOT NULL DEFAULT 0,
	duration_ms  INTEGER NOT NULL,
	boss_kills   TEXT NOT NULL DEFAULT '[]',
	character    TEXT NOT NULL DEFAULT '',
	realm        TEXT NOT NULL DEFAULT '',
	region       TEXT NOT NULL DEFAULT ''
);

CREATE TRIGGER IF NOT EXISTS ledger_no_update BEFORE UPDATE ON ledger
BEGIN
	SELECT RAISE(ABORT, 'ledger is append-only');
END;

CREATE TRIGGER IF NOT EXISTS ledger_no_delete BEFORE DELETE ON ledger
BEGIN
	SELECT RAISE(ABORT, 'ledger is append-only');
END;
`
