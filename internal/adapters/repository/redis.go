package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
	"github.com/Sponsorn/mythic-tournament/pkg/metrics"
)

const maxTxAttempts = 5

// RedisStore implements Store on Redis. Mutations run under WATCH/MULTI so
// a commit either lands whole or not at all, and the in-process write guard
// keeps a single writer per store.
type RedisStore struct {
	rdb    *redis.Client
	guard  writeGuard
	opts   options
	logger logger.Logger
	closed atomic.Bool

	kTeams, kSeen, kPoints, kNames, kMeta, kLedger string
}

type metaValue struct {
	Runs   int   `json:"runs"`
	LastMS int64 `json:"last_ms,omitempty"`
}

// NewRedisStore wraps a connected client. Keys live under the configured prefix.
func NewRedisStore(ctx context.Context, rdb *redis.Client, opts ...Option) (*RedisStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("repository")
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	p := o.prefix
	return &RedisStore{
		rdb:     rdb,
		opts:    o,
		logger:  o.logger,
		kTeams:  p + "teams",
		kSeen:   p + "seen",
		kPoints: p + "leaderboard",
		kNames:  p + "names",
		kMeta:   p + "meta",
		kLedger: p + "ledger",
	}, nil
}

// OpenRedis dials addr and returns a store on it.
func OpenRedis(ctx context.Context, addr, password string, db int, opts ...Option) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	s, err := NewRedisStore(ctx, rdb, opts...)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) write(ctx context.Context, op string, fn func(ctx context.Context, tx *redis.Tx) error, keys ...string) error {
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

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error { return fn(ctx, tx) }, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		s.logger.Debug(ctx, "watched key changed, retrying", logger.String("op", op), logger.Int("attempt", attempt+1))
	}
	if err != nil {
		metrics.RecordErrorByComponent("repository", op)
		return err
	}
	return nil
}

func (s *RedisStore) read() func() {
	start := time.Now()
	return func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

func (s *RedisStore) loadTeams(ctx context.Context, c hashReader) ([]model.Team, error) {
	raw, err := c.HGetAll(ctx, s.kTeams).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	teams := make([]model.Team, 0, len(raw))
	for k, v := range raw {
		var t model.Team
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, fmt.Errorf("failed to decode team %q: %w", k, err)
		}
		teams = append(teams, t)
	}
	sortBySlot(teams)
	return teams, nil
}

// Teams returns the roster ordered by slot.
func (s *RedisStore) Teams(ctx context.Context) ([]model.Team, error) {
	defer s.read()()
	return s.loadTeams(ctx, s.rdb)
}

// FindTeam matches names case-insensitively.
func (s *RedisStore) FindTeam(ctx context.Context, name string) (model.Team, error) {
	defer s.read()()
	v, err := s.rdb.HGet(ctx, s.kTeams, model.TeamKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Team{}, ErrNotFound
	}
	if err != nil {
		return model.Team{}, fmt.Errorf("failed to get team: %w", err)
	}
	var t model.Team
	if err := json.Unmarshal([]byte(v), &t); err != nil {
		return model.Team{}, fmt.Errorf("failed to decode team: %w", err)
	}
	return t, nil
}

// FindTeamBySlot returns the team holding slot.
func (s *RedisStore) FindTeamBySlot(ctx context.Context, slot int) (model.Team, error) {
	teams, err := s.Teams(ctx)
	if err != nil {
		return model.Team{}, err
	}
	if i := indexBySlot(teams, slot); i >= 0 {
		return teams[i], nil
	}
	return model.Team{}, ErrNotFound
}

func (s *RedisStore) queueTeam(ctx context.Context, pipe redis.Pipeliner, t model.Team, oldKey string) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode team: %w", err)
	}
	if oldKey != "" && oldKey != t.Key() {
		pipe.HDel(ctx, s.kTeams, oldKey)
	}
	pipe.HSet(ctx, s.kTeams, t.Key(), b)
	return nil
}

// UpsertTeam creates or updates a team by name.
func (s *RedisStore) UpsertTeam(ctx context.Context, in model.Team) (model.SlotResult, error) {
	var res model.SlotResult
	err := s.write(ctx, "upsert_team", func(ctx context.Context, tx *redis.Tx) error {
		teams, err := s.loadTeams(ctx, tx)
		if err != nil {
			return err
		}
		if _, res, err = planUpsert(teams, in); err != nil {
			return err
		}
		// Keep the display name used by leaderboard and meta reads in step.
		_, hasName, err := s.name(ctx, tx, res.Team.Key())
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if hasName {
				pipe.HSet(ctx, s.kNames, res.Team.Key(), res.Team.Name)
			}
			return s.queueTeam(ctx, pipe, res.Team, "")
		})
		return err
	}, s.kTeams, s.kNames)
	return res, err
}

// UpdateTeam edits an existing team found by slot or name.
func (s *RedisStore) UpdateTeam(ctx context.Context, u model.TeamUpdate) (model.Team, error) {
	var out model.Team
	err := s.write(ctx, "update_team", func(ctx context.Context, tx *redis.Tx) error {
		teams, err := s.loadTeams(ctx, tx)
		if err != nil {
			return err
		}
		teams, idx, err := planUpdate(teams, u)
		if err != nil {
			return err
		}
		out = teams[idx]
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.queueTeam(ctx, pipe, out, "")
		})
		return err
	}, s.kTeams)
	return out, err
}

// SetSlot reassigns a team's display slot with conflict fallback.
func (s *RedisStore) SetSlot(ctx context.Context, name string, slot int) (model.SlotResult, error) {
	var res model.SlotResult
	err := s.write(ctx, "set_slot", func(ctx context.Context, tx *redis.Tx) error {
		teams, err := s.loadTeams(ctx, tx)
		if err != nil {
			return err
		}
		if _, res, err = planSetSlot(teams, name, slot); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.queueTeam(ctx, pipe, res.Team, "")
		})
		return err
	}, s.kTeams)
	return res, err
}

// RenameTeam renames a team and folds its points and metadata into the new name.
func (s *RedisStore) RenameTeam(ctx context.Context, oldName, newName string) (model.Team, error) {
	var out model.Team
	err := s.write(ctx, "rename_team", func(ctx context.Context, tx *redis.Tx) error {
		teams, err := s.loadTeams(ctx, tx)
		if err != nil {
			return err
		}
		teams, idx, err := planRename(teams, oldName, newName)
		if err != nil {
			return err
		}
		out = teams[idx]
		oldKey, newKey := model.TeamKey(oldName), out.Key()

		oldPoints, err := s.points(ctx, tx, oldKey)
		if err != nil {
			return err
		}
		oldMeta, hasOld, err := s.meta(ctx, tx, oldKey)
		if err != nil {
			return err
		}
		newMeta, _, err := s.meta(ctx, tx, newKey)
		if err != nil {
			return err
		}
		_, hasName, err := s.name(ctx, tx, oldKey)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := s.queueTeam(ctx, pipe, out, oldKey); err != nil {
				return err
			}
			if oldKey == newKey {
				if hasName {
					pipe.HSet(ctx, s.kNames, newKey, out.Name)
				}
				return nil
			}
			if hasName {
				pipe.HDel(ctx, s.kNames, oldKey)
				pipe.HSet(ctx, s.kNames, newKey, out.Name)
			}
			pipe.HDel(ctx, s.kPoints, oldKey)
			if oldPoints > 0 {
				pipe.HIncrBy(ctx, s.kPoints, newKey, int64(oldPoints))
			}
			if hasOld {
				merged := metaValue{Runs: newMeta.Runs + oldMeta.Runs, LastMS: newMeta.LastMS}
				if oldMeta.LastMS > merged.LastMS {
					merged.LastMS = oldMeta.LastMS
				}
				b, err := json.Marshal(merged)
				if err != nil {
					return fmt.Errorf("failed to encode meta: %w", err)
				}
				pipe.HDel(ctx, s.kMeta, oldKey)
				pipe.HSet(ctx, s.kMeta, newKey, b)
			}
			return nil
		})
		return err
	}, s.kTeams, s.kPoints, s.kMeta, s.kNames)
	return out, err
}

func (s *RedisStore) points(ctx context.Context, tx *redis.Tx, key string) (int, error) {
	v, err := tx.HGet(ctx, s.kPoints, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read points: %w", err)
	}
	return strconv.Atoi(v)
}

func (s *RedisStore) meta(ctx context.Context, tx *redis.Tx, key string) (metaValue, bool, error) {
	v, err := tx.HGet(ctx, s.kMeta, key).Result()
	if errors.Is(err, redis.Nil) {
		return metaValue{}, false, nil
	}
	if err != nil {
		return metaValue{}, false, fmt.Errorf("failed to read meta: %w", err)
	}
	var m metaValue
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return metaValue{}, false, fmt.Errorf("failed to decode meta: %w", err)
	}
	return m, true, nil
}

func (s *RedisStore) name(ctx context.Context, tx *redis.Tx, key string) (string, bool, error) {
	v, err := tx.HGet(ctx, s.kNames, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read names: %w", err)
	}
	return v, true, nil
}

// Seen returns every persisted dedup key.
func (s *RedisStore) Seen(ctx context.Context) ([]string, error) {
	defer s.read()()
	keys, err := s.rdb.SMembers(ctx, s.kSeen).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list seen keys: %w", err)
	}
	return keys, nil
}

// SaveSeen adds keys to the persisted set.
func (s *RedisStore) SaveSeen(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	return s.write(ctx, "save_seen", func(ctx context.Context, tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, s.kSeen, members...)
			return nil
		})
		return err
	}, s.kSeen)
}

// UpdateLeaderboard adds points to a team's total.
func (s *RedisStore) UpdateLeaderboard(ctx context.Context, team string, points int) error {
	if points < 0 {
		return fmt.Errorf("points %d: %w", points, ErrValidation)
	}
	return s.write(ctx, "update_leaderboard", func(ctx context.Context, tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.kNames, model.TeamKey(team), team)
			pipe.HIncrBy(ctx, s.kPoints, model.TeamKey(team), int64(points))
			return nil
		})
		return err
	}, s.kPoints)
}

func (s *RedisStore) bumpedMeta(ctx context.Context, tx *redis.Tx, team string, at time.Time) ([]byte, error) {
	m, _, err := s.meta(ctx, tx, model.TeamKey(team))
	if err != nil {
		return nil, err
	}
	m.Runs++
	if !at.IsZero() && at.UnixMilli() > m.LastMS {
		m.LastMS = at.UnixMilli()
	}
	return json.Marshal(m)
}

// UpdateMeta counts one run and moves last-seen forward only.
func (s *RedisStore) UpdateMeta(ctx context.Context, team string, at time.Time) error {
	return s.write(ctx, "update_meta", func(ctx context.Context, tx *redis.Tx) error {
		b, err := s.bumpedMeta(ctx, tx, team, at)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.kNames, model.TeamKey(team), team)
			pipe.HSet(ctx, s.kMeta, model.TeamKey(team), b)
			return nil
		})
		return err
	}, s.kMeta)
}

func encodeRun(rec model.RunRecord) ([]byte, error) {
	if rec.BossKills == nil {
		rec.BossKills = []int64{}
	}
	rec.FinishedAt = rec.FinishedAt.UTC()
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run: %w", err)
	}
	return b, nil
}

// AppendRun writes one ledger row.
func (s *RedisStore) AppendRun(ctx context.Context, rec model.RunRecord) error {
	b, err := encodeRun(rec)
	if err != nil {
		return err
	}
	return s.write(ctx, "append_run", func(ctx context.Context, tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, s.kLedger, b)
			return nil
		})
		return err
	})
}

// CommitRun applies every effect of one accepted run in one MULTI block.
func (s *RedisStore) CommitRun(ctx context.Context, key string, rec model.RunRecord) error {
	if rec.Points < 0 {
		return fmt.Errorf("points %d: %w", rec.Points, ErrValidation)
	}
	row, err := encodeRun(rec)
	if err != nil {
		return err
	}
	teamKey := model.TeamKey(rec.Team)
	return s.write(ctx, "commit_run", func(ctx context.Context, tx *redis.Tx) error {
		seen, err := tx.SIsMember(ctx, s.kSeen, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check seen key: %w", err)
		}
		if seen {
			return ErrDuplicate
		}
		meta, err := s.bumpedMeta(ctx, tx, rec.Team, rec.FinishedAt)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, s.kSeen, key)
			pipe.HSet(ctx, s.kNames, teamKey, rec.Team)
			if rec.Points > 0 {
				pipe.HIncrBy(ctx, s.kPoints, teamKey, int64(rec.Points))
			}
			pipe.HSet(ctx, s.kMeta, teamKey, meta)
			pipe.RPush(ctx, s.kLedger, row)
			return nil
		})
		return err
	}, s.kSeen, s.kMeta)
}

// Leaderboard returns point totals keyed by team name.
func (s *RedisStore) Leaderboard(ctx context.Context) (map[string]int, error) {
	defer s.read()()
	raw, err := s.rdb.HGetAll(ctx, s.kPoints).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	names, err := s.rdb.HGetAll(ctx, s.kNames).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read names: %w", err)
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse points for %q: %w", k, err)
		}
		out[displayName(names, k)] = n
	}
	return out, nil
}

// Meta returns run counts and last-seen times keyed by team name.
func (s *RedisStore) Meta(ctx context.Context) (map[string]model.TeamMeta, error) {
	defer s.read()()
	raw, err := s.rdb.HGetAll(ctx, s.kMeta).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}
	names, err := s.rdb.HGetAll(ctx, s.kNames).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read names: %w", err)
	}
	out := make(map[string]model.TeamMeta, len(raw))
	for k, v := range raw {
		var m metaValue
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("failed to decode meta for %q: %w", k, err)
		}
		tm := model.TeamMeta{Runs: m.Runs}
		if m.LastMS > 0 {
			tm.Last = time.UnixMilli(m.LastMS).UTC()
		}
		out[displayName(names, k)] = tm
	}
	return out, nil
}

func displayName(names map[string]string, key string) string {
	if n, ok := names[key]; ok && n != "" {
		return n
	}
	return key
}

// Runs returns the ledger in insertion order.
func (s *RedisStore) Runs(ctx context.Context) ([]model.RunRecord, error) {
	defer s.read()()
	raw, err := s.rdb.LRange(ctx, s.kLedger, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	runs := make([]model.RunRecord, 0, len(raw))
	for i, v := range raw {
		var rec model.RunRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode ledger row %d: %w", i, err)
		}
		runs = append(runs, rec)
	}
	return runs, nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.rdb.Close()
}
