// Package dedupe builds run fingerprints and tracks which ones were already
// counted.
package dedupe

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/internal/domain/scoring"
)

// DefaultBucket is the rounding applied to completion times.
const DefaultBucket = time.Minute

// Key builds the fingerprint of a run: team, activity slug, level and the
// completion time rounded to bucket, in UTC. The same physical run seen in a
// primary and a backup report produces the same key.
func Key(team, activity string, level int, finishedAt time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	var b strings.Builder
	b.WriteString(model.TeamKey(team))
	b.WriteByte('|')
	b.WriteString(scoring.Slugify(activity))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(level))
	b.WriteByte('|')
	b.WriteString(finishedAt.UTC().Round(bucket).Format("2006-01-02T15:04Z"))
	return b.String()
}

// Deduper records seen keys to ensure at-most-once counting.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen.
	SeenAndRecord(ctx context.Context, key string) bool

	// Seen reports whether key is known without recording it.
	Seen(ctx context.Context, key string) bool

	// Added returns the keys recorded since construction, in order.
	Added() []string

	Size() int64
}

// inMemoryDeduper is an unbounded set. Evicting a key would let a run be
// counted twice, so there is no size cap.
type inMemoryDeduper struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	added []string
}

// NewInMemoryDeduper creates a deduper, optionally seeded with persisted keys.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{seen: make(map[string]struct{})}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	d.added = append(d.added, key)
	return false
}

func (d *inMemoryDeduper) Seen(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok
}

func (d *inMemoryDeduper) Added() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.added))
	copy(out, d.added)
	return out
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
