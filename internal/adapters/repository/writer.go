package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/internal/domain/scoring"
)

type writerKey struct{}

// writeGuard is the single writer shared by every mutation of one store.
// The holder's context is tagged so that a nested write is refused instead
// of deadlocking on the mutex.
type writeGuard struct {
	mu sync.Mutex
}

func (g *writeGuard) acquire(ctx context.Context) (context.Context, func(), error) {
	if owner, ok := ctx.Value(writerKey{}).(*writeGuard); ok && owner == g {
		return ctx, func() {}, ErrReentrantWrite
	}
	g.mu.Lock()
	return context.WithValue(ctx, writerKey{}, g), g.mu.Unlock, nil
}

// nextFreeSlot returns the lowest positive slot not held by any team.
func nextFreeSlot(teams []model.Team) int {
	used := make(map[int]bool, len(teams))
	for _, t := range teams {
		if t.Slot > 0 {
			used[t.Slot] = true
		}
	}
	n := 1
	for used[n] {
		n++
	}
	return n
}

func indexByKey(teams []model.Team, key string) int {
	for i, t := range teams {
		if t.Key() == key {
			return i
		}
	}
	return -1
}

func indexBySlot(teams []model.Team, slot int) int {
	for i, t := range teams {
		if t.Slot == slot {
			return i
		}
	}
	return -1
}

func sortBySlot(teams []model.Team) {
	sort.SliceStable(teams, func(i, j int) bool { return teams[i].Slot < teams[j].Slot })
}

// assignSlot puts team idx on slot, or on the next free slot when another
// team already holds it.
func assignSlot(teams []model.Team, idx, slot int) model.SlotResult {
	res := model.SlotResult{Status: model.StatusUpdated, Requested: slot}
	if holder := indexBySlot(teams, slot); holder >= 0 && holder != idx {
		res.Status = model.StatusConflict
		res.ConflictWith = teams[holder].Name
		teams[idx].Slot = nextFreeSlot(teams)
	} else {
		teams[idx].Slot = slot
	}
	res.Team = teams[idx]
	return res
}

// planUpsert applies an upsert to an in-memory roster copy and returns the
// changed team. The caller persists it.
func planUpsert(teams []model.Team, in model.Team) ([]model.Team, model.SlotResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, model.SlotResult{}, fmt.Errorf("team name is required: %w", ErrValidation)
	}
	if in.Slot < 0 {
		return nil, model.SlotResult{}, fmt.Errorf("slot %d must be positive: %w", in.Slot, ErrValidation)
	}
	status := model.StatusUpdated
	idx := indexByKey(teams, model.TeamKey(name))
	if idx < 0 {
		status = model.StatusCreated
		teams = append(teams, model.Team{Bracket: string(scoring.NormalizeBracket(in.Bracket))})
		idx = len(teams) - 1
	}
	t := &teams[idx]
	t.Name = name
	if in.Leader != "" || status == model.StatusCreated {
		t.Leader = in.Leader
	}
	t.ReportURL = in.ReportURL
	t.BackupURL = in.BackupURL

	if in.Slot > 0 {
		res := assignSlot(teams, idx, in.Slot)
		if res.Status != model.StatusConflict {
			res.Status = status
		}
		return teams, res, nil
	}
	if t.Slot <= 0 {
		t.Slot = nextFreeSlot(teams)
	}
	return teams, model.SlotResult{Status: status, Team: *t}, nil
}

func planUpdate(teams []model.Team, u model.TeamUpdate) ([]model.Team, int, error) {
	idx := -1
	if u.Slot > 0 {
		idx = indexBySlot(teams, u.Slot)
	}
	if idx < 0 && strings.TrimSpace(u.Name) != "" {
		idx = indexByKey(teams, model.TeamKey(u.Name))
	}
	if idx < 0 {
		return nil, -1, ErrNotFound
	}
	t := &teams[idx]
	if u.Leader != nil {
		t.Leader = *u.Leader
	}
	if u.ReportURL != nil {
		t.ReportURL = *u.ReportURL
	}
	if u.BackupURL != nil {
		t.BackupURL = *u.BackupURL
	}
	if u.Bracket != nil {
		b, ok := scoring.ParseBracket(*u.Bracket)
		if !ok {
			return nil, -1, fmt.Errorf("bracket %q: %w", *u.Bracket, ErrValidation)
		}
		t.Bracket = string(b)
	}
	return teams, idx, nil
}

func planSetSlot(teams []model.Team, name string, slot int) ([]model.Team, model.SlotResult, error) {
	if slot <= 0 {
		return nil, model.SlotResult{}, fmt.Errorf("slot %d must be positive: %w", slot, ErrValidation)
	}
	idx := indexByKey(teams, model.TeamKey(name))
	if idx < 0 {
		return nil, model.SlotResult{}, ErrNotFound
	}
	return teams, assignSlot(teams, idx, slot), nil
}

func planRename(teams []model.Team, oldName, newName string) ([]model.Team, int, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, -1, fmt.Errorf("new team name is required: %w", ErrValidation)
	}
	idx := indexByKey(teams, model.TeamKey(oldName))
	if idx < 0 {
		return nil, -1, ErrNotFound
	}
	if other := indexByKey(teams, model.TeamKey(newName)); other >= 0 && other != idx {
		return nil, -1, fmt.Errorf("team %q already exists: %w", newName, ErrConflict)
	}
	teams[idx].Name = newName
	return teams, idx, nil
}
