package repository

import (
	"sort"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
)

// TeamStat aggregates one team's ledger rows.
type TeamStat struct {
	HighestKey     int `json:"highestKey"`
	TotalDeaths    int `json:"totalDeaths"`
	UniqueDungeons int `json:"uniqueDungeons"`
}

// BestRunsPerDungeon groups in-time runs by dungeon, best first: higher level
// wins, then shorter duration. An empty filter keeps every dungeon.
func BestRunsPerDungeon(runs []model.RunRecord, filter string) map[string][]model.RunRecord {
	out := make(map[string][]model.RunRecord)
	for _, r := range runs {
		if r.Dungeon == "" || !r.InTime {
			continue
		}
		if filter != "" && r.Dungeon != filter {
			continue
		}
		out[r.Dungeon] = append(out[r.Dungeon], r)
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Level != list[j].Level {
				return list[i].Level > list[j].Level
			}
			return list[i].DurationMS < list[j].DurationMS
		})
	}
	return out
}

// DungeonNames returns the distinct dungeon names in the ledger, sorted.
func DungeonNames(runs []model.RunRecord) []string {
	set := make(map[string]struct{})
	for _, r := range runs {
		if r.Dungeon != "" {
			set[r.Dungeon] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TeamStats folds the ledger into per-team aggregates keyed by team name.
func TeamStats(runs []model.RunRecord) map[string]TeamStat {
	dungeons := make(map[string]map[string]struct{})
	out := make(map[string]TeamStat)
	for _, r := range runs {
		if r.Team == "" {
			continue
		}
		st := out[r.Team]
		if r.Level > st.HighestKey {
			st.HighestKey = r.Level
		}
		st.TotalDeaths += r.Deaths
		if r.Dungeon != "" {
			if dungeons[r.Team] == nil {
				dungeons[r.Team] = make(map[string]struct{})
			}
			dungeons[r.Team][r.Dungeon] = struct{}{}
		}
		st.UniqueDungeons = len(dungeons[r.Team])
		out[r.Team] = st
	}
	return out
}
