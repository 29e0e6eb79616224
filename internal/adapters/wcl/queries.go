package wcl

import (
	"context"
	"encoding/json"
	"math"
	"sort"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
)

const reportFightsQuery = `
query($code: String!) {
  reportData {
    report(code: $code) {
      code
      startTime
      endTime
      fights {
        id
        name
        startTime
        endTime
        keystoneLevel
        keystoneTime
        keystoneBonus
        rating
        kill
      }
    }
  }
}`

const deathEventsQuery = `
query($code: String!, $fid: Int!) {
  reportData {
    report(code: $code) {
      events(dataType: Deaths, fightIDs: [$fid], hostilityType: Friendlies, limit: 10000) { data }
    }
  }
}`

const deathTableQuery = `
query($code: String!, $fid: Int!) {
  reportData {
    report(code: $code) {
      table(dataType: Deaths, fightIDs: [$fid], hostilityType: Friendlies)
    }
  }
}`

const bossKillsQuery = `
query($code: String!, $fid: [Int!]) {
  reportData {
    report(code: $code) {
      fights(fightIDs: $fid) {
        id
        startTime
        endTime
        keystoneTime
        dungeonPulls { id name startTime endTime kill encounterID }
      }
    }
  }
}`

type fightJSON struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`
	StartTime     float64  `json:"startTime"`
	EndTime       float64  `json:"endTime"`
	KeystoneLevel *int     `json:"keystoneLevel"`
	KeystoneTime  *float64 `json:"keystoneTime"`
	KeystoneBonus *int     `json:"keystoneBonus"`
	Rating        *float64 `json:"rating"`
	Kill          *bool    `json:"kill"`
}

type reportFightsData struct {
	ReportData struct {
		Report *struct {
			Code      string      `json:"code"`
			StartTime float64     `json:"startTime"`
			EndTime   float64     `json:"endTime"`
			Fights    []fightJSON `json:"fights"`
		} `json:"report"`
	} `json:"reportData"`
}

// FetchReport loads a report and its keystone fights. Fights without a
// keystone level are dropped. A missing or private report is a
// MalformedResponseError.
func (c *Client) FetchReport(ctx context.Context, code string) (model.Report, error) {
	var data reportFightsData
	if err := c.Query(ctx, "report", reportFightsQuery, map[string]any{"code": code}, &data); err != nil {
		return model.Report{}, err
	}
	r := data.ReportData.Report
	if r == nil {
		return model.Report{}, &MalformedResponseError{Op: "report", Detail: "report not found or not publicly accessible"}
	}

	out := model.Report{Code: code, StartMS: int64(r.StartTime)}
	for _, f := range r.Fights {
		if f.KeystoneLevel == nil || *f.KeystoneLevel == 0 {
			continue
		}
		fight := model.Fight{
			ID:            f.ID,
			Name:          f.Name,
			StartMS:       int64(f.StartTime),
			EndMS:         int64(f.EndTime),
			KeystoneLevel: *f.KeystoneLevel,
			KeystoneBonus: f.KeystoneBonus,
			Rating:        f.Rating,
			Kill:          f.Kill != nil && *f.Kill,
		}
		if f.KeystoneTime != nil {
			fight.KeystoneTimeMS = int64(*f.KeystoneTime)
		}
		out.Fights = append(out.Fights, fight)
	}
	return out, nil
}

type deathEventsData struct {
	ReportData struct {
		Report *struct {
			Events *struct {
				Data json.RawMessage `json:"data"`
			} `json:"events"`
		} `json:"report"`
	} `json:"reportData"`
}

type deathTableData struct {
	ReportData struct {
		Report *struct {
			Table json.RawMessage `json:"table"`
		} `json:"report"`
	} `json:"reportData"`
}

type deathEntry struct {
	Deaths      json.RawMessage `json:"deaths"`
	TotalDeaths *float64        `json:"totalDeaths"`
}

// CountDeaths counts friendly deaths in one fight. It reads the death events
// first and falls back to the deaths table.
func (c *Client) CountDeaths(ctx context.Context, code string, fightID int) (int, error) {
	vars := map[string]any{"code": code, "fid": fightID}

	var events deathEventsData
	err := c.Query(ctx, "deaths_events", deathEventsQuery, vars, &events)
	if err == nil {
		if r := events.ReportData.Report; r != nil && r.Events != nil {
			var list []json.RawMessage
			if json.Unmarshal(r.Events.Data, &list) == nil && list != nil {
				return len(list), nil
			}
		}
	} else {
		c.logger.Debug(ctx, "death events unavailable, trying table",
			logger.String("code", code),
			logger.Int("fight", fightID),
			logger.Error(err),
		)
	}

	var table deathTableData
	if err := c.Query(ctx, "deaths_table", deathTableQuery, vars, &table); err != nil {
		return 0, err
	}
	if table.ReportData.Report == nil {
		return 0, &MalformedResponseError{Op: "deaths_table", Detail: "report missing"}
	}
	return countTableDeaths(table.ReportData.Report.Table), nil
}

// countTableDeaths reads the deaths table, which the API returns either as
// an object or as a JSON encoded string.
func countTableDeaths(raw json.RawMessage) int {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		raw = json.RawMessage(s)
	}
	var payload struct {
		Entries []deathEntry `json:"entries"`
	}
	if json.Unmarshal(raw, &payload) != nil {
		return 0
	}

	total := 0
	for _, e := range payload.Entries {
		var list []json.RawMessage
		var n float64
		switch {
		case json.Unmarshal(e.Deaths, &list) == nil && list != nil:
			total += len(list)
		case json.Unmarshal(e.Deaths, &n) == nil:
			total += int(n)
		case e.TotalDeaths != nil:
			total += int(*e.TotalDeaths)
		}
	}
	return total
}

type pullJSON struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	StartTime   float64 `json:"startTime"`
	EndTime     float64 `json:"endTime"`
	Kill        bool    `json:"kill"`
	EncounterID int     `json:"encounterID"`
}

type bossKillsData struct {
	ReportData struct {
		Report *struct {
			Fights []struct {
				ID           int        `json:"id"`
				StartTime    float64    `json:"startTime"`
				EndTime      float64    `json:"endTime"`
				KeystoneTime float64    `json:"keystoneTime"`
				DungeonPulls []pullJSON `json:"dungeonPulls"`
			} `json:"fights"`
		} `json:"report"`
	} `json:"reportData"`
}

// BossKillTimes returns boss kill times in ms from the fight start, sorted.
// When the keystone timer is known the times are scaled onto it, since the
// log duration includes loading screens and the countdown.
func (c *Client) BossKillTimes(ctx context.Context, code string, fightID int, fightStart int64) ([]int64, error) {
	var data bossKillsData
	vars := map[string]any{"code": code, "fid": []int{fightID}}
	if err := c.Query(ctx, "boss_kills", bossKillsQuery, vars, &data); err != nil {
		return nil, err
	}
	r := data.ReportData.Report
	if r == nil || len(r.Fights) == 0 {
		return nil, nil
	}
	f := r.Fights[0]

	start := int64(f.StartTime)
	if start == 0 {
		start = fightStart
	}
	logDuration := int64(f.EndTime) - start
	keystone := int64(f.KeystoneTime)

	var kills []int64
	for _, p := range f.DungeonPulls {
		if !p.Kill || p.EncounterID <= 0 {
			continue
		}
		t := int64(p.EndTime) - start
		if keystone > 0 && logDuration > 0 {
			t = int64(math.Round(float64(t) / float64(logDuration) * float64(keystone)))
		}
		if t > 0 {
			kills = append(kills, t)
		}
	}
	sort.Slice(kills, func(i, j int) bool { return kills[i] < kills[j] })
	return kills, nil
}
