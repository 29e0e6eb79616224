package state

import "github.com/Sponsorn/mythic-tournament/internal/domain/types"

// EventType names a change notification. The values double as the
// websocket message types.
type EventType string

// Event kinds.
const (
	EventSync             EventType = "state:sync"
	EventScoreboard       EventType = "scoreboard:update"
	EventActiveRuns       EventType = "activeRuns:update"
	EventRunStart         EventType = "run:start"
	EventRunProgress      EventType = "run:progress"
	EventRunComplete      EventType = "run:complete"
	EventQuota            EventType = "quota:update"
	EventTeams            EventType = "teams:update"
	EventPollComplete     EventType = "poll:complete"
	EventTournamentStatus EventType = "tournament:status"
	EventRecapShow        EventType = "recap:show"
)

// Event is one notification. Data holds the payload for Type:
//
//	scoreboard:update   []types.Entry
//	activeRuns:update   []types.ActiveRun
//	run:start           RunStarted
//	run:progress        RunProgressed
//	run:complete        RunCompleted
//	quota:update        types.Quota
//	teams:update        []types.TeamView
//	poll:complete       PollCompleted
//	tournament:status   StatusChanged
//	recap:show          RecapShown
//	state:sync          types.Snapshot
type Event struct {
	Type EventType
	Data any
}

// Listener receives events synchronously, in emission order. A listener must
// not call back into Manager mutations.
type Listener func(Event)

// RunStarted is the run:start payload.
type RunStarted struct {
	TeamName string          `json:"teamName"`
	Run      types.ActiveRun `json:"run"`
}

// RunProgressed is the run:progress payload.
type RunProgressed struct {
	TeamName string         `json:"teamName"`
	RunID    string         `json:"runId"`
	Progress types.Progress `json:"progress"`
	Deaths   int            `json:"deaths"`
}

// RunCompleted is the run:complete payload.
type RunCompleted struct {
	TeamName string      `json:"teamName"`
	Recap    types.Recap `json:"recap"`
}

// PollCompleted is the poll:complete payload. Times are epoch ms.
type PollCompleted struct {
	Time         int64 `json:"time"`
	NextInterval int64 `json:"nextInterval"`
}

// StatusChanged is the tournament:status payload.
type StatusChanged struct {
	Status string `json:"status"`
}

// RecapShown is the recap:show payload. Duration is in ms.
type RecapShown struct {
	Recap    types.Recap `json:"recap"`
	Duration int64       `json:"duration"`
}
