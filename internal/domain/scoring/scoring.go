// Package scoring turns a finished keystone run into an upgrade tier and a
// point value. Everything here is pure: no I/O, no clocks, no randomness.
package scoring

import (
	"strings"
)

// Default scoring configuration constants.
const (
	// defaultEpsilonMS absorbs rounding between the source timer and par.
	defaultEpsilonMS = 500

	threeUpgradeRatio = 0.60
	twoUpgradeRatio   = 0.80
)

// MaxUpgrades is the highest keystone upgrade a run can earn.
const MaxUpgrades = 3

// Outcome is the timing classification of one run.
type Outcome struct {
	InTime   bool
	Upgrades int
}

// Input carries the fields needed to score one run.
type Input struct {
	Activity   string
	DurationMS int64
	Level      int
	Bracket    string

	// Bonus is the authoritative upgrade count reported by the source.
	// When set it wins over the par time ratio.
	Bonus *int
}

// Result contains the outcome and the awarded points.
type Result struct {
	Outcome
	Points int
}

// Engine holds the lookup tables. It is safe for concurrent use because
// nothing mutates it after New returns.
type Engine struct {
	parTimes   map[string]int64
	shortNames map[string]string
	tables     map[Bracket]Table
	epsilonMS  int64
}

// New creates an Engine with the built-in tables, adjusted by opts.
func New(opts ...Option) *Engine {
	e := &Engine{
		parTimes:   defaultParTimes,
		shortNames: defaultShortNames,
		tables:     defaultTables,
		epsilonMS:  defaultEpsilonMS,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var std = New()

// Default returns the engine backed by the built-in tables.
func Default() *Engine { return std }

// ParTime returns the par duration in milliseconds for an activity name.
func (e *Engine) ParTime(activity string) (int64, bool) {
	par, ok := e.parTimes[Slugify(activity)]
	return par, ok
}

// ParTimes returns a copy of the par table keyed by slug.
func (e *Engine) ParTimes() map[string]int64 {
	out := make(map[string]int64, len(e.parTimes))
	for k, v := range e.parTimes {
		out[k] = v
	}
	return out
}

// ShortName returns the display abbreviation for an activity. Unknown
// activities fall back to the first four letters of the slug.
func (e *Engine) ShortName(activity string) string {
	slug := Slugify(activity)
	if s, ok := e.shortNames[slug]; ok {
		return s
	}
	s := strings.ReplaceAll(slug, "-", "")
	if len(s) > 4 {
		s = s[:4]
	}
	return strings.ToUpper(s)
}

// ShortNames returns a copy of the abbreviation table keyed by slug.
func (e *Engine) ShortNames() map[string]string {
	out := make(map[string]string, len(e.shortNames))
	for k, v := range e.shortNames {
		out[k] = v
	}
	return out
}

// ClassifyByParTime compares an adjusted duration against the activity's
// par time. Unknown activities and non-positive durations are never in time.
func (e *Engine) ClassifyByParTime(activity string, durationMS int64) Outcome {
	par, ok := e.ParTime(activity)
	if !ok || par <= 0 || durationMS <= 0 {
		return Outcome{}
	}
	if durationMS > par+e.epsilonMS {
		return Outcome{}
	}

	// Compare with integer arithmetic so that exact boundaries stay inclusive.
	switch {
	case durationMS*100 <= par*int64(threeUpgradeRatio*100):
		return Outcome{InTime: true, Upgrades: 3}
	case durationMS*100 <= par*int64(twoUpgradeRatio*100):
		return Outcome{InTime: true, Upgrades: 2}
	default:
		return Outcome{InTime: true, Upgrades: 1}
	}
}

// PointsFor looks up the bracket table. Depleted runs, upgrade tiers outside
// 1..3 and levels without a table row score zero. Unknown brackets use A.
func (e *Engine) PointsFor(level, upgrades int, inTime bool, bracket string) int {
	if !inTime || upgrades < 1 || upgrades > MaxUpgrades {
		return 0
	}
	table, ok := e.tables[NormalizeBracket(bracket)]
	if !ok {
		table = e.tables[DefaultBracket]
	}
	row, ok := table[level]
	if !ok {
		return 0
	}
	return row[upgrades-1]
}

// Score classifies a run and computes its points in one step.
func (e *Engine) Score(in Input) Result {
	var out Outcome
	if in.Bonus != nil {
		up := min(max(*in.Bonus, 0), MaxUpgrades)
		out = Outcome{InTime: up > 0, Upgrades: up}
	} else {
		out = e.ClassifyByParTime(in.Activity, in.DurationMS)
	}
	return Result{
		Outcome: out,
		Points:  e.PointsFor(in.Level, out.Upgrades, out.InTime, in.Bracket),
	}
}

// ClassifyByParTime uses the default engine.
func ClassifyByParTime(activity string, durationMS int64) Outcome {
	return std.ClassifyByParTime(activity, durationMS)
}

// PointsFor uses the default engine.
func PointsFor(level, upgrades int, inTime bool, bracket string) int {
	return std.PointsFor(level, upgrades, inTime, bracket)
}
