package scoring

// Par times in milliseconds, keyed by activity slug.
var defaultParTimes = map[string]int64{
	"eco-dome-aldani":            1_860_000,
	"ara-kara-city-of-echoes":    1_800_000,
	"the-dawnbreaker":            1_860_000,
	"priory-of-the-sacred-flame": 1_950_000,
	"operation-floodgate":        1_980_000,
	"halls-of-atonement":         1_920_000,
	"tazavesh-streets-of-wonder": 2_100_000,
	"tazavesh-soleahs-gambit":    1_800_000,
}

// Display abbreviations, keyed by activity slug.
var defaultShortNames = map[string]string{
	"eco-dome-aldani":            "EDA",
	"ara-kara-city-of-echoes":    "ARAK",
	"the-dawnbreaker":            "DAWN",
	"priory-of-the-sacred-flame": "PSF",
	"operation-floodgate":        "FLOOD",
	"halls-of-atonement":         "HOA",
	"tazavesh-streets-of-wonder": "STRT",
	"tazavesh-soleahs-gambit":    "GMBT",
}

// Tiers holds the points for +1, +2 and +3 upgrades at one level.
type Tiers [3]int

// Table maps a keystone level to its tier points.
type Table map[int]Tiers

// Bracket identifies a scoring cohort.
type Bracket string

// Known brackets. D is accepted on teams but has no table of its own and
// scores like A.
const (
	BracketA Bracket = "A"
	BracketB Bracket = "B"
	BracketC Bracket = "C"
	BracketD Bracket = "D"
)

// DefaultBracket is assigned to teams that never picked one.
const DefaultBracket = BracketA

var defaultTables = map[Bracket]Table{
	BracketA: {
		10: {1, 2, 3},
		11: {2, 3, 4},
		12: {8, 9, 10},
		13: {11, 12, 13},
		14: {14, 15, 16},
		15: {20, 21, 22},
		16: {23, 24, 25},
	},
	BracketB: {
		10: {0, 0, 0},
		11: {0, 1, 2},
		12: {1, 2, 3},
		13: {2, 3, 4},
		14: {8, 9, 10},
		15: {11, 12, 13},
		16: {14, 15, 16},
		17: {20, 21, 22},
		18: {23, 24, 25},
	},
	BracketC: {
		10: {0, 0, 0},
		11: {0, 0, 0},
		12: {0, 0, 0},
		13: {0, 0, 1},
		14: {2, 3, 4},
		15: {5, 6, 7},
		16: {8, 9, 10},
		17: {14, 15, 16},
		18: {17, 18, 19},
		19: {26, 28, 30},
		20: {32, 34, 36},
	},
}

// Brackets lists every bracket a team may be assigned.
func Brackets() []Bracket {
	return []Bracket{BracketA, BracketB, BracketC, BracketD}
}

// NormalizeBracket upper-cases b and falls back to the default bracket for
// anything outside the known set.
func NormalizeBracket(b string) Bracket {
	if nb, ok := ParseBracket(b); ok {
		return nb
	}
	return DefaultBracket
}

// ParseBracket reports whether b names a known bracket.
func ParseBracket(b string) (Bracket, bool) {
	switch Bracket(upper(b)) {
	case BracketA:
		return BracketA, true
	case BracketB:
		return BracketB, true
	case BracketC:
		return BracketC, true
	case BracketD:
		return BracketD, true
	}
	return "", false
}
