package scoring

import (
	"regexp"
	"strings"
)

var (
	apostropheRe = regexp.MustCompile("['`]")
	spaceRe      = regexp.MustCompile(`\s+`)
	invalidRe    = regexp.MustCompile(`[^a-z0-9-]`)
	hyphensRe    = regexp.MustCompile(`-+`)
)

// Slugify normalizes an activity name into the key used for par time and
// short name lookups. Slugify(Slugify(s)) == Slugify(s).
func Slugify(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	s = apostropheRe.ReplaceAllString(s, "'")
	s = spaceRe.ReplaceAllString(s, "-")
	s = invalidRe.ReplaceAllString(s, "")
	s = hyphensRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
