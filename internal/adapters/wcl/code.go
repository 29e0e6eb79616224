package wcl

import (
	"regexp"
	"strings"
)

const reportBaseURL = "https://www.warcraftlogs.com/reports/"

var (
	codeInURL = regexp.MustCompile(`(?:^|/reports/)([A-Za-z0-9]{16})(?:[/?#].*)?$`)
	bareCode  = regexp.MustCompile(`^[A-Za-z0-9]{16}$`)
)

// ExtractCode pulls the 16 character report code out of a report URL or a
// bare code.
func ExtractCode(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if m := codeInURL.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	if bareCode.MatchString(raw) {
		return raw, true
	}
	return "", false
}

// ReportURL is the public page of a report.
func ReportURL(code string) string { return reportBaseURL + code }
