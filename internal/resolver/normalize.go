// Package resolver implements the market identity resolver: fuzzy-matches
// raw venue market listings into CanonicalMarket pairs on a periodic sync
// trigger, off the hot path.
package resolver

import (
	"regexp"
	"strings"
	"time"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Normalized is the result of normalizing one market's title + description.
type Normalized struct {
	Text   string   // lowercased, punctuation collapsed to single spaces, trimmed
	Tokens []string // whitespace-tokenized, len<=2 and purely numeric tokens dropped
	Dates  []time.Time
}

// Normalize lowercases, strips punctuation, tokenizes, and extracts dates.
// Text and Tokens are idempotent: normalizing Normalize(s).Text again gives
// the same Text and Tokens. Dates are not: they are extracted from the raw
// input, and the slash, ISO and "Mon DD, YYYY" forms do not survive in Text.
func Normalize(title, description string) Normalized {
	raw := title
	if description != "" {
		raw = raw + " " + description
	}

	lower := strings.ToLower(raw)
	collapsed := nonAlnum.ReplaceAllString(lower, " ")
	text := strings.TrimSpace(collapsed)
	// collapse any remaining repeated spaces introduced by ReplaceAllString
	text = strings.Join(strings.Fields(text), " ")

	tokens := make([]string, 0, len(strings.Fields(text)))
	for _, tok := range strings.Fields(text) {
		if len(tok) <= 2 {
			continue
		}
		if isPurelyNumeric(tok) {
			continue
		}
		tokens = append(tokens, tok)
	}

	return Normalized{
		Text:   text,
		Tokens: tokens,
		Dates:  extractDates(lower),
	}
}

func isPurelyNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var (
	datePatternSlash = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	datePatternISO   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	datePatternMonth = regexp.MustCompile(`\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\s+(\d{1,2}),\s*(\d{4})\b`)

	monthAbbrevs = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March,
		"apr": time.April, "may": time.May, "jun": time.June,
		"jul": time.July, "aug": time.August, "sep": time.September,
		"oct": time.October, "nov": time.November, "dec": time.December,
	}
)

// extractDates scans MM/DD/YYYY, YYYY-MM-DD, and "Mon DD, YYYY" patterns
// and parses each hit, discarding unparseable matches (e.g. 02/30/2024).
func extractDates(lower string) []time.Time {
	var dates []time.Time

	for _, m := range datePatternSlash.FindAllStringSubmatch(lower, -1) {
		if t, ok := buildDate(atoiSafe(m[3]), atoiSafe(m[1]), atoiSafe(m[2])); ok {
			dates = append(dates, t)
		}
	}
	for _, m := range datePatternISO.FindAllStringSubmatch(lower, -1) {
		if t, ok := buildDate(atoiSafe(m[1]), atoiSafe(m[2]), atoiSafe(m[3])); ok {
			dates = append(dates, t)
		}
	}
	for _, m := range datePatternMonth.FindAllStringSubmatch(lower, -1) {
		month, ok := monthAbbrevs[m[1]]
		if !ok {
			continue
		}
		if t, ok := buildDate(atoiSafe(m[3]), int(month), atoiSafe(m[2])); ok {
			dates = append(dates, t)
		}
	}

	return dates
}

func buildDate(year, month, day int) (time.Time, bool) {
	if year < 1000 || year > 9999 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject dates that overflowed (e.g. Feb 30 rolling into March).
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
