package history

import (
	"strconv"
	"strings"
	"time"
)

// MediaWikiLayout is the 14-digit timestamp layout used by MediaWiki logs.
const MediaWikiLayout = "20060102150405"

var timestampLayouts = []string{
	MediaWikiLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123,
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02",
}

// Values meaning "never expires".
var indefiniteValues = map[string]struct{}{
	"infinity":   {},
	"infinite":   {},
	"indefinite": {},
	"never":      {},
}

// IsIndefinite reports whether raw is one of the "never expires" sentinels.
func IsIndefinite(raw string) bool {
	_, ok := indefiniteValues[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// ParseTimestamp parses an absolute timestamp. Empty, indefinite or
// unparsable input yields nil. Results are in UTC.
func ParseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || IsIndefinite(raw) {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return TimePtr(t.UTC())
		}
	}
	return nil
}

// ParseExpiration parses a block expiration. Besides absolute timestamps it
// accepts relative durations such as "3 days" or "1 week", resolved against
// the time of the event that set them.
func ParseExpiration(raw string, at time.Time) *time.Time {
	if t := ParseTimestamp(raw); t != nil {
		return t
	}
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	if len(fields) != 2 {
		return nil
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 {
		return nil
	}
	unit := strings.TrimSuffix(fields[1], "s")
	var t time.Time
	switch unit {
	case "second", "sec":
		t = at.Add(time.Duration(n) * time.Second)
	case "minute", "min":
		t = at.Add(time.Duration(n) * time.Minute)
	case "hour":
		t = at.Add(time.Duration(n) * time.Hour)
	case "day":
		t = at.AddDate(0, 0, n)
	case "week":
		t = at.AddDate(0, 0, 7*n)
	case "month":
		t = at.AddDate(0, n, 0)
	case "year":
		t = at.AddDate(n, 0, 0)
	default:
		return nil
	}
	return TimePtr(t.UTC())
}
