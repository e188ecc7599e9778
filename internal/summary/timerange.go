package summary

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"suntobot/internal/domain"
)

// rangeTokenPattern matches duration tokens like "30m", "2h", "10d".
var rangeTokenPattern = regexp.MustCompile(`^(\d+)([mhd])$`)

// ParseRangeToken parses a human duration token (m/h/d) into a duration.
func ParseRangeToken(token string) (time.Duration, error) {
	m := rangeTokenPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(token)))
	if m == nil {
		return 0, fmt.Errorf("%w: %q is not a valid duration, use e.g. 30m, 2h or 1d", ErrInvalidRange, token)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q is not a valid duration, use e.g. 30m, 2h or 1d", ErrInvalidRange, token)
	}
	switch m[2] {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * 24 * time.Hour, nil
	}
}

// DescribeDuration renders a duration as "last N minutes/hours/days",
// picking the largest unit that divides it evenly so "90m" stays
// "last 90 minutes" instead of being rounded down to an hour.
func DescribeDuration(d time.Duration) string {
	mins := int(d.Minutes())
	switch {
	case mins >= 1440 && mins%1440 == 0:
		n := mins / 1440
		return fmt.Sprintf("last %d %s", n, plural(n, "day"))
	case mins >= 60 && mins%60 == 0:
		n := mins / 60
		return fmt.Sprintf("last %d %s", n, plural(n, "hour"))
	default:
		return fmt.Sprintf("last %d %s", mins, plural(mins, "minute"))
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}

// ResolveRange turns an optional duration token and the requester's
// last-known message timestamp into an absolute half-open range plus a
// human-readable description of it.
//
//   - token present: [now-duration, now)
//   - token absent, last message known: [lastMessage, now)
//   - neither: ErrInvalidRange ("nothing to summarize yet")
//
// No upper bound is imposed, the chunker absorbs arbitrarily large ranges.
func ResolveRange(token string, lastMessage *time.Time, now time.Time) (domain.TimeRange, string, error) {
	if token != "" {
		d, err := ParseRangeToken(token)
		if err != nil {
			return domain.TimeRange{}, "", err
		}
		return domain.TimeRange{Start: now.Add(-d), End: now}, DescribeDuration(d), nil
	}

	if lastMessage == nil {
		return domain.TimeRange{}, "", fmt.Errorf("%w: nothing to summarize yet, you have no previous messages in this chat", ErrInvalidRange)
	}

	since := now.Sub(*lastMessage)
	desc := fmt.Sprintf("since your last message (%.1fh ago)", since.Hours())
	return domain.TimeRange{Start: *lastMessage, End: now}, desc, nil
}
