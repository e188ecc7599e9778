package summary

import (
	"fmt"

	"suntobot/internal/domain"
)

// FormattedLine is one citeable line of context: the rendered text plus the
// message ID it came from. Lines are ephemeral, they exist only for the
// lifetime of a single request.
type FormattedLine struct {
	MessageID int64
	Text      string
}

// FormatMessage renders one stored record into a citeable line:
//
//	[id] name: text
//	[id] name: [sent an image: description]
//	[id] name (forwarded from origin): text
//
// It is total: records with missing fields degrade to placeholders instead
// of failing. The second return value reports such degradation so the caller
// can log it.
func FormatMessage(rec domain.MessageRecord) (FormattedLine, bool) {
	name := rec.Username
	if name == "" {
		name = fmt.Sprintf("user_%d", rec.UserID)
	}

	degraded := false
	var body string
	switch {
	case rec.Text != "":
		body = rec.Text
	case rec.ImageDescription != "":
		body = fmt.Sprintf("[sent an image: %s]", rec.ImageDescription)
	default:
		body = "[message content unavailable]"
		degraded = true
	}

	var text string
	if rec.ForwardedFrom != "" {
		text = fmt.Sprintf("[%d] %s (forwarded from %s): %s", rec.MessageID, name, rec.ForwardedFrom, body)
	} else {
		text = fmt.Sprintf("[%d] %s: %s", rec.MessageID, name, body)
	}

	return FormattedLine{MessageID: rec.MessageID, Text: text}, degraded
}

// FormatMessages renders an ordered record slice, preserving order. The
// degraded count is returned for logging.
func FormatMessages(records []domain.MessageRecord) ([]FormattedLine, int) {
	lines := make([]FormattedLine, 0, len(records))
	degraded := 0
	for _, rec := range records {
		line, deg := FormatMessage(rec)
		if deg {
			degraded++
		}
		lines = append(lines, line)
	}
	return lines, degraded
}
