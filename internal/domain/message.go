package domain

import "time"

// MessageRecord is one stored chat message. Records are immutable once
// written, except ImageDescription which is filled in asynchronously after
// the vision call completes. MessageID doubles as the citation token that
// summaries reference as [id].
type MessageRecord struct {
	MessageID        int64
	ChatID           int64
	UserID           int64
	Username         string // empty when the sender has no @username
	Text             string
	ImageDescription string // AI-generated, empty until analyzed
	ForwardedFrom    string // original sender/chat descriptor, empty if not forwarded
	Timestamp        time.Time
}

// HasPhoto reports whether the record originated from a photo message.
// A photo record carries an ImageDescription once analysis has finished;
// before that both Text and ImageDescription may be empty.
func (m MessageRecord) HasPhoto() bool {
	return m.ImageDescription != ""
}

// TimeRange is a half-open interval [Start, End). Start < End always holds
// for ranges produced by the resolver.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the half-open interval.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}
