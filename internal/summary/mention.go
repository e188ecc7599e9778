package summary

import (
	"context"
	"sort"
	"time"

	"suntobot/internal/domain"
)

// MentionConfig bounds the context window assembled for @-mention replies.
type MentionConfig struct {
	RecentCount int // most recent messages to include from the recent window
	RecentHours int // size of the recent window in hours
	OlderCount  int // extra messages immediately preceding the recent window
}

// AssembleMentionContext builds the bounded context for a reactive reply:
// the most recent RecentCount messages within the last RecentHours, plus
// OlderCount messages immediately preceding that window. The result is
// deduplicated by message ID and ordered chronologically. No chunking is
// needed, the window is bounded by construction.
func AssembleMentionContext(ctx context.Context, store domain.MessageStore, chatID int64, mentionTime time.Time, cfg MentionConfig) ([]FormattedLine, error) {
	windowStart := mentionTime.Add(-time.Duration(cfg.RecentHours) * time.Hour)

	recent, err := store.MessagesInRange(ctx, chatID, domain.TimeRange{Start: windowStart, End: mentionTime})
	if err != nil {
		return nil, err
	}
	if cfg.RecentCount > 0 && len(recent) > cfg.RecentCount {
		recent = recent[len(recent)-cfg.RecentCount:]
	}

	var older []domain.MessageRecord
	if cfg.OlderCount > 0 {
		older, err = store.RecentBefore(ctx, chatID, windowStart, cfg.OlderCount)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[int64]bool, len(older)+len(recent))
	merged := make([]domain.MessageRecord, 0, len(older)+len(recent))
	for _, rec := range append(older, recent...) {
		if seen[rec.MessageID] {
			continue
		}
		seen[rec.MessageID] = true
		merged = append(merged, rec)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].MessageID < merged[j].MessageID
		}
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	lines, _ := FormatMessages(merged)
	return lines, nil
}
