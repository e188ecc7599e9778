package domain

import (
	"context"
	"time"
)

// MessageStore handles persistent storage of recorded chat messages.
type MessageStore interface {
	// SaveMessage inserts a record. Saving the same (chat, message) pair
	// twice is a no-op, Telegram redelivers updates on reconnect.
	SaveMessage(ctx context.Context, msg MessageRecord) error

	// MessagesInRange returns all messages for a chat inside the half-open
	// range, ascending by timestamp then message ID.
	MessagesInRange(ctx context.Context, chatID int64, r TimeRange) ([]MessageRecord, error)

	// LastMessageTime returns the timestamp of the user's most recent
	// message in the chat, or nil if the user has never posted there.
	LastMessageTime(ctx context.Context, chatID, userID int64) (*time.Time, error)

	// RecentBefore returns up to limit messages strictly before the given
	// instant, ascending by timestamp then message ID (the most recent
	// limit messages, in chronological order).
	RecentBefore(ctx context.Context, chatID int64, before time.Time, limit int) ([]MessageRecord, error)

	// SetImageDescription attaches a vision-generated description to a
	// previously saved photo message.
	SetImageDescription(ctx context.Context, chatID, messageID int64, description string) error

	// PruneBefore deletes messages older than the cutoff and returns the
	// number of rows removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
