package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"suntobot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.MessageStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id            INTEGER NOT NULL,
		user_id            INTEGER NOT NULL,
		username           TEXT,
		text               TEXT,
		image_description  TEXT,
		forwarded_from     TEXT,
		message_id         INTEGER NOT NULL,
		created_at         DATETIME NOT NULL,
		UNIQUE(chat_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat_time ON messages(chat_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_chat_user_time ON messages(chat_id, user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg domain.MessageRecord) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	// Telegram redelivers updates on reconnect; the same message is a no-op.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (chat_id, user_id, username, text, image_description, forwarded_from, message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.UserID, msg.Username, msg.Text, msg.ImageDescription, msg.ForwardedFrom, msg.MessageID, msg.Timestamp.UTC(),
	)
	return err
}

func (s *SQLiteStore) MessagesInRange(ctx context.Context, chatID int64, r domain.TimeRange) ([]domain.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, user_id, username, text, image_description, forwarded_from, message_id, created_at
		 FROM messages
		 WHERE chat_id = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at ASC, message_id ASC`,
		chatID, r.Start.UTC(), r.End.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) RecentBefore(ctx context.Context, chatID int64, before time.Time, limit int) ([]domain.MessageRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	// Newest-first to apply the limit, then re-sorted ascending in Go.
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, user_id, username, text, image_description, forwarded_from, message_id, created_at
		 FROM messages
		 WHERE chat_id = ? AND created_at < ?
		 ORDER BY created_at DESC, message_id DESC
		 LIMIT ?`,
		chatID, before.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) LastMessageTime(ctx context.Context, chatID, userID int64) (*time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM messages
		 WHERE chat_id = ? AND user_id = ?
		 ORDER BY created_at DESC, message_id DESC
		 LIMIT 1`,
		chatID, userID,
	).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func (s *SQLiteStore) SetImageDescription(ctx context.Context, chatID, messageID int64, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET image_description = ? WHERE chat_id = ? AND message_id = ?`,
		description, chatID, messageID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no message %d in chat %d", messageID, chatID)
	}
	return nil
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE created_at < ?`, cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned old messages", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StartRetention deletes messages older than retentionDays once a day until
// ctx is cancelled. A retention of 0 keeps everything.
func (s *SQLiteStore) StartRetention(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		if _, err := s.PruneBefore(ctx, cutoff); err != nil {
			s.logger.Error("retention prune failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func scanMessages(rows *sql.Rows) ([]domain.MessageRecord, error) {
	var msgs []domain.MessageRecord
	for rows.Next() {
		var m domain.MessageRecord
		var username, text, imageDesc, forwarded sql.NullString
		if err := rows.Scan(&m.ChatID, &m.UserID, &username, &text, &imageDesc, &forwarded, &m.MessageID, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Username = username.String
		m.Text = text.String
		m.ImageDescription = imageDesc.String
		m.ForwardedFrom = forwarded.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
