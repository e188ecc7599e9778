package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"suntobot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	loadingText            = "Generating summary, waiting... ⏳"
)

// Telegram polls a bot for group messages, records them onto the bus and
// turns /sunto commands and @-mentions into summary/mention events.
type Telegram struct {
	token          string
	allowedGroups  []int64 // Allowed chat IDs (empty = allow all)
	parseMode      string
	summaryCommand string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token          string
	AllowedGroups  []int64
	ParseMode      string
	SummaryCommand string
	Logger         *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.SummaryCommand == "" {
		cfg.SummaryCommand = "sunto"
	}
	lgr := cfg.Logger
	if lgr == nil {
		lgr = slog.Default()
	}
	return &Telegram{
		token:          cfg.Token,
		allowedGroups:  cfg.AllowedGroups,
		parseMode:      cfg.ParseMode,
		summaryCommand: cfg.SummaryCommand,
		logger:         lgr,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		if msg.EditMessageID != 0 {
			t.editMessage(msg.ChatID, msg.EditMessageID, msg.Content)
			return
		}
		t.sendMessage(msg.ChatID, msg.Content)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop shuts down the Telegram bot.
// Note: StopReceivingUpdates is already called when ctx is cancelled in Start().
// Calling it twice panics, so Stop() is a no-op.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	chatID := msg.Chat.ID
	if !t.isAllowed(chatID) {
		t.logger.Debug("ignoring message from non-whitelisted chat", "chat_id", chatID)
		return
	}

	if msg.IsCommand() {
		t.handleCommand(msg)
		return
	}

	if t.isMention(msg) {
		t.recordMessage(msg)
		t.bus.Publish(domain.InboundEvent{
			Kind:      domain.EventMention,
			Channel:   "telegram",
			ChatID:    chatID,
			UserID:    msg.From.ID,
			Username:  senderName(msg.From),
			Text:      strings.TrimSpace(msg.Text),
			Timestamp: time.Unix(int64(msg.Date), 0),
		})
		return
	}

	t.recordMessage(msg)
}

// recordMessage publishes a regular message for storage. Photos carry the
// caption as text and a download URL for the vision analyzer.
func (t *Telegram) recordMessage(msg *tgbotapi.Message) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	photoURL := ""
	if len(msg.Photo) > 0 {
		photoURL = t.photoURL(msg.Photo)
	}

	if text == "" && photoURL == "" {
		return // stickers, voice notes, joins: nothing summarizable
	}

	t.bus.Publish(domain.InboundEvent{
		Kind:    domain.EventMessage,
		Channel: "telegram",
		ChatID:  msg.Chat.ID,
		UserID:  msg.From.ID,
		Record: domain.MessageRecord{
			MessageID:     int64(msg.MessageID),
			ChatID:        msg.Chat.ID,
			UserID:        msg.From.ID,
			Username:      senderName(msg.From),
			Text:          text,
			ForwardedFrom: forwardOrigin(msg),
			Timestamp:     time.Unix(int64(msg.Date), 0),
		},
		PhotoURL:  photoURL,
		Timestamp: time.Unix(int64(msg.Date), 0),
	})
}

func (t *Telegram) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case t.summaryCommand:
		t.handleSummaryCommand(msg)
	case "start":
		t.sendMessage(chatID, fmt.Sprintf(
			"👋 Hello! I summarize this group's conversation.\n\nCommands:\n/%s — summarize since your last message\n/%s 2h — summarize the last 2 hours (also 30m, 1d)\n/help — show this message",
			t.summaryCommand, t.summaryCommand))
	case "help":
		t.sendMessage(chatID, fmt.Sprintf(
			"📖 *Help*\n\n/%s — summary of what happened since your last message\n/%s <N><m|h|d> — summary of the last N minutes/hours/days, e.g. /%s 2h\n\nMention me in a message and I'll reply with context from the recent conversation.",
			t.summaryCommand, t.summaryCommand, t.summaryCommand))
	default:
		// Other bots' commands in the group are none of our business.
	}
}

func (t *Telegram) handleSummaryCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	token := strings.TrimSpace(msg.CommandArguments())

	loading := tgbotapi.NewMessage(chatID, loadingText)
	sent, err := t.bot.Send(loading)
	loadingID := 0
	if err != nil {
		t.logger.Warn("sending loading message failed", "chat_id", chatID, "err", err)
	} else {
		loadingID = sent.MessageID
	}

	t.logger.Info("summary requested",
		"chat_id", chatID,
		"user_id", msg.From.ID,
		"range", token,
	)

	t.bus.Publish(domain.InboundEvent{
		Kind:             domain.EventSummary,
		Channel:          "telegram",
		ChatID:           chatID,
		UserID:           msg.From.ID,
		Username:         senderName(msg.From),
		RangeToken:       token,
		LoadingMessageID: loadingID,
		Timestamp:        time.Unix(int64(msg.Date), 0),
	})
}

// isMention reports whether the message @-mentions the bot.
func (t *Telegram) isMention(msg *tgbotapi.Message) bool {
	if msg.Text == "" || t.bot == nil {
		return false
	}
	return strings.Contains(msg.Text, "@"+t.bot.Self.UserName)
}

func (t *Telegram) isAllowed(chatID int64) bool {
	if len(t.allowedGroups) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowedGroups {
		if id == chatID {
			return true
		}
	}
	return false
}

// photoURL resolves the largest photo size to a direct download URL.
func (t *Telegram) photoURL(sizes []tgbotapi.PhotoSize) string {
	largest := sizes[len(sizes)-1]
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: largest.FileID})
	if err != nil {
		t.logger.Warn("resolving photo file failed", "err", err)
		return ""
	}
	return file.Link(t.token)
}

// senderName prefers the @username, falling back to the first name.
func senderName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}

// forwardOrigin describes where a forwarded message came from, or "" when
// the message is not a forward.
func forwardOrigin(msg *tgbotapi.Message) string {
	switch {
	case msg.ForwardFrom != nil:
		return senderName(msg.ForwardFrom)
	case msg.ForwardFromChat != nil:
		if msg.ForwardFromChat.Title != "" {
			return msg.ForwardFromChat.Title
		}
		return msg.ForwardFromChat.UserName
	case msg.ForwardSenderName != "":
		// Forwards from users with privacy mode on only expose a display name.
		return msg.ForwardSenderName
	}
	return ""
}

func (t *Telegram) editMessage(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if t.parseMode != "" {
		edit.ParseMode = t.parseMode
	}
	if _, err := t.bot.Send(edit); err != nil {
		if strings.Contains(err.Error(), "can't parse entities") {
			plain := tgbotapi.NewEditMessageText(chatID, messageID, text)
			if _, err2 := t.bot.Send(plain); err2 == nil {
				return
			}
		}
		t.logger.Warn("editing message failed, sending fresh one", "err", err)
		t.sendMessage(chatID, text)
	}
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			head := truncateAtRune(chunk, maxLen)
			cutAt := strings.LastIndex(head, "\n")
			if cutAt < maxLen/2 {
				cutAt = len(head)
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// truncateAtRune cuts s to at most max bytes without splitting a UTF-8
// sequence. The Bot API rejects payloads with invalid UTF-8.
func truncateAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try Markdown first → on parse error fallback to plain text → retry with backoff.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		// On subsequent attempts: send as plain text (parse mode may be malformed).

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Markdown parse error on first attempt — immediately retry as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
			// Plain also failed — fall through to backoff loop.
		}

		// Exponential backoff for other transient errors.
		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
