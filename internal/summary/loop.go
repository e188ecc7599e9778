package summary

import (
	"context"
	"errors"
	"log/slog"

	"suntobot/internal/domain"
)

const defaultMaxConcurrentRequests = 5

// ImageAnalyzer describes the vision pipeline the loop hands photo messages
// to. Analysis runs after the message is stored; failures leave the record
// without a description and the formatter degrades gracefully.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, chatID, messageID int64, photoURL string)
}

// LoopConfig wires the engine loop's collaborators.
type LoopConfig struct {
	Engine        *Engine
	Store         domain.MessageStore
	Bus           domain.MessageBus
	Vision        ImageAnalyzer // optional
	Logger        *slog.Logger
	MaxConcurrent int
}

// Loop consumes inbound events from the bus: regular messages are recorded,
// summary commands run the chunked pipeline, mentions run the short reply
// path. Requests are handled concurrently under a fixed admission limit.
type Loop struct {
	engine        *Engine
	store         domain.MessageStore
	bus           domain.MessageBus
	vision        ImageAnalyzer
	logger        *slog.Logger
	maxConcurrent int
}

// NewLoop creates an engine loop.
func NewLoop(cfg LoopConfig) *Loop {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = defaultMaxConcurrentRequests
	}
	lgr := cfg.Logger
	if lgr == nil {
		lgr = slog.Default()
	}
	return &Loop{
		engine:        cfg.Engine,
		store:         cfg.Store,
		bus:           cfg.Bus,
		vision:        cfg.Vision,
		logger:        lgr,
		maxConcurrent: maxConc,
	}
}

// Run blocks, processing events until ctx is cancelled or the bus closes.
func (l *Loop) Run(ctx context.Context) {
	sem := make(chan struct{}, l.maxConcurrent)
	events := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("engine loop stopping")
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(evt domain.InboundEvent) {
				defer func() { <-sem }()
				l.handleEvent(ctx, evt)
			}(evt)
		}
	}
}

func (l *Loop) handleEvent(ctx context.Context, evt domain.InboundEvent) {
	switch evt.Kind {
	case domain.EventMessage:
		l.handleMessage(ctx, evt)
	case domain.EventSummary:
		l.handleSummary(ctx, evt)
	case domain.EventMention:
		l.handleMention(ctx, evt)
	default:
		l.logger.Warn("unknown event kind", "kind", evt.Kind)
	}
}

func (l *Loop) handleMessage(ctx context.Context, evt domain.InboundEvent) {
	if err := l.store.SaveMessage(ctx, evt.Record); err != nil {
		l.logger.Error("failed to save message",
			"chat_id", evt.Record.ChatID,
			"message_id", evt.Record.MessageID,
			"err", err,
		)
		return
	}
	if evt.PhotoURL != "" && l.vision != nil {
		l.vision.Analyze(ctx, evt.Record.ChatID, evt.Record.MessageID, evt.PhotoURL)
	}
}

func (l *Loop) handleSummary(ctx context.Context, evt domain.InboundEvent) {
	text, err := l.engine.Summarize(ctx, SummaryRequest{
		ChatID:     evt.ChatID,
		UserID:     evt.UserID,
		Username:   evt.Username,
		RangeToken: evt.RangeToken,
	})

	var reply string
	switch {
	case err == nil:
		reply = "📋 *Summary*\n\n" + text
	case errors.Is(err, ErrInvalidRange):
		// User-correctable, surface verbatim.
		reply = err.Error()
	default:
		l.logger.Error("summary request failed", "chat_id", evt.ChatID, "err", err)
		reply = "Failed to generate summary, please try again later."
	}

	l.bus.SendOutbound(domain.OutboundMessage{
		Channel:       evt.Channel,
		ChatID:        evt.ChatID,
		Content:       reply,
		EditMessageID: evt.LoadingMessageID,
	})
}

func (l *Loop) handleMention(ctx context.Context, evt domain.InboundEvent) {
	reply, err := l.engine.MentionReply(ctx, MentionRequest{
		ChatID:      evt.ChatID,
		Username:    evt.Username,
		Text:        evt.Text,
		MentionTime: evt.Timestamp,
	})
	if err != nil {
		l.logger.Error("mention reply failed", "chat_id", evt.ChatID, "err", err)
		reply = "Sorry, I can't reply right now."
	}

	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: evt.Channel,
		ChatID:  evt.ChatID,
		Content: reply,
	})
}
