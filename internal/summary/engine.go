package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"suntobot/internal/domain"
)

// Config tunes the summarization pipeline. Values come from the config file
// and are passed in explicitly so each request is test-isolatable.
type Config struct {
	Model               string
	MaxMessagesPerChunk int
	MaxParallelChunks   int
	MaxContextTokens    int
	CharsPerToken       int
	BulletMaxChars      int
	MaxChars            int
	// OnPartialFailure decides what happens when some but not all chunks
	// fail: "note" proceeds with the successful subset and appends a note,
	// "fail" rejects the whole request.
	OnPartialFailure string
	RequestTimeout   time.Duration
	Mention          MentionConfig
}

const (
	PartialFailureNote = "note"
	PartialFailureFail = "fail"
)

// EngineConfig wires an Engine's collaborators.
type EngineConfig struct {
	Store    domain.MessageStore
	Provider domain.Provider
	Prompts  *Templates
	Pipeline Config
	Logger   *slog.Logger
}

// Engine runs the summarization pipeline: time-window resolution, context
// assembly, token-budgeted chunking, bounded-parallel chunk summarization,
// and hierarchical combination into one final summary. It also serves the
// shorter mention-reply path.
type Engine struct {
	store    domain.MessageStore
	provider domain.Provider
	prompts  *Templates
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates an Engine, applying defaults for unset pipeline knobs.
func NewEngine(cfg EngineConfig) *Engine {
	p := cfg.Pipeline
	if p.MaxMessagesPerChunk <= 0 {
		p.MaxMessagesPerChunk = 70
	}
	if p.MaxParallelChunks <= 0 {
		p.MaxParallelChunks = 3
	}
	if p.MaxContextTokens <= 0 {
		p.MaxContextTokens = 4096
	}
	if p.CharsPerToken <= 0 {
		p.CharsPerToken = defaultCharsPerToken
	}
	if p.OnPartialFailure == "" {
		p.OnPartialFailure = PartialFailureNote
	}
	prompts := cfg.Prompts
	if prompts == nil {
		prompts = DefaultTemplates()
	}
	lgr := cfg.Logger
	if lgr == nil {
		lgr = slog.Default()
	}
	return &Engine{
		store:    cfg.Store,
		provider: cfg.Provider,
		prompts:  prompts,
		cfg:      p,
		logger:   lgr,
	}
}

// SummaryRequest identifies one summary command.
type SummaryRequest struct {
	ChatID     int64
	UserID     int64
	Username   string
	RangeToken string // optional "30m"/"2h"/"1d" argument
}

// Summarize produces the final summary text for a request. It returns
// ErrInvalidRange for user-correctable time input and ErrSummaryUnavailable
// when no part of the window could be summarized.
func (e *Engine) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	now := time.Now().UTC()

	var lastMessage *time.Time
	if req.RangeToken == "" {
		t, err := e.store.LastMessageTime(ctx, req.ChatID, req.UserID)
		if err != nil {
			return "", fmt.Errorf("last message lookup: %w", err)
		}
		lastMessage = t
	}

	rng, rangeDesc, err := ResolveRange(req.RangeToken, lastMessage, now)
	if err != nil {
		return "", err
	}

	records, err := e.store.MessagesInRange(ctx, req.ChatID, rng)
	if err != nil {
		return "", fmt.Errorf("fetch messages: %w", err)
	}
	if len(records) == 0 {
		return fmt.Sprintf("No messages found in the specified time period (%s).", rangeDesc), nil
	}

	lines, degraded := FormatMessages(records)
	if degraded > 0 {
		e.logger.Warn("some records rendered with placeholders",
			"chat_id", req.ChatID, "degraded", degraded, "total", len(records))
	}

	chunks := SplitChunks(lines, e.cfg.MaxMessagesPerChunk, e.cfg.MaxContextTokens, e.cfg.CharsPerToken)
	e.logger.Info("summary pipeline started",
		"chat_id", req.ChatID,
		"messages", len(records),
		"chunks", len(chunks),
		"range", rangeDesc,
	)

	username := req.Username
	if username == "" {
		username = fmt.Sprintf("user_%d", req.UserID)
	}
	baseSystem := Render(e.prompts.Summary, map[string]string{
		"username":   username,
		"time_range": rangeDesc,
	})

	results := dispatchChunks(ctx, chunks, e.cfg.MaxParallelChunks, e.cfg.RequestTimeout,
		func(callCtx context.Context, chunk Chunk) (string, error) {
			system := baseSystem
			if len(chunks) > 1 {
				system += "\n\n" + Render(e.prompts.Chunk, map[string]string{
					"chunk_index":  fmt.Sprintf("%d", chunk.Index+1),
					"total_chunks": fmt.Sprintf("%d", len(chunks)),
				})
			}
			return e.provider.Complete(callCtx, system, chunk.Payload(), e.cfg.Model)
		})

	return e.combine(ctx, results, rangeDesc)
}

// combine implements the meta-summarization step over the ordered chunk
// results: single-success fast path, consolidation call for multiple
// partials, and the configured partial-failure policy.
func (e *Engine) combine(ctx context.Context, results []ChunkResult, rangeDesc string) (string, error) {
	var successes []ChunkResult
	var failures []ChunkResult
	for _, r := range results {
		if r.Err != nil {
			e.logger.Warn("chunk summarization failed", "chunk", r.Index+1, "err", r.Err)
			failures = append(failures, r)
		} else {
			successes = append(successes, r)
		}
	}

	if len(successes) == 0 {
		return "", fmt.Errorf("%w: all %d chunks failed: %v", ErrSummaryUnavailable, len(results), failures[0].Err)
	}
	if len(failures) > 0 && e.cfg.OnPartialFailure == PartialFailureFail {
		return "", fmt.Errorf("%w: %d of %d chunks failed", ErrSummaryUnavailable, len(failures), len(results))
	}

	var final string
	if len(successes) == 1 && len(failures) == 0 {
		// Single chunk: its partial summary is the final one, no extra
		// LLM round-trip.
		final = successes[0].Summary
	} else {
		var sb strings.Builder
		for _, r := range successes {
			fmt.Fprintf(&sb, "Part %d of %d:\n%s\n\n", r.Index+1, len(results), r.Summary)
		}

		system := Render(e.prompts.MetaSummary, map[string]string{
			"num_chunks": fmt.Sprintf("%d", len(successes)),
		})
		system += "\n\n" + Render(e.prompts.MetaSummarySuffix, map[string]string{
			"time_range": rangeDesc,
		})

		metaCtx := ctx
		if e.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			metaCtx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
			defer cancel()
		}

		text, err := e.provider.Complete(metaCtx, system, sb.String(), e.cfg.Model)
		if err != nil {
			return "", fmt.Errorf("%w: consolidation failed: %v", ErrSummaryUnavailable, err)
		}
		final = text
	}

	if len(failures) > 0 {
		final += fmt.Sprintf("\n\nNote: %d of %d parts of the requested window could not be summarized.",
			len(failures), len(results))
	}

	return e.clamp(final), nil
}

// ellipsis marks truncated output. It is three bytes of UTF-8, which the
// byte-budget math below accounts for.
const ellipsis = "…"

// truncateAtRune cuts s to at most max bytes without splitting a UTF-8
// sequence, walking back to the nearest rune start.
func truncateAtRune(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// clamp enforces the output length ceilings: individual bullets are trimmed
// to BulletMaxChars and the whole text to MaxChars, cutting at line
// boundaries so citations are not torn apart mid-bullet. Cuts never split a
// rune, Telegram rejects messages with invalid UTF-8.
func (e *Engine) clamp(text string) string {
	text = strings.TrimSpace(text)

	if e.cfg.BulletMaxChars > 0 {
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			if !strings.HasPrefix(trimmed, "-") && !strings.HasPrefix(trimmed, "•") && !strings.HasPrefix(trimmed, "*") {
				continue
			}
			if len(line) > e.cfg.BulletMaxChars && e.cfg.BulletMaxChars > len(ellipsis) {
				lines[i] = truncateAtRune(line, e.cfg.BulletMaxChars-len(ellipsis)) + ellipsis
			}
		}
		text = strings.Join(lines, "\n")
	}

	if e.cfg.MaxChars > 0 && len(text) > e.cfg.MaxChars {
		head := truncateAtRune(text, e.cfg.MaxChars)
		cut := strings.LastIndex(head, "\n")
		if cut < e.cfg.MaxChars/2 {
			cut = len(head)
		}
		text = strings.TrimSpace(head[:cut]) + "\n" + ellipsis
	}

	return text
}

// MentionRequest identifies one @-mention of the bot.
type MentionRequest struct {
	ChatID      int64
	Username    string
	Text        string
	MentionTime time.Time
}

// MentionReply builds the freshness-weighted mention context and answers
// with a single LLM call, bypassing the chunk/meta pipeline.
func (e *Engine) MentionReply(ctx context.Context, req MentionRequest) (string, error) {
	mentionTime := req.MentionTime
	if mentionTime.IsZero() {
		mentionTime = time.Now().UTC()
	}

	lines, err := AssembleMentionContext(ctx, e.store, req.ChatID, mentionTime, e.cfg.Mention)
	if err != nil {
		return "", fmt.Errorf("assemble mention context: %w", err)
	}

	username := req.Username
	if username == "" {
		username = "someone"
	}

	var sb strings.Builder
	if len(lines) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, l := range lines {
			sb.WriteString(l.Text)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "%s mentioned you with: %s", username, req.Text)

	callCtx := ctx
	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	reply, err := e.provider.Complete(callCtx, e.prompts.Mention, sb.String(), e.cfg.Model)
	if err != nil {
		return "", fmt.Errorf("%w: mention reply failed: %v", ErrSummaryUnavailable, err)
	}
	return strings.TrimSpace(reply), nil
}
