package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"suntobot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeStore implements domain.MessageStore in memory for engine tests.
type fakeStore struct {
	mu       sync.Mutex
	records  []domain.MessageRecord
	lastSeen map[int64]time.Time // userID -> last message time
	rangeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{lastSeen: make(map[int64]time.Time)}
}

func (s *fakeStore) SaveMessage(ctx context.Context, msg domain.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ChatID == msg.ChatID && r.MessageID == msg.MessageID {
			return nil
		}
	}
	s.records = append(s.records, msg)
	return nil
}

func (s *fakeStore) MessagesInRange(ctx context.Context, chatID int64, r domain.TimeRange) ([]domain.MessageRecord, error) {
	if s.rangeErr != nil {
		return nil, s.rangeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MessageRecord
	for _, rec := range s.records {
		if rec.ChatID == chatID && r.Contains(rec.Timestamp) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) LastMessageTime(ctx context.Context, chatID, userID int64) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSeen[userID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *fakeStore) RecentBefore(ctx context.Context, chatID int64, before time.Time, limit int) ([]domain.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MessageRecord
	for _, rec := range s.records {
		if rec.ChatID == chatID && rec.Timestamp.Before(before) {
			out = append(out, rec)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) SetImageDescription(ctx context.Context, chatID, messageID int64, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.records {
		if rec.ChatID == chatID && rec.MessageID == messageID {
			s.records[i].ImageDescription = description
			return nil
		}
	}
	return errors.New("message not found")
}

func (s *fakeStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) { return 0, nil }
func (s *fakeStore) Close() error                                                     { return nil }

// fakeProvider records calls and answers from a script.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []fakeCall
	reply   func(system, payload string) (string, error)
	healthy bool
}

type fakeCall struct {
	system  string
	payload string
}

func (p *fakeProvider) Complete(ctx context.Context, systemPrompt, userPayload, model string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, fakeCall{system: systemPrompt, payload: userPayload})
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.reply != nil {
		return p.reply(systemPrompt, userPayload)
	}
	return "ok", nil
}

func (p *fakeProvider) DescribeImage(ctx context.Context, imageData []byte) (string, error) {
	return "an image", nil
}

func (p *fakeProvider) Name() string     { return "fake" }
func (p *fakeProvider) Models() []string { return []string{"fake-model"} }

func (p *fakeProvider) Healthy(ctx context.Context) error {
	if !p.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProvider) callAt(i int) fakeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[i]
}

func seedMessages(store *fakeStore, chatID int64, n int, end time.Time) {
	for i := 0; i < n; i++ {
		store.records = append(store.records, domain.MessageRecord{
			MessageID: int64(i + 1),
			ChatID:    chatID,
			UserID:    int64(100 + i%5),
			Username:  fmt.Sprintf("user%d", i%5),
			Text:      fmt.Sprintf("message number %d", i+1),
			Timestamp: end.Add(-time.Duration(n-i) * time.Minute),
		})
	}
}

func newTestEngine(store *fakeStore, prov *fakeProvider, cfg Config) *Engine {
	return NewEngine(EngineConfig{
		Store:    store,
		Provider: prov,
		Pipeline: cfg,
		Logger:   testLogger(),
	})
}

// --- Empty window ---

func TestSummarize_NoMessagesReturnsFixedText(t *testing.T) {
	store := newFakeStore()
	prov := &fakeProvider{}
	eng := newTestEngine(store, prov, Config{})

	text, err := eng.Summarize(context.Background(), SummaryRequest{
		ChatID: 1, UserID: 100, Username: "alice", RangeToken: "2h",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "No messages found in the specified time period (last 2 hours)."
	if text != want {
		t.Fatalf("expected %q, got %q", want, text)
	}
	if prov.callCount() != 0 {
		t.Fatalf("expected no LLM calls on empty window, got %d", prov.callCount())
	}
}

// --- Invalid input ---

func TestSummarize_BadTokenReturnsInvalidRange(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(store, &fakeProvider{}, Config{})

	_, err := eng.Summarize(context.Background(), SummaryRequest{
		ChatID: 1, UserID: 100, RangeToken: "banana",
	})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestSummarize_NoTokenNoHistoryReturnsInvalidRange(t *testing.T) {
	store := newFakeStore()
	eng := newTestEngine(store, &fakeProvider{}, Config{})

	_, err := eng.Summarize(context.Background(), SummaryRequest{ChatID: 1, UserID: 100})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

// --- Single chunk fast path ---

func TestSummarize_SingleChunkSkipsMetaCall(t *testing.T) {
	store := newFakeStore()
	seedMessages(store, 1, 10, time.Now().UTC())
	prov := &fakeProvider{reply: func(system, payload string) (string, error) {
		return "- the only summary [3]", nil
	}}
	eng := newTestEngine(store, prov, Config{})

	text, err := eng.Summarize(context.Background(), SummaryRequest{
		ChatID: 1, UserID: 100, Username: "alice", RangeToken: "2h",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "- the only summary [3]" {
		t.Fatalf("expected chunk summary verbatim, got %q", text)
	}
	if prov.callCount() != 1 {
		t.Fatalf("expected exactly 1 LLM call, got %d", prov.callCount())
	}
}

// --- Multi-chunk with meta consolidation ---

func TestSummarize_MultiChunkMakesOneMetaCall(t *testing.T) {
	store := newFakeStore()
	seedMessages(store, 1, 150, time.Now().UTC())
	prov := &fakeProvider{reply: func(system, payload string) (string, error) {
		if strings.Contains(system, "partial summaries") {
			return "- merged summary [5]", nil
		}
		return "- partial [1]", nil
	}}
	// 150 messages at 70 per chunk: chunks of 70, 70, 10.
	eng := newTestEngine(store, prov, Config{MaxMessagesPerChunk: 70, MaxParallelChunks: 2})

	text, err := eng.Summarize(context.Background(), SummaryRequest{
		ChatID: 1, UserID: 100, Username: "alice", RangeToken: "1d",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "- merged summary [5]" {
		t.Fatalf("expected meta result, got %q", text)
	}
	if prov.callCount() != 4 { // 3 chunks + 1 meta
		t.Fatalf("expected 4 LLM calls, got %d", prov.callCount())
	}

	metaCall := prov.callAt(3)
	if !strings.Contains(metaCall.system, "3 partial summaries") {
		t.Fatalf("meta prompt should announce 3 chunks, got %q", metaCall.system)
	}
	// Meta payload keeps the chunk order.
	for i := 1; i <= 3; i++ {
		if !strings.Contains(metaCall.payload, fmt.Sprintf("Part %d of 3:", i)) {
			t.Fatalf("meta payload missing part %d: %q", i, metaCall.payload)
		}
	}
	if strings.Index(metaCall.payload, "Part 1 of 3") > strings.Index(metaCall.payload, "Part 2 of 3") {
		t.Fatal("meta payload parts out of order")
	}
}

// --- Partial failure policies ---

func TestSummarize_PartialFailureAppendsNote(t *testing.T) {
	store := newFakeStore()
	seedMessages(store, 1, 150, time.Now().UTC())
	var n int
	var mu sync.Mutex
	prov := &fakeProvider{reply: func(system, payload string) (string, error) {
		if strings.Contains(system, "partial summaries") {
			return "- merged [2]", nil
		}
		mu.Lock()
		n++
		fail := n == 2
		mu.Unlock()
		if fail {
			return "", errors.New("model exploded")
		}
		return "- partial [1]", nil
	}}
	eng := newTestEngine(store, prov, Config{
		MaxMessagesPerChunk: 70,
		MaxParallelChunks:   1, // deterministic: second chunk fails
		OnPartialFailure:    PartialFailureNote,
	})

	text, err := eng.Summarize(context.Background(), SummaryRequest{
		ChatID: 1, UserID: 100, Username: "alice", RangeToken: "1d",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "Note: 1 of 3 parts of the requested window could not be summarized.") {
		t.Fatalf("expected degradation note, got %q", text)
	}
}

func TestSummarize_PartialFailurePolicyFail(t *testing.T) {
	store := newFakeStore()
	seedMessages(store, 1, 150, time.Now().UTC())
	var n int
	var mu sync.Mutex
	prov := &fakeProvider{reply: func(system, payload string) (string, error) {
		mu.Lock()
		n++
		fail := n == 1
		mu.Unlock()
		if fail {
			return "", errors.New("model exploded")
		}
		return "- partial [1]", nil
	}}
	eng := newTestEngine(store, prov, Config{
		MaxMessagesPerChunk: 70,
		MaxParallelChunks:   1,
		OnPartialFailure:    PartialFailureFail,
	})

	_, err := eng.Summarize(context.Background(), SummaryRequest{
		ChatID: 1, UserID: 100, RangeToken: "1d",
	})
	if !errors.Is(err, ErrSummaryUnavailable) {
		t.Fatalf("expected ErrSummaryUnavailable, got %v", err)
	}
}

func TestSummarize_AllChunksFail(t *testing.T) {
	store := newFakeStore()
	seedMessages(store, 1, 150, time.Now().UTC())
	prov := &fakeProvider{reply: func(system, payload string) (string, error) {
		return "", errors.New("model exploded")
	}}
	eng := newTestEngine(store, prov, Config{MaxMessagesPerChunk: 70})

	_, err := eng.Summarize(context.Background(), SummaryRequest{
		ChatID: 1, UserID: 100, RangeToken: "1d",
	})
	if !errors.Is(err, ErrSummaryUnavailable) {
		t.Fatalf("expected ErrSummaryUnavailable, got %v", err)
	}
}

// --- No-token path anchors to last message ---

func TestSummarize_DefaultsToSinceLastMessage(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	seedMessages(store, 1, 10, now)
	store.lastSeen[100] = now.Add(-5 * time.Minute)

	prov := &fakeProvider{reply: func(system, payload string) (string, error) {
		return "- recent talk [8]", nil
	}}
	eng := newTestEngine(store, prov, Config{})

	text, err := eng.Summarize(context.Background(), SummaryRequest{
		ChatID: 1, UserID: 100, Username: "alice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "- recent talk [8]" {
		t.Fatalf("unexpected summary: %q", text)
	}
	// Only messages after the anchor should be in the payload.
	call := prov.callAt(0)
	if strings.Contains(call.payload, "message number 1\n") {
		t.Fatalf("payload should not include messages before the anchor: %q", call.payload)
	}
}

// --- Output clamping ---

func TestClamp_TrimsBulletsAndTotal(t *testing.T) {
	eng := newTestEngine(newFakeStore(), &fakeProvider{}, Config{
		BulletMaxChars: 40,
		MaxChars:       120,
	})

	long := "- " + strings.Repeat("a", 100)
	text := eng.clamp(long + "\n" + long + "\n" + long + "\n" + long)

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "-") && len(line) > 40 {
			t.Fatalf("bullet longer than 40 chars: %q", line)
		}
	}
	// The trailing ellipsis line is allowed past the cap marker.
	if len(text) > 120+len("\n…") {
		t.Fatalf("total length %d exceeds cap", len(text))
	}
	if !strings.HasSuffix(text, "…") {
		t.Fatalf("expected truncation marker, got %q", text)
	}
}

func TestClamp_MultiByteTextStaysValidUTF8(t *testing.T) {
	eng := newTestEngine(newFakeStore(), &fakeProvider{}, Config{
		BulletMaxChars: 40,
		MaxChars:       120,
	})

	emoji := "- " + strings.Repeat("🙂", 20)
	accented := "- " + strings.Repeat("café résumé ", 10)
	text := eng.clamp(emoji + "\n" + accented + "\n" + emoji + "\n" + accented)

	if !utf8.ValidString(text) {
		t.Fatalf("clamp produced invalid UTF-8: %q", text)
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "-") && len(line) > 40 {
			t.Fatalf("bullet longer than 40 bytes: %q", line)
		}
	}
	if !strings.HasSuffix(text, "…") {
		t.Fatalf("expected truncation marker, got %q", text)
	}
}

func TestClamp_TotalCutOnRuneBoundary(t *testing.T) {
	eng := newTestEngine(newFakeStore(), &fakeProvider{}, Config{
		// One long unbreakable emoji line forces the byte-position fallback
		// cut instead of a newline cut.
		MaxChars: 101,
	})

	text := eng.clamp(strings.Repeat("🙂", 60))

	if !utf8.ValidString(text) {
		t.Fatalf("clamp produced invalid UTF-8: %q", text)
	}
	if len(text) > 101+len("\n…") {
		t.Fatalf("total length %d exceeds cap", len(text))
	}
}

func TestClamp_ShortTextUntouched(t *testing.T) {
	eng := newTestEngine(newFakeStore(), &fakeProvider{}, Config{
		BulletMaxChars: 200,
		MaxChars:       2000,
	})
	in := "- short bullet [1]\n- another [2]"
	if got := eng.clamp(in); got != in {
		t.Fatalf("expected text unchanged, got %q", got)
	}
}

// --- Mention reply ---

func TestMentionReply_SingleCallWithContext(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	seedMessages(store, 1, 5, now)

	prov := &fakeProvider{reply: func(system, payload string) (string, error) {
		if !strings.Contains(payload, "Recent conversation:") {
			return "", fmt.Errorf("payload missing context: %q", payload)
		}
		if !strings.Contains(payload, "bob mentioned you with:") {
			return "", fmt.Errorf("payload missing mention line: %q", payload)
		}
		return "sure thing", nil
	}}
	eng := newTestEngine(store, prov, Config{
		Mention: MentionConfig{RecentCount: 25, RecentHours: 6, OlderCount: 10},
	})

	reply, err := eng.MentionReply(context.Background(), MentionRequest{
		ChatID: 1, Username: "bob", Text: "@bot what did I miss?", MentionTime: now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "sure thing" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if prov.callCount() != 1 {
		t.Fatalf("mention path must make exactly 1 call, got %d", prov.callCount())
	}
}

func TestMentionReply_ProviderFailure(t *testing.T) {
	store := newFakeStore()
	prov := &fakeProvider{reply: func(system, payload string) (string, error) {
		return "", errors.New("down")
	}}
	eng := newTestEngine(store, prov, Config{})

	_, err := eng.MentionReply(context.Background(), MentionRequest{
		ChatID: 1, Username: "bob", Text: "hello", MentionTime: time.Now(),
	})
	if !errors.Is(err, ErrSummaryUnavailable) {
		t.Fatalf("expected ErrSummaryUnavailable, got %v", err)
	}
}
