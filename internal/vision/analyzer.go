package vision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"suntobot/internal/domain"
)

const (
	downloadTimeout = 30 * time.Second
	describeTimeout = 60 * time.Second
	maxImageBytes   = 20 << 20
)

// Analyzer downloads photos and stores a short text description alongside
// the message so summaries can reference image content.
type Analyzer struct {
	provider domain.Provider
	store    domain.MessageStore
	client   *http.Client
	logger   *slog.Logger
}

type AnalyzerConfig struct {
	Provider domain.Provider
	Store    domain.MessageStore
	Client   *http.Client
	Logger   *slog.Logger
}

func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	lgr := cfg.Logger
	if lgr == nil {
		lgr = slog.Default()
	}
	return &Analyzer{
		provider: cfg.Provider,
		store:    cfg.Store,
		client:   client,
		logger:   lgr,
	}
}

// Analyze downloads the photo, asks the vision model to describe it, and
// saves the description. Failures are logged and swallowed: a missing image
// description never blocks message recording.
func (a *Analyzer) Analyze(ctx context.Context, chatID, messageID int64, photoURL string) {
	imageData, err := a.download(ctx, photoURL)
	if err != nil {
		a.logger.Warn("image download failed",
			"chat_id", chatID, "message_id", messageID, "error", err)
		return
	}

	dctx, cancel := context.WithTimeout(ctx, describeTimeout)
	defer cancel()

	description, err := a.provider.DescribeImage(dctx, imageData)
	if err != nil {
		a.logger.Warn("image description failed",
			"chat_id", chatID, "message_id", messageID, "error", err)
		return
	}

	if err := a.store.SetImageDescription(ctx, chatID, messageID, description); err != nil {
		a.logger.Warn("saving image description failed",
			"chat_id", chatID, "message_id", messageID, "error", err)
		return
	}

	a.logger.Debug("image described",
		"chat_id", chatID, "message_id", messageID, "length", len(description))
}

func (a *Analyzer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	return data, nil
}
