package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"suntobot/internal/domain"
)

// FailoverProvider tries multiple providers in order, falling back to the
// next one when the current fails.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain from the given providers.
// At least one provider is required.
func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range fp.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	for _, p := range fp.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Complete tries each provider in order and returns the first success.
func (fp *FailoverProvider) Complete(ctx context.Context, systemPrompt, userPayload, model string) (string, error) {
	var lastErr error
	for i, p := range fp.providers {
		text, err := p.Complete(ctx, systemPrompt, userPayload, model)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider",
					"provider", p.Name(),
					"attempt", i+1,
				)
			}
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		fp.logger.Warn("failover: provider failed, trying next",
			"provider", p.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	return "", fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

// DescribeImage tries each provider in order, same as Complete.
func (fp *FailoverProvider) DescribeImage(ctx context.Context, imageData []byte) (string, error) {
	var lastErr error
	for _, p := range fp.providers {
		desc, err := p.DescribeImage(ctx, imageData)
		if err == nil {
			return desc, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
