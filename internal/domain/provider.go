package domain

import "context"

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// Complete sends a system prompt plus a user payload and returns the
	// generated text. An empty model selects the provider's default.
	Complete(ctx context.Context, systemPrompt, userPayload, model string) (string, error)

	// DescribeImage returns a short natural-language description of a JPEG
	// image, used to make photo messages summarizable as text.
	DescribeImage(ctx context.Context, imageData []byte) (string, error)

	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}
