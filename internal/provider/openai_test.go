package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func oaiServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Complete(t *testing.T) {
	srv := oaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header: %q", got)
		}

		var req oaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("expected system+user messages, got %+v", req.Messages)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "summarized"}},
			},
		})
	})

	p := NewOpenAI(OpenAIConfig{APIKey: "test-key", APIBase: srv.URL, Logger: testLogger()})
	out, err := p.Complete(context.Background(), "sys prompt", "payload", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "summarized" {
		t.Fatalf("expected 'summarized', got %q", out)
	}
}

func TestOpenAI_Complete_APIError(t *testing.T) {
	srv := oaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad model"},
		})
	})

	p := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	if _, err := p.Complete(context.Background(), "sys", "payload", ""); err == nil {
		t.Fatal("expected error from API error body")
	}
}

func TestOpenAI_Complete_RetriesOn500(t *testing.T) {
	var calls int32
	srv := oaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "eventually"}},
			},
		})
	})

	p := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	out, err := p.Complete(context.Background(), "sys", "payload", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "eventually" {
		t.Fatalf("expected 'eventually', got %q", out)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 calls, got %d", n)
	}
}

func TestOpenAI_Complete_NoRetryOn400(t *testing.T) {
	var calls int32
	srv := oaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	p := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	if _, err := p.Complete(context.Background(), "sys", "payload", ""); err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", n)
	}
}

func TestOpenAI_DescribeImage_SendsMultimodalParts(t *testing.T) {
	srv := oaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		var raw struct {
			MaxTokens int `json:"max_tokens"`
			Messages  []struct {
				Role    string `json:"role"`
				Content []struct {
					Type     string `json:"type"`
					ImageURL *struct {
						URL    string `json:"url"`
						Detail string `json:"detail"`
					} `json:"image_url"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if raw.MaxTokens != 150 {
			t.Errorf("expected max_tokens 150, got %d", raw.MaxTokens)
		}
		parts := raw.Messages[0].Content
		if len(parts) != 2 || parts[0].Type != "text" || parts[1].Type != "image_url" {
			t.Errorf("expected text+image parts, got %+v", parts)
		}
		if parts[1].ImageURL == nil || parts[1].ImageURL.Detail != "low" {
			t.Error("image part must request low detail")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "a red bicycle"}},
			},
		})
	})

	p := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	out, err := p.DescribeImage(context.Background(), []byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "a red bicycle" {
		t.Fatalf("expected 'a red bicycle', got %q", out)
	}
}

func TestOpenAI_Complete_EmptyChoices(t *testing.T) {
	srv := oaiServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	p := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	if _, err := p.Complete(context.Background(), "sys", "payload", ""); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
