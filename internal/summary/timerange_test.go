package summary

import (
	"errors"
	"testing"
	"time"
)

func TestParseRangeToken(t *testing.T) {
	tests := []struct {
		token   string
		want    time.Duration
		wantErr bool
	}{
		{"30m", 30 * time.Minute, false},
		{"2h", 2 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"10d", 240 * time.Hour, false},
		{" 2H ", 2 * time.Hour, false}, // case and whitespace tolerant
		{"0h", 0, true},
		{"", 0, true},
		{"2w", 0, true},
		{"h", 0, true},
		{"2.5h", 0, true},
		{"-1h", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRangeToken(tt.token)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidRange) {
				t.Errorf("ParseRangeToken(%q): expected ErrInvalidRange, got %v", tt.token, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRangeToken(%q): unexpected error %v", tt.token, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRangeToken(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestDescribeDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Minute, "last 30 minutes"},
		{1 * time.Minute, "last 1 minute"},
		{2 * time.Hour, "last 2 hours"},
		{1 * time.Hour, "last 1 hour"},
		{24 * time.Hour, "last 1 day"},
		{72 * time.Hour, "last 3 days"},
		// Non-whole units keep the finer unit instead of rounding down.
		{90 * time.Minute, "last 90 minutes"},
		{36 * time.Hour, "last 36 hours"},
		{25 * time.Hour, "last 25 hours"},
		{61 * time.Minute, "last 61 minutes"},
	}
	for _, tt := range tests {
		if got := DescribeDuration(tt.d); got != tt.want {
			t.Errorf("DescribeDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestResolveRange_WithToken(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rng, desc, err := ResolveRange("2h", nil, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rng.Start.Equal(now.Add(-2 * time.Hour)) {
		t.Fatalf("expected start %v, got %v", now.Add(-2*time.Hour), rng.Start)
	}
	if !rng.End.Equal(now) {
		t.Fatalf("expected end %v, got %v", now, rng.End)
	}
	if desc != "last 2 hours" {
		t.Fatalf("expected description 'last 2 hours', got %q", desc)
	}
}

func TestResolveRange_HalfOpen(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rng, _, err := ResolveRange("1h", nil, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rng.Contains(now) {
		t.Fatal("end instant must be excluded")
	}
	if !rng.Contains(rng.Start) {
		t.Fatal("start instant must be included")
	}
}

func TestResolveRange_SinceLastMessage(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-90 * time.Minute)
	rng, desc, err := ResolveRange("", &last, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rng.Start.Equal(last) || !rng.End.Equal(now) {
		t.Fatalf("expected [%v, %v), got [%v, %v)", last, now, rng.Start, rng.End)
	}
	if desc != "since your last message (1.5h ago)" {
		t.Fatalf("unexpected description: %q", desc)
	}
}

func TestResolveRange_NoAnchor(t *testing.T) {
	_, _, err := ResolveRange("", nil, time.Now())
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}
