package summary

import (
	"errors"
	"fmt"
)

// ErrInvalidRange means the requester gave a bad duration token or there is
// nothing to anchor the window to. The wrapped message is user-correctable
// and safe to surface verbatim.
var ErrInvalidRange = errors.New("invalid time range")

// ErrSummaryUnavailable means every chunk failed (or the sole mention call
// failed) and no summary can be produced for this request.
var ErrSummaryUnavailable = errors.New("summary unavailable")

// ChunkError wraps a single chunk's LLM failure with its position so a retry
// wrapper (or the meta-summarizer's partial-failure accounting) can target it.
type ChunkError struct {
	Index int // 0-based chunk index
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index+1, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }
