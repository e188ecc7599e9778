package summary

import (
	"context"
	"sync"
	"time"
)

// ChunkResult is one chunk's outcome, slotted by original chunk position.
type ChunkResult struct {
	Index   int
	Summary string
	Err     error
}

// chunkCall invokes the language model for one chunk.
type chunkCall func(ctx context.Context, chunk Chunk) (string, error)

// dispatchChunks runs one summarization call per chunk, never more than
// limit concurrently. The returned slice is indexed by chunk position, so
// output order is always the chunk order regardless of completion order.
// One chunk's failure does not cancel its siblings; each failure is wrapped
// as a ChunkError carrying the chunk index. A per-call timeout applies when
// timeout > 0; cancelling ctx stops chunks that have not started and cuts
// short those in flight.
func dispatchChunks(ctx context.Context, chunks []Chunk, limit int, timeout time.Duration, call chunkCall) []ChunkResult {
	if limit < 1 {
		limit = 1
	}

	results := make([]ChunkResult, len(chunks))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk Chunk) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = ChunkResult{Index: i, Err: &ChunkError{Index: i, Err: ctx.Err()}}
				return
			}
			defer func() { <-sem }()

			callCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			text, err := call(callCtx, chunk)
			if err != nil {
				results[i] = ChunkResult{Index: i, Err: &ChunkError{Index: i, Err: err}}
				return
			}
			results[i] = ChunkResult{Index: i, Summary: text}
		}(i, chunk)
	}

	wg.Wait()
	return results
}
