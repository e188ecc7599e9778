package summary

import "strings"

// Chunk is a bounded, ordered subsequence of formatted lines sent as one
// language-model request. Its estimated token size stays within the budget
// unless it holds exactly one oversized line that cannot be split further.
type Chunk struct {
	Index  int // 0-based position in the chunk sequence
	Lines  []FormattedLine
	Tokens int // estimated
}

// Payload returns the chunk's lines joined for the LLM call.
func (c Chunk) Payload() string {
	parts := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}

// SplitChunks greedily splits an ordered line sequence into ordered chunks,
// each bounded by maxMessages lines and maxTokens estimated tokens. A chunk
// closes when adding the next line would exceed either budget. A single line
// that alone exceeds the token budget becomes its own one-line chunk, it is
// never dropped or truncated, which guarantees progress on pathological
// inputs. Empty input yields no chunks.
func SplitChunks(lines []FormattedLine, maxMessages, maxTokens, charsPerToken int) []Chunk {
	if len(lines) == 0 {
		return nil
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if maxTokens <= 0 {
		maxTokens = 1
	}

	var chunks []Chunk
	current := Chunk{Index: 0}

	flush := func() {
		if len(current.Lines) > 0 {
			chunks = append(chunks, current)
			current = Chunk{Index: len(chunks)}
		}
	}

	for _, line := range lines {
		lineTokens := EstimateTokens(line.Text, charsPerToken)

		if len(current.Lines) >= maxMessages || (len(current.Lines) > 0 && current.Tokens+lineTokens > maxTokens) {
			flush()
		}

		current.Lines = append(current.Lines, line)
		current.Tokens += lineTokens

		// An oversized single line stands alone.
		if len(current.Lines) == 1 && lineTokens > maxTokens {
			flush()
		}
	}
	flush()

	return chunks
}
