// Package chunker splits long text and linearized conversations into
// token-budgeted chunks for LLM calls and embedding.
package chunker

import (
	"math"
	"strings"

	"github.com/pcavallo/atomforge/linearize"
)

// charsPerToken is the rough character budget used when converting
// token limits to window sizes.
const charsPerToken = 4

// breakCandidates are sentence boundaries, strongest first. The split
// loop prefers whichever candidate appears latest in the window.
var breakCandidates = []string{
	".\n\n", ".\n", ". ",
	"!\n\n", "!\n", "! ",
	"?\n\n", "?\n", "? ",
}

// EstimateTokens approximates the token count of text. English prose
// averages ~1.3 tokens per word; whitespace-free text falls back to a
// character heuristic.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return len(text) / charsPerToken
	}
	return int(math.Ceil(float64(words) * 1.3))
}

// ChunkText splits text into chunks of at most maxTokens estimated
// tokens with overlapTokens of trailing context carried into the next
// chunk. Cuts prefer sentence boundaries. Text already under budget is
// returned whole; empty input yields nil.
func ChunkText(text string, maxTokens, overlapTokens int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if EstimateTokens(text) <= maxTokens {
		return []string{text}
	}

	window := maxTokens * charsPerToken
	overlap := overlapTokens * charsPerToken

	var chunks []string
	cur := 0
	for cur < len(text) {
		end := cur + window
		if end >= len(text) {
			chunks = append(chunks, text[cur:])
			break
		}

		// Cut at the latest sentence boundary inside the window.
		slice := text[cur:end]
		best := -1
		for _, br := range breakCandidates {
			if idx := strings.LastIndex(slice, br); idx >= 0 && idx+len(br) > best {
				best = idx + len(br)
			}
		}
		if best > 0 {
			end = cur + best
		}

		chunks = append(chunks, text[cur:end])

		next := end - overlap
		if next <= cur {
			next = cur + 1
		}
		cur = next
	}
	return chunks
}

// ChunkMessages groups consecutive linearized messages into chunks
// whose combined estimated tokens stay under maxTokens. A single
// message over the budget becomes its own chunk rather than being
// split, preserving message boundaries. Order is preserved.
func ChunkMessages(messages []linearize.Message, maxTokens int) [][]linearize.Message {
	if len(messages) == 0 {
		return nil
	}

	var chunks [][]linearize.Message
	var current []linearize.Message
	currentTokens := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}
	}

	for _, msg := range messages {
		tokens := EstimateTokens(msg.Text)
		if tokens > maxTokens {
			flush()
			chunks = append(chunks, []linearize.Message{msg})
			continue
		}
		if currentTokens+tokens > maxTokens {
			flush()
		}
		current = append(current, msg)
		currentTokens += tokens
	}
	flush()
	return chunks
}
