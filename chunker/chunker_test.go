package chunker

import (
	"strings"
	"testing"

	"github.com/pcavallo/atomforge/linearize"
)

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty = %d", got)
	}
	if got := EstimateTokens("one two three four"); got != 6 {
		t.Errorf("four words = %d, want ceil(4*1.3)=6", got)
	}
	if got := EstimateTokens("hello"); got != 2 {
		t.Errorf("one word = %d, want 2", got)
	}
}

func TestChunkTextShortPassesThrough(t *testing.T) {
	chunks := ChunkText("short text.", 100, 10)
	if len(chunks) != 1 || chunks[0] != "short text." {
		t.Errorf("chunks = %q", chunks)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	if chunks := ChunkText("   ", 100, 10); chunks != nil {
		t.Errorf("expected nil, got %q", chunks)
	}
}

func TestChunkTextPrefersSentenceBreaks(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("This is a sentence with several words in it. ")
	}
	text := b.String()

	chunks := ChunkText(text, 100, 10)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// All interior chunks should end on a sentence boundary.
	for i, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c, ". ") {
			t.Errorf("chunk %d does not end at sentence break: %q", i, c[len(c)-10:])
		}
	}
	// Chunks must make forward progress and cover the text.
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total < len(text) {
		t.Errorf("chunks cover %d chars of %d", total, len(text))
	}
}

func msg(id, text string) linearize.Message {
	return linearize.Message{ID: id, Role: "user", Text: text}
}

func TestChunkMessagesGroupsUnderBudget(t *testing.T) {
	messages := []linearize.Message{
		msg("a", "one two three"),
		msg("b", "four five six"),
		msg("c", "seven eight nine"),
	}
	chunks := ChunkMessages(messages, 1000)
	if len(chunks) != 1 || len(chunks[0]) != 3 {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestChunkMessagesOversizedMessageStandsAlone(t *testing.T) {
	big := msg("big", strings.Repeat("word ", 500))
	messages := []linearize.Message{msg("a", "small"), big, msg("b", "small")}

	chunks := ChunkMessages(messages, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[1]) != 1 || chunks[1][0].ID != "big" {
		t.Errorf("middle chunk = %+v", chunks[1])
	}
	// Order preserved.
	if chunks[0][0].ID != "a" || chunks[2][0].ID != "b" {
		t.Errorf("order broken: %+v", chunks)
	}
}

func TestChunkMessagesEmpty(t *testing.T) {
	if chunks := ChunkMessages(nil, 100); chunks != nil {
		t.Errorf("expected nil, got %+v", chunks)
	}
}
