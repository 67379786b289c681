// Package extract turns linearized conversations into knowledge atoms:
// a two-pass LLM flow for regular conversations, a structured fast path
// for meetings, and deterministic checklist scanning for action items.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pcavallo/atomforge/atom"
	"github.com/pcavallo/atomforge/chunker"
	"github.com/pcavallo/atomforge/linearize"
	"github.com/pcavallo/atomforge/llm"
)

// chunkTimeout bounds a single chunk's extraction including retries.
const chunkTimeout = 90 * time.Second

// Config controls the extraction flow.
type Config struct {
	MaxChunkTokens     int // token budget per extraction chunk
	ChunkConcurrency   int // parallel chunk calls within one conversation
	Concurrency        int // parallel conversations
	MaxEvidencePerItem int // 0 = unlimited
	SkipExisting       bool

	// Per-pass model overrides. FastModel handles Pass 1 and JSON
	// repair, BigModel handles Pass 2 refinement and the meeting fast
	// path. Empty uses the provider's configured model.
	FastModel string
	BigModel  string

	// Per-step completion budgets. Zero leaves the provider default.
	Pass1MaxTokens   int
	Pass2MaxTokens   int
	RepairMaxTokens  int
	MeetingMaxTokens int
}

func (c Config) withDefaults() Config {
	if c.MaxChunkTokens <= 0 {
		c.MaxChunkTokens = 3000
	}
	if c.ChunkConcurrency <= 0 {
		c.ChunkConcurrency = 4
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	return c
}

// Extractor runs LLM extraction against a chat provider.
type Extractor struct {
	provider llm.Provider
	cfg      Config
}

// New creates an Extractor.
func New(provider llm.Provider, cfg Config) *Extractor {
	return &Extractor{provider: provider, cfg: cfg.withDefaults()}
}

// ExtractConversation runs the two-pass flow over a linearized
// conversation and returns schema v2 atoms.
func (e *Extractor) ExtractConversation(ctx context.Context, rec *linearize.Record) ([]atom.Atom, error) {
	chunks := chunker.ChunkMessages(rec.Messages, e.cfg.MaxChunkTokens)
	if len(chunks) == 0 {
		return nil, nil
	}

	candidates, err := e.extractChunks(ctx, rec.ConversationID, chunks)
	if err != nil {
		return nil, err
	}

	deduped := atom.DedupeCandidates(candidates, e.cfg.MaxEvidencePerItem)
	refined := e.refine(ctx, rec.ConversationID, deduped)

	extractedAt := time.Now().UTC().Format(time.RFC3339)
	return atom.FromCandidates(refined, rec.ConversationID, extractedAt), nil
}

// extractChunks fans Pass 1 out over a bounded worker pool. Results are
// tagged with the chunk index and re-sorted so aggregation order is
// deterministic regardless of completion order.
func (e *Extractor) extractChunks(ctx context.Context, conversationID string, chunks [][]linearize.Message) (atom.CandidateSet, error) {
	type result struct {
		index int
		set   atom.CandidateSet
		err   error
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []result
	)
	sem := make(chan struct{}, e.cfg.ChunkConcurrency)

	for i, chunk := range chunks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return atom.CandidateSet{}, ctx.Err()
		}

		wg.Add(1)
		go func(index int, messages []linearize.Message) {
			defer wg.Done()
			defer func() { <-sem }()

			chunkCtx, cancel := context.WithTimeout(ctx, chunkTimeout)
			defer cancel()

			set, err := e.extractChunk(chunkCtx, renderChunk(messages))
			mu.Lock()
			results = append(results, result{index: index, set: set, err: err})
			mu.Unlock()
		}(i, chunk)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	var merged atom.CandidateSet
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			slog.Warn("extract: chunk failed",
				"conversation_id", conversationID,
				"chunk", r.index,
				"error", r.err,
			)
			continue
		}
		merged.Append(r.set)
	}

	if failed == len(results) && len(results) > 0 {
		return atom.CandidateSet{}, fmt.Errorf("all %d chunks failed for conversation %s", len(results), conversationID)
	}
	return merged, nil
}

// renderChunk formats messages the way the prompts reference them:
// one header per message carrying its id and role.
func renderChunk(messages []linearize.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "## [%s] %s\n\n%s\n\n", msg.ID, msg.Role, msg.Text)
	}
	return b.String()
}

// extractChunk is Pass 1 for a single chunk: JSON-mode call, with a
// plain-mode retry for providers that reject response_format, then the
// parse/recover/repair chain. Unrecoverable output degrades to an empty
// set rather than failing the conversation.
func (e *Extractor) extractChunk(ctx context.Context, chunkText string) (atom.CandidateSet, error) {
	req := llm.ChatRequest{
		Messages: []llm.Message{
			llm.System(pass1System),
			llm.User(fmt.Sprintf(pass1PromptTemplate, chunkText)),
		},
		Model:          e.cfg.FastModel,
		Temperature:    0.3,
		MaxTokens:      e.cfg.Pass1MaxTokens,
		ResponseFormat: "json_object",
	}

	resp, err := e.provider.Chat(ctx, req)
	if err != nil && jsonModeUnsupported(err) {
		req.ResponseFormat = ""
		resp, err = e.provider.Chat(ctx, req)
	}
	if err != nil {
		return atom.CandidateSet{}, err
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return atom.CandidateSet{}, nil
	}

	if set, ok := parseCandidates(content); ok {
		return set, nil
	}
	if set, ok := parseCandidates(llm.ExtractJSON(content)); ok {
		return set, nil
	}

	repaired, repairErr := e.repair(ctx, content)
	if repairErr == nil {
		if set, ok := parseCandidates(llm.ExtractJSON(repaired)); ok {
			return set, nil
		}
	}

	slog.Error("extract: unparseable extraction output", "content_prefix", prefix(content, 120))
	return atom.CandidateSet{}, nil
}

// jsonModeUnsupported sniffs provider errors that indicate the endpoint
// rejected response_format rather than the request itself.
func jsonModeUnsupported(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "response_format") ||
		strings.Contains(msg, "json_object") ||
		strings.Contains(msg, "400")
}

func (e *Extractor) repair(ctx context.Context, broken string) (string, error) {
	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			llm.System(repairSystem),
			llm.User(fmt.Sprintf(repairPromptTemplate, broken)),
		},
		Model:       e.cfg.FastModel,
		Temperature: 0.1,
		MaxTokens:   e.cfg.RepairMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// refine is Pass 2: one refinement call over the deduped candidates.
// Every failure mode falls back to the Pass 1 candidates unchanged.
func (e *Extractor) refine(ctx context.Context, conversationID string, candidates atom.CandidateSet) atom.CandidateSet {
	if candidates.Empty() {
		return candidates
	}

	payload, err := json.Marshal(candidates)
	if err != nil {
		slog.Warn("extract: marshaling candidates for refinement", "conversation_id", conversationID, "error", err)
		return candidates
	}

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			llm.System(pass2System),
			llm.User(fmt.Sprintf(pass2PromptTemplate, string(payload))),
		},
		Model:          e.cfg.BigModel,
		Temperature:    0.2,
		MaxTokens:      e.cfg.Pass2MaxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("extract: refinement call failed, keeping candidates", "conversation_id", conversationID, "error", err)
		return candidates
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		slog.Warn("extract: empty refinement output, keeping candidates", "conversation_id", conversationID)
		return candidates
	}

	refined, ok := parseCandidates(llm.ExtractJSON(content))
	if !ok {
		slog.Warn("extract: invalid refinement output, keeping candidates", "conversation_id", conversationID)
		return candidates
	}
	return refined
}

// parseCandidates decodes extraction output. Only JSON objects qualify;
// arrays and scalars are rejected so refine can fall back.
func parseCandidates(content string) (atom.CandidateSet, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return atom.CandidateSet{}, false
	}
	var set atom.CandidateSet
	if err := json.Unmarshal([]byte(trimmed), &set); err != nil {
		return atom.CandidateSet{}, false
	}
	return set, true
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
