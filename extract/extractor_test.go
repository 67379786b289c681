package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pcavallo/atomforge/atom"
	"github.com/pcavallo/atomforge/linearize"
	"github.com/pcavallo/atomforge/llm"
)

// fakeProvider routes chat calls through a function; embeddings are
// unused in this package.
type fakeProvider struct {
	chat func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return f.chat(req)
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func record(id string, texts ...string) *linearize.Record {
	rec := &linearize.Record{ConversationID: id, Title: id}
	for i, text := range texts {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		rec.Messages = append(rec.Messages, linearize.Message{
			ID: string(rune('a' + i)), Role: role, Text: text,
		})
	}
	return rec
}

const pass1Output = `{
	"facts": [{"type": "fact", "statement": "We charge $50 per seat", "topic": "pricing",
		"evidence": [{"message_id": "a", "text_snippet": "charge $50"}]}],
	"decisions": [],
	"open_questions": [{"question": "Annual discount?", "topic": "pricing"}]
}`

func isPass2(req llm.ChatRequest) bool {
	return strings.Contains(req.Messages[0].Content, "refinement")
}

func TestExtractConversationTwoPass(t *testing.T) {
	var pass1Calls, pass2Calls int
	provider := &fakeProvider{chat: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		if isPass2(req) {
			pass2Calls++
			// Refinement drops the question.
			return &llm.ChatResponse{Content: `{"facts": [{"type": "fact", "statement": "We charge $50 per seat", "topic": "pricing", "evidence": [{"message_id": "a"}]}], "decisions": [], "open_questions": []}`}, nil
		}
		pass1Calls++
		if req.Temperature != 0.3 || req.ResponseFormat != "json_object" {
			t.Errorf("pass1 request = temp %v format %q", req.Temperature, req.ResponseFormat)
		}
		return &llm.ChatResponse{Content: pass1Output}, nil
	}}

	e := New(provider, Config{})
	atoms, err := e.ExtractConversation(context.Background(), record("conv-1", "What do we charge?", "Fifty per seat."))
	if err != nil {
		t.Fatalf("ExtractConversation: %v", err)
	}

	if pass1Calls != 1 || pass2Calls != 1 {
		t.Errorf("calls = pass1 %d pass2 %d", pass1Calls, pass2Calls)
	}
	if len(atoms) != 1 {
		t.Fatalf("atoms = %+v", atoms)
	}
	a := atoms[0]
	if a.Kind != atom.KindFact || a.SchemaVersion != 2 {
		t.Errorf("atom = %+v", a)
	}
	if a.Evidence[0].ConversationID != "conv-1" {
		t.Error("conversation_id not backfilled")
	}
}

func TestExtractConversationPassModels(t *testing.T) {
	models := make(map[string]string)
	provider := &fakeProvider{chat: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		if isPass2(req) {
			models["pass2"] = req.Model
			return &llm.ChatResponse{Content: pass1Output}, nil
		}
		models["pass1"] = req.Model
		return &llm.ChatResponse{Content: pass1Output}, nil
	}}

	e := New(provider, Config{FastModel: "fast-model", BigModel: "big-model"})
	if _, err := e.ExtractConversation(context.Background(), record("conv-1", "hello")); err != nil {
		t.Fatalf("ExtractConversation: %v", err)
	}
	if models["pass1"] != "fast-model" {
		t.Errorf("pass 1 model = %q, want fast-model", models["pass1"])
	}
	if models["pass2"] != "big-model" {
		t.Errorf("pass 2 model = %q, want big-model", models["pass2"])
	}
}

func TestExtractConversationPass2CorruptionFallsBack(t *testing.T) {
	provider := &fakeProvider{chat: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		if isPass2(req) {
			return &llm.ChatResponse{Content: "sorry, I got confused ["}, nil
		}
		return &llm.ChatResponse{Content: pass1Output}, nil
	}}

	e := New(provider, Config{})
	atoms, err := e.ExtractConversation(context.Background(), record("conv-1", "hello"))
	if err != nil {
		t.Fatalf("ExtractConversation: %v", err)
	}

	// Pass 1 candidates survive: one fact plus one open question.
	if len(atoms) != 2 {
		t.Fatalf("got %d atoms, want 2 (pass 1 preserved)", len(atoms))
	}
}

func TestExtractChunkRetriesWithoutJSONMode(t *testing.T) {
	var calls []string
	provider := &fakeProvider{chat: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls = append(calls, req.ResponseFormat)
		if req.ResponseFormat == "json_object" {
			return nil, errors.New("LLM API error 400: response_format not supported")
		}
		return &llm.ChatResponse{Content: "```json\n" + pass1Output + "\n```"}, nil
	}}

	e := New(provider, Config{})
	set, err := e.extractChunk(context.Background(), "## [a] user\n\nhi\n")
	if err != nil {
		t.Fatalf("extractChunk: %v", err)
	}
	if len(calls) != 2 || calls[0] != "json_object" || calls[1] != "" {
		t.Errorf("calls = %v", calls)
	}
	if len(set.Facts) != 1 {
		t.Errorf("facts = %+v", set.Facts)
	}
}

func TestExtractChunkRepairChain(t *testing.T) {
	var repairCalled bool
	provider := &fakeProvider{chat: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		if strings.Contains(req.Messages[0].Content, "repair") {
			repairCalled = true
			if req.Temperature != 0.1 {
				t.Errorf("repair temperature = %v", req.Temperature)
			}
			if req.Model != "fast-model" {
				t.Errorf("repair model = %q, want fast-model", req.Model)
			}
			return &llm.ChatResponse{Content: pass1Output}, nil
		}
		return &llm.ChatResponse{Content: `{"facts": [{"statement": "broken`}, nil
	}}

	e := New(provider, Config{FastModel: "fast-model"})
	set, err := e.extractChunk(context.Background(), "chunk")
	if err != nil {
		t.Fatalf("extractChunk: %v", err)
	}
	if !repairCalled {
		t.Error("repair call not made")
	}
	if len(set.Facts) != 1 {
		t.Errorf("facts = %+v", set.Facts)
	}
}

func TestExtractChunkEmptyContent(t *testing.T) {
	provider := &fakeProvider{chat: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: "   "}, nil
	}}

	e := New(provider, Config{})
	set, err := e.extractChunk(context.Background(), "chunk")
	if err != nil {
		t.Fatalf("extractChunk: %v", err)
	}
	if !set.Empty() {
		t.Errorf("set = %+v", set)
	}
}
