package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pcavallo/atomforge/atom"
	"github.com/pcavallo/atomforge/fsio"
	"github.com/pcavallo/atomforge/ingest"
	"github.com/pcavallo/atomforge/linearize"
	"github.com/pcavallo/atomforge/llm"
)

func TestRunWritesAtoms(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{chat: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		if isPass2(req) {
			return &llm.ChatResponse{Content: pass1Output}, nil
		}
		return &llm.ChatResponse{Content: pass1Output}, nil
	}}

	rec := record("conv-1", "What do we charge?", "Fifty per seat.")
	conv := ingest.Conversation{ID: "conv-1", Mapping: map[string]ingest.Node{}}

	e := New(provider, Config{})
	err := e.Run(context.Background(), []linearize.Record{*rec}, []ingest.Conversation{conv}, dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	atoms, err := fsio.ReadJSONL[atom.Atom](filepath.Join(dir, "conv-1", "atoms.jsonl"))
	if err != nil {
		t.Fatalf("reading atoms: %v", err)
	}
	if len(atoms) != 2 {
		t.Errorf("atoms = %d, want 2", len(atoms))
	}
}

func TestRunSkipExisting(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "conv-1", "atoms.jsonl")
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outPath, []byte(`{"kind":"fact"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	provider := &fakeProvider{chat: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls.Add(1)
		return &llm.ChatResponse{Content: pass1Output}, nil
	}}

	rec := record("conv-1", "hello")
	e := New(provider, Config{SkipExisting: true})
	if err := e.Run(context.Background(), []linearize.Record{*rec}, nil, dir); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("provider called %d times despite skip_existing", calls.Load())
	}
}

func TestRunAllFailuresIsError(t *testing.T) {
	provider := &fakeProvider{chat: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.New("provider down")
	}}

	rec := record("conv-1", "hello")
	e := New(provider, Config{})
	if err := e.Run(context.Background(), []linearize.Record{*rec}, nil, t.TempDir()); err == nil {
		t.Fatal("expected error when every conversation fails")
	}
}

func TestRunMeetingFastPathSkipsTwoPass(t *testing.T) {
	dir := t.TempDir()
	var pass1Calls atomic.Int32
	provider := &fakeProvider{chat: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		if req.Messages[0].Content == meetingSystem {
			return &llm.ChatResponse{Content: `{"atoms": [{"kind": "meeting_topic", "statement": "Launch planning", "summary": "timing"}]}`}, nil
		}
		pass1Calls.Add(1)
		return &llm.ChatResponse{Content: pass1Output}, nil
	}}

	conv := meetingConversation()
	rec := record(conv.ID, "We planned the launch.")
	rec.Title = conv.Title

	e := New(provider, Config{})
	if err := e.Run(context.Background(), []linearize.Record{*rec}, []ingest.Conversation{conv}, dir); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pass1Calls.Load() != 0 {
		t.Errorf("two-pass ran despite fast path success")
	}

	atoms, err := fsio.ReadJSONL[atom.Atom](filepath.Join(dir, conv.ID, "atoms.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	// One meeting topic plus two deterministic action items.
	if len(atoms) != 3 {
		t.Errorf("atoms = %d, want 3", len(atoms))
	}
	kinds := map[string]int{}
	for _, a := range atoms {
		kinds[a.Kind]++
	}
	if kinds[atom.KindActionItem] != 2 || kinds[atom.KindMeetingTopic] != 1 {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestRunPartialFailureContinues(t *testing.T) {
	// A failing provider alongside a succeeding conversation must not
	// abort the run.
	dir := t.TempDir()
	provider := &fakeProvider{chat: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		if strings.Contains(req.Messages[1].Content, "FAILME") {
			return nil, errors.New("bad")
		}
		return &llm.ChatResponse{Content: pass1Output}, nil
	}}

	recs := []linearize.Record{*record("ok", "hello"), *record("fails", "FAILME")}
	e := New(provider, Config{})
	if err := e.Run(context.Background(), recs, nil, dir); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ok", "atoms.jsonl")); err != nil {
		t.Errorf("successful conversation output missing: %v", err)
	}
}
