//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pcavallo/atomforge/atom"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func sampleAtoms() []atom.Atom {
	return []atom.Atom{
		{SchemaVersion: 2, Kind: atom.KindFact, Statement: "The API uses JWT", Topic: strPtr("auth"), Status: "active"},
		{SchemaVersion: 2, Kind: atom.KindDecision, Statement: "Adopt refresh tokens", Topic: strPtr("auth"), Status: "active"},
	}
}

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestIndexAndFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	topicID := 3
	conv := Conversation{ConversationID: "c1", Title: "Auth design", PrimaryTopic: &topicID, TopicName: "Auth"}
	if err := s.IndexConversation(ctx, conv, sampleAtoms(), []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("indexing: %v", err)
	}

	atoms, err := s.AtomsByConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("fetching atoms: %v", err)
	}
	if len(atoms) != 2 {
		t.Fatalf("expected 2 atoms, got %d", len(atoms))
	}
	if atoms[0].Kind != atom.KindFact || atoms[0].Statement != "The API uses JWT" {
		t.Errorf("atom payload round trip: %+v", atoms[0])
	}
	if atoms[0].Topic == nil || *atoms[0].Topic != "auth" {
		t.Errorf("topic lost in round trip: %+v", atoms[0])
	}
}

func TestIndexReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := Conversation{ConversationID: "c1", Title: "First"}
	if err := s.IndexConversation(ctx, conv, sampleAtoms(), []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("first index: %v", err)
	}

	conv.Title = "Second"
	one := []atom.Atom{{SchemaVersion: 2, Kind: atom.KindFact, Statement: "Only atom", Status: "active"}}
	if err := s.IndexConversation(ctx, conv, one, []float32{0, 1, 0, 0}); err != nil {
		t.Fatalf("re-index: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Conversations != 1 || stats.Atoms != 1 || stats.Embeddings != 1 {
		t.Errorf("re-index should replace, got %+v", stats)
	}
}

type fixedEmbedder struct{ vec []float32 }

func (f fixedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{f.vec}, nil
}

func TestVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.IndexConversation(ctx, Conversation{ConversationID: "c1", Title: "Auth"},
		sampleAtoms(), []float32{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.IndexConversation(ctx, Conversation{ConversationID: "c2", Title: "Billing"},
		[]atom.Atom{{SchemaVersion: 2, Kind: atom.KindFact, Statement: "Invoices are monthly", Status: "active"}},
		[]float32{0, 1, 0, 0}); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, fixedEmbedder{vec: []float32{0.9, 0.1, 0, 0}}, "auth stuff", 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Conversation.ConversationID != "c1" {
		t.Errorf("nearest = %q, want c1", results[0].Conversation.ConversationID)
	}
	if len(results[0].Atoms) != 2 {
		t.Errorf("expected atoms attached, got %d", len(results[0].Atoms))
	}
}

func TestKeywordFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.IndexConversation(ctx, Conversation{ConversationID: "c1", Title: "Auth"},
		sampleAtoms(), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.IndexConversation(ctx, Conversation{ConversationID: "c2", Title: "Billing"},
		[]atom.Atom{{SchemaVersion: 2, Kind: atom.KindFact, Statement: "Invoices are monthly", Status: "active"}},
		nil); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, nil, "JWT", 5)
	if err != nil {
		t.Fatalf("keyword search: %v", err)
	}
	if len(results) != 1 || results[0].Conversation.ConversationID != "c1" {
		t.Fatalf("keyword results = %+v", results)
	}
	if results[0].Score != 1 {
		t.Errorf("score should count matching atoms, got %f", results[0].Score)
	}
}

func TestIndexRejectsBadDim(t *testing.T) {
	s := newTestStore(t)
	err := s.IndexConversation(context.Background(),
		Conversation{ConversationID: "c1"}, nil, []float32{1, 0})
	if err == nil {
		t.Fatal("expected dimension error")
	}
}
