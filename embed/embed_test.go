package embed

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pcavallo/atomforge/llm"
)

// fakeEmbedder returns a deterministic vector per text.
type fakeEmbedder struct {
	calls atomic.Int32
	dim   int
}

func (f *fakeEmbedder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = float32(len(text)%7+j) + 1
		}
		out[i] = vec
	}
	return out, nil
}

func l2norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestEmbedDocumentsRowsNormalizedOrZero(t *testing.T) {
	provider := &fakeEmbedder{dim: 8}
	p, err := NewPooler(provider, Config{Model: "m", Dim: 8})
	if err != nil {
		t.Fatal(err)
	}

	long := strings.Repeat("A sentence about systems. ", 400)
	texts := []string{"short document", long, ""}

	vecs, err := p.EmbedDocuments(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedDocuments: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("rows = %d", len(vecs))
	}

	for i, v := range vecs {
		norm := l2norm(v)
		if norm != 0 && math.Abs(norm-1) > 1e-5 {
			t.Errorf("row %d norm = %v, want 0 or 1", i, norm)
		}
	}
	if l2norm(vecs[2]) != 0 {
		t.Error("empty document should produce a zero vector")
	}
	if len(vecs[2]) != 8 {
		t.Errorf("zero vector dim = %d, want 8", len(vecs[2]))
	}
}

func TestEmbedDocumentsUsesCache(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeEmbedder{dim: 4}
	p, err := NewPooler(provider, Config{Model: "m", CacheDir: dir, Dim: 4})
	if err != nil {
		t.Fatal(err)
	}

	first, err := p.EmbedDocuments(context.Background(), []string{"cached doc"})
	if err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := provider.calls.Load()

	second, err := p.EmbedDocuments(context.Background(), []string{"cached doc"})
	if err != nil {
		t.Fatal(err)
	}
	if provider.calls.Load() != callsAfterFirst {
		t.Error("second run should be served from cache")
	}
	for i := range first[0] {
		if first[0][i] != second[0][i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}
}

func TestCacheKeyDependsOnModelAndText(t *testing.T) {
	p1, _ := NewPooler(&fakeEmbedder{dim: 4}, Config{Model: "m1"})
	p2, _ := NewPooler(&fakeEmbedder{dim: 4}, Config{Model: "m2"})

	if p1.CacheKey("text") == p2.CacheKey("text") {
		t.Error("different models must not share cache keys")
	}
	if p1.CacheKey("a") == p1.CacheKey("b") {
		t.Error("different texts must not share cache keys")
	}
	if len(p1.CacheKey("a")) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(p1.CacheKey("a")))
	}
}

func TestUnsupportedPooling(t *testing.T) {
	if _, err := NewPooler(&fakeEmbedder{dim: 4}, Config{Pooling: "max"}); err == nil {
		t.Error("expected error for non-mean pooling")
	}
}

func TestCosine(t *testing.T) {
	if _, err := Cosine([]float32{1, 0}, []float32{1}); err == nil {
		t.Error("length mismatch should error")
	}

	sim, err := Cosine([]float32{0, 0}, []float32{1, 0})
	if err != nil || sim != 0 {
		t.Errorf("zero vector sim = %v err %v", sim, err)
	}

	sim, _ = Cosine([]float32{1, 0}, []float32{1, 0})
	if math.Abs(sim-1) > 1e-9 {
		t.Errorf("identical sim = %v", sim)
	}

	// Opposed vectors clamp to 0 rather than going negative.
	sim, _ = Cosine([]float32{1, 0}, []float32{-1, 0})
	if sim != 0 {
		t.Errorf("opposed sim = %v, want clamped 0", sim)
	}
}
