// Package embed produces document embeddings by chunking, embedding,
// and pooling, with a content-addressed on-disk cache.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/pcavallo/atomforge/chunker"
	"github.com/pcavallo/atomforge/llm"
)

// PoolingVersion participates in cache keys so a pooling change
// invalidates cached vectors.
const PoolingVersion = "v1"

// Config controls the pooling embedder.
type Config struct {
	Model          string
	CacheDir       string // empty disables the cache
	BatchSize      int    // embeddings per provider call, default 100
	MaxChunkTokens int    // default 512
	OverlapTokens  int    // default 64
	Pooling        string // only "mean" is supported
	Dim            int    // vector dimension for zero-vector rows, default 768
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxChunkTokens <= 0 {
		c.MaxChunkTokens = 512
	}
	if c.OverlapTokens <= 0 {
		c.OverlapTokens = 64
	}
	if c.Pooling == "" {
		c.Pooling = "mean"
	}
	if c.Dim <= 0 {
		c.Dim = 768
	}
	return c
}

// Pooler embeds documents of arbitrary length: long documents are
// chunked, each chunk embedded and L2-normalized, the normalized chunks
// mean-pooled, and the result normalized again.
type Pooler struct {
	provider llm.Provider
	cfg      Config
	cache    *cache
}

// NewPooler creates a pooling embedder over an embedding provider.
func NewPooler(provider llm.Provider, cfg Config) (*Pooler, error) {
	cfg = cfg.withDefaults()
	if cfg.Pooling != "mean" {
		return nil, fmt.Errorf("unsupported pooling strategy: %s", cfg.Pooling)
	}
	p := &Pooler{provider: provider, cfg: cfg}
	if cfg.CacheDir != "" {
		p.cache = &cache{dir: cfg.CacheDir}
	}
	return p, nil
}

// CacheKey is the content address of a document's pooled vector: the
// model, pooling version and text all participate.
func (p *Pooler) CacheKey(text string) string {
	sum := sha256.Sum256([]byte(p.cfg.Model + ":" + PoolingVersion + ":" + text))
	return hex.EncodeToString(sum[:])
}

// EmbedDocuments returns one pooled vector per input text, row-aligned
// with the input. Empty documents produce zero vectors so row indexing
// is preserved.
func (p *Pooler) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	// Cache pass.
	var missIdx []int
	for i, text := range texts {
		if p.cache != nil {
			if vec, ok := p.cache.load(p.CacheKey(text)); ok {
				vectors[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
	}

	// Chunk every miss and embed all chunks in batches.
	type span struct{ start, end int }
	spans := make(map[int]span, len(missIdx))
	var allChunks []string
	for _, i := range missIdx {
		chunks := chunker.ChunkText(texts[i], p.cfg.MaxChunkTokens, p.cfg.OverlapTokens)
		spans[i] = span{start: len(allChunks), end: len(allChunks) + len(chunks)}
		allChunks = append(allChunks, chunks...)
	}

	chunkVecs := make([][]float32, 0, len(allChunks))
	for start := 0; start < len(allChunks); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(allChunks) {
			end = len(allChunks)
		}
		batch, err := p.provider.Embed(ctx, allChunks[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding batch returned %d vectors for %d inputs", len(batch), end-start)
		}
		chunkVecs = append(chunkVecs, batch...)
	}

	dim := p.cfg.Dim
	for _, v := range chunkVecs {
		if len(v) > 0 {
			dim = len(v)
			break
		}
	}

	for _, i := range missIdx {
		s := spans[i]
		vectors[i] = pool(chunkVecs[s.start:s.end], dim)
		if p.cache != nil {
			p.cache.save(p.CacheKey(texts[i]), vectors[i])
		}
	}

	return vectors, nil
}

// pool L2-normalizes each chunk vector, averages them, and normalizes
// the mean. Zero chunks produce a zero vector of the given dimension.
func pool(chunks [][]float32, dim int) []float32 {
	if len(chunks) == 0 {
		return make([]float32, dim)
	}
	if len(chunks) == 1 {
		return normalize(chunks[0])
	}

	mean := make([]float32, len(chunks[0]))
	for _, chunk := range chunks {
		n := normalize(chunk)
		for j := range mean {
			mean[j] += n[j]
		}
	}
	inv := 1.0 / float32(len(chunks))
	for j := range mean {
		mean[j] *= inv
	}
	return normalize(mean)
}

// normalize returns the unit vector, or the input unchanged when its
// norm is zero.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Cosine computes cosine similarity clamped to [0, 1]. Vectors of
// different lengths are an error; zero vectors score 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0, nil
	}
	if sim > 1 {
		return 1, nil
	}
	return sim, nil
}
