package topics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pcavallo/atomforge/embed"
	"github.com/pcavallo/atomforge/fsio"
)

// Topic is one discovered topic in the registry.
type Topic struct {
	TopicID                     int       `json:"topic_id"`
	Name                        string    `json:"name"`
	Description                 string    `json:"description"`
	Keywords                    []string  `json:"keywords"`
	RepresentativeConversations []string  `json:"representative_conversations"`
	CentroidEmbedding           []float32 `json:"centroid_embedding"`
}

// Registry is the persisted output of topic discovery.
type Registry struct {
	GeneratedAt    string  `json:"generated_at"`
	EmbeddingModel string  `json:"embedding_model"`
	NumTopics      int     `json:"num_topics"`
	Topics         []Topic `json:"topics"`
}

// DiscoverConfig controls topic discovery.
type DiscoverConfig struct {
	EmbeddingModel  string
	Concurrency     int // parallel labeling calls, default 8
	KeywordCount    int // default 10
	Representatives int // docs per topic in the labeling prompt, default 3
}

func (c DiscoverConfig) withDefaults() DiscoverConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.KeywordCount <= 0 {
		c.KeywordCount = 10
	}
	if c.Representatives <= 0 {
		c.Representatives = 3
	}
	return c
}

// Discover embeds the documents, clusters them, and labels every
// cluster. Outliers are not registered as a topic. Labeling failures
// fall back to a generated name so discovery never fails on a single
// bad response.
func Discover(ctx context.Context, docs []Document, pooler *embed.Pooler, clusterer Clusterer, labeler Labeler, cfg DiscoverConfig) (*Registry, error) {
	cfg = cfg.withDefaults()

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	vectors, err := pooler.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}

	labels, err := clusterer.Cluster(vectors)
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}

	// Group member indices per topic, preserving document order.
	members := make(map[int][]int)
	for i, label := range labels {
		if label == Outlier {
			continue
		}
		members[label] = append(members[label], i)
	}

	topicIDs := make([]int, 0, len(members))
	for id := range members {
		topicIDs = append(topicIDs, id)
	}
	sort.Ints(topicIDs)

	topics := make([]Topic, len(topicIDs))
	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.Concurrency)

	for slot, topicID := range topicIDs {
		idx := members[topicID]

		memberTexts := make([]string, len(idx))
		for i, m := range idx {
			memberTexts[i] = docs[m].Text
		}
		keywords := TopKeywords(memberTexts, texts, cfg.KeywordCount)

		repCount := cfg.Representatives
		if repCount > len(idx) {
			repCount = len(idx)
		}
		repDocs := make([]Document, repCount)
		repIDs := make([]string, repCount)
		for i := 0; i < repCount; i++ {
			repDocs[i] = docs[idx[i]]
			repIDs[i] = docs[idx[i]].ConversationID
		}

		topics[slot] = Topic{
			TopicID:                     topicID,
			Keywords:                    keywords,
			RepresentativeConversations: repIDs,
			CentroidEmbedding:           centroid(vectors, idx),
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}
		wg.Add(1)
		go func(slot, topicID int, keywords []string, repDocs []Document) {
			defer wg.Done()
			defer func() { <-sem }()

			name, description, err := labeler.Label(ctx, topicID, keywords, repDocs)
			if err != nil {
				slog.Warn("topics: labeling failed, using fallback",
					"topic_id", topicID, "error", err)
				name = fmt.Sprintf("Topic %d", topicID)
				description = "No description available"
			}
			topics[slot].Name = name
			topics[slot].Description = description
		}(slot, topicID, keywords, repDocs)
	}
	wg.Wait()

	return &Registry{
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		EmbeddingModel: cfg.EmbeddingModel,
		NumTopics:      len(topics),
		Topics:         topics,
	}, nil
}

// centroid is the arithmetic mean of the member vectors, not
// re-normalized.
func centroid(vectors [][]float32, idx []int) []float32 {
	if len(idx) == 0 {
		return nil
	}
	dim := len(vectors[idx[0]])
	mean := make([]float32, dim)
	for _, i := range idx {
		for j, x := range vectors[i] {
			mean[j] += x
		}
	}
	inv := 1.0 / float32(len(idx))
	for j := range mean {
		mean[j] *= inv
	}
	return mean
}

// WriteRegistry persists the registry as pretty-printed JSON.
func WriteRegistry(path string, reg *Registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return fsio.WriteFileAtomic(path, append(data, '\n'))
}

// ReadRegistry loads a registry written by WriteRegistry.
func ReadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decoding topic registry %s: %w", path, err)
	}
	return &reg, nil
}
