// Package assign maps conversations onto discovered topics by cosine
// similarity against topic centroids, flagging low-confidence and
// ambiguous matches for human review.
package assign

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/pcavallo/atomforge/embed"
	"github.com/pcavallo/atomforge/fsio"
	"github.com/pcavallo/atomforge/topics"
)

// Default confidence thresholds, overridable through Config.
const (
	DefaultPrimaryThreshold   = 0.60
	DefaultSecondaryThreshold = 0.55
)

// Fixed margins of the assignment contract.
const (
	// secondaryMargin is the maximum gap between primary and a
	// candidate for the candidate to be recorded as secondary.
	secondaryMargin = 0.25

	// ambiguityMargin flags assignments where the runner-up is almost
	// as close as the winner.
	ambiguityMargin = 0.08
)

// Config carries the tunable assignment thresholds.
type Config struct {
	PrimaryThreshold   float64 // minimum similarity for a confident primary (default 0.60)
	SecondaryThreshold float64 // minimum similarity for secondary topics (default 0.55)
}

func (c Config) withDefaults() Config {
	if c.PrimaryThreshold <= 0 {
		c.PrimaryThreshold = DefaultPrimaryThreshold
	}
	if c.SecondaryThreshold <= 0 {
		c.SecondaryThreshold = DefaultSecondaryThreshold
	}
	return c
}

// Topic ranks on an assignment.
const (
	RankPrimary   = "primary"
	RankSecondary = "secondary"
)

// TopicScore is one ranked topic on an assignment.
type TopicScore struct {
	TopicID int     `json:"topic_id"`
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Rank    string  `json:"rank"`
}

// Assignment records the topic placement of one conversation. Topics
// holds the primary first, then every qualifying secondary in
// descending score order.
type Assignment struct {
	ConversationID string       `json:"conversation_id"`
	Title          string       `json:"title"`
	ProjectID      string       `json:"project_id,omitempty"`
	ProjectName    string       `json:"project_name,omitempty"`
	AtomCount      int          `json:"atom_count"`
	Topics         []TopicScore `json:"topics"`
	ReviewFlag     bool         `json:"review_flag"`
}

// Primary returns the primary topic, or nil for an empty assignment.
func (a *Assignment) Primary() *TopicScore {
	for i := range a.Topics {
		if a.Topics[i].Rank == RankPrimary {
			return &a.Topics[i]
		}
	}
	return nil
}

// ReviewItem is one queued assignment needing human attention.
type ReviewItem struct {
	ConversationID string  `json:"conversation_id"`
	Title          string  `json:"title"`
	ProjectID      string  `json:"project_id,omitempty"`
	ProjectName    string  `json:"project_name,omitempty"`
	PrimaryTopic   string  `json:"primary_topic"`
	PrimaryScore   float64 `json:"primary_score"`
	Reason         string  `json:"reason"`
}

// Review queue reasons.
const (
	ReasonLowConfidence = "low_confidence"
	ReasonAmbiguous     = "ambiguous"
)

// Assign scores one document vector against every topic centroid. The
// top-scoring topic is always the primary; every further topic scoring
// at least the secondary threshold and within the secondary margin of
// the primary is appended as secondary. Centroids whose dimension does
// not match the vector are skipped with a warning rather than failing
// the whole run.
func Assign(vec []float32, reg *topics.Registry, cfg Config) Assignment {
	cfg = cfg.withDefaults()

	var scores []TopicScore
	for _, topic := range reg.Topics {
		sim, err := embed.Cosine(vec, topic.CentroidEmbedding)
		if err != nil {
			slog.Warn("assign: skipping incompatible centroid",
				"topic_id", topic.TopicID, "error", err)
			continue
		}
		scores = append(scores, TopicScore{TopicID: topic.TopicID, Name: topic.Name, Score: sim})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].TopicID < scores[j].TopicID
	})

	var a Assignment
	if len(scores) == 0 {
		a.ReviewFlag = true
		return a
	}

	primary := scores[0]
	primary.Rank = RankPrimary
	a.Topics = append(a.Topics, primary)

	for _, s := range scores[1:] {
		if s.Score >= cfg.SecondaryThreshold && primary.Score-s.Score <= secondaryMargin {
			s.Rank = RankSecondary
			a.Topics = append(a.Topics, s)
		}
	}

	if primary.Score < cfg.PrimaryThreshold {
		a.ReviewFlag = true
	} else if len(scores) > 1 {
		second := scores[1]
		if second.Score >= cfg.SecondaryThreshold && primary.Score-second.Score < ambiguityMargin {
			a.ReviewFlag = true
		}
	}
	return a
}

// reviewItem derives the queue entry for a flagged assignment.
func reviewItem(a Assignment, cfg Config) ReviewItem {
	item := ReviewItem{
		ConversationID: a.ConversationID,
		Title:          a.Title,
		ProjectID:      a.ProjectID,
		ProjectName:    a.ProjectName,
		PrimaryTopic:   "None",
		Reason:         ReasonLowConfidence,
	}
	if p := a.Primary(); p != nil {
		item.PrimaryTopic = p.Name
		item.PrimaryScore = p.Score
		if p.Score >= cfg.PrimaryThreshold {
			item.Reason = ReasonAmbiguous
		}
	}
	return item
}

// Run embeds the topic documents, assigns each to the registry's
// topics, and writes assignments.jsonl under outDir. review_queue.jsonl
// is written only when at least one conversation is flagged. A registry
// built with a different embedding model is scored anyway; the mismatch
// is logged.
func Run(ctx context.Context, docs []topics.Document, reg *topics.Registry, pooler *embed.Pooler, embeddingModel, outDir string, cfg Config) ([]Assignment, error) {
	cfg = cfg.withDefaults()
	if reg.EmbeddingModel != "" && embeddingModel != "" && reg.EmbeddingModel != embeddingModel {
		slog.Warn("assign: embedding model differs from registry",
			"registry_model", reg.EmbeddingModel, "model", embeddingModel)
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}
	vectors, err := pooler.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}

	assignments := make([]Assignment, len(docs))
	var queue []ReviewItem
	for i, doc := range docs {
		a := Assign(vectors[i], reg, cfg)
		a.ConversationID = doc.ConversationID
		a.Title = doc.Title
		a.ProjectID = doc.ProjectID
		a.ProjectName = doc.ProjectName
		a.AtomCount = doc.AtomCount
		assignments[i] = a
		if a.ReviewFlag {
			queue = append(queue, reviewItem(a, cfg))
		}
	}

	if err := fsio.WriteJSONL(filepath.Join(outDir, "assignments.jsonl"), assignments); err != nil {
		return nil, fmt.Errorf("writing assignments: %w", err)
	}
	if len(queue) > 0 {
		if err := fsio.WriteJSONL(filepath.Join(outDir, "review_queue.jsonl"), queue); err != nil {
			return nil, fmt.Errorf("writing review queue: %w", err)
		}
	}
	slog.Info("assign: wrote topic assignments",
		"conversations", len(assignments), "flagged", len(queue))
	return assignments, nil
}
