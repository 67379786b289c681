// Package atomforge turns AI chat exports and meeting artifacts into a
// consolidated, topic-organized knowledge base: conversations are
// linearized, mined for knowledge atoms, deduplicated project-wide,
// clustered into topics, and compiled into browsable markdown plus a
// searchable SQLite index.
package atomforge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pcavallo/atomforge/assign"
	"github.com/pcavallo/atomforge/atom"
	"github.com/pcavallo/atomforge/compile"
	"github.com/pcavallo/atomforge/consolidate"
	"github.com/pcavallo/atomforge/embed"
	"github.com/pcavallo/atomforge/extract"
	"github.com/pcavallo/atomforge/fsio"
	"github.com/pcavallo/atomforge/ingest"
	"github.com/pcavallo/atomforge/linearize"
	"github.com/pcavallo/atomforge/llm"
	"github.com/pcavallo/atomforge/store"
	"github.com/pcavallo/atomforge/topics"
)

// Pipeline wires the pipeline stages over shared LLM providers. Stages
// communicate through files under the output directory, so each stage
// can also run standalone against a previous run's artifacts.
type Pipeline struct {
	cfg       Config
	chatLLM   llm.Provider
	embedLLM  llm.Provider
	pooler    *embed.Pooler
	extractor *extract.Extractor
}

// New creates a Pipeline from configuration.
func New(cfg Config) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gate := llm.NewGate(cfg.LLMMaxInflight)
	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
		Gate:     gate,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}

	embedLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	pooler, err := embed.NewPooler(embedLLM, embed.Config{
		Model:          cfg.Embedding.Model,
		CacheDir:       filepath.Join(cfg.OutputDir, ".cache", "embeddings"),
		MaxChunkTokens: cfg.EmbedChunkTokens,
		OverlapTokens:  cfg.EmbedChunkOverlap,
		Dim:            cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	extractor := extract.New(chatLLM, extract.Config{
		MaxChunkTokens:     cfg.MaxChunkTokens,
		ChunkConcurrency:   cfg.ChunkMaxConcurrency,
		Concurrency:        cfg.MaxConcurrency,
		MaxEvidencePerItem: cfg.MaxEvidencePerItem,
		SkipExisting:       cfg.SkipExisting,
		FastModel:          cfg.FastModel,
		BigModel:           cfg.BigModel,
		Pass1MaxTokens:     cfg.Pass1MaxTokens,
		Pass2MaxTokens:     cfg.Pass2MaxTokens,
		RepairMaxTokens:    cfg.RepairMaxTokens,
		MeetingMaxTokens:   cfg.MeetingMaxTokens,
	})

	return &Pipeline{
		cfg:       cfg,
		chatLLM:   chatLLM,
		embedLLM:  embedLLM,
		pooler:    pooler,
		extractor: extractor,
	}, nil
}

// Config returns the pipeline's resolved configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Artifact locations under the output directory.

func (p *Pipeline) conversationsDir() string { return filepath.Join(p.cfg.OutputDir, "conversations") }
func (p *Pipeline) projectDir() string       { return filepath.Join(p.cfg.OutputDir, "project") }
func (p *Pipeline) topicsDir() string        { return filepath.Join(p.projectDir(), "topics") }
func (p *Pipeline) recordsPath() string      { return filepath.Join(p.cfg.OutputDir, "records.jsonl") }
func (p *Pipeline) registryPath() string     { return filepath.Join(p.topicsDir(), "registry.json") }
func (p *Pipeline) projectAtomsPath() string { return filepath.Join(p.projectDir(), "atoms.jsonl") }
func (p *Pipeline) indexPath() string        { return filepath.Join(p.projectDir(), "index.db") }

// Linearize normalizes the input exports and writes one evidence
// markdown file per conversation plus a records.jsonl the later stages
// read.
func (p *Pipeline) Linearize(ctx context.Context) ([]linearize.Record, error) {
	conversations, err := ingest.Load(p.cfg.InputDir, ingest.LoadOptions{
		Limit:     p.cfg.Limit,
		Documents: p.cfg.Documents,
	})
	if err != nil {
		return nil, fmt.Errorf("loading input: %w", err)
	}
	if len(conversations) == 0 {
		return nil, ErrNoConversations
	}

	records, err := linearize.Run(conversations, p.conversationsDir())
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoConversations
	}

	if err := fsio.WriteJSONL(p.recordsPath(), records); err != nil {
		return nil, fmt.Errorf("writing records: %w", err)
	}
	slog.Info("linearize: stage complete", "conversations", len(records))
	return records, nil
}

// loadRecords reads the records written by Linearize.
func (p *Pipeline) loadRecords() ([]linearize.Record, error) {
	records, err := fsio.ReadJSONL[linearize.Record](p.recordsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoRecords
		}
		return nil, fmt.Errorf("reading records: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

// Extract mines knowledge atoms from every linearized conversation.
func (p *Pipeline) Extract(ctx context.Context) error {
	records, err := p.loadRecords()
	if err != nil {
		return err
	}

	// The original conversation trees carry the meeting markers and
	// checklists the extractor needs beyond the linearized text.
	conversations, err := ingest.Load(p.cfg.InputDir, ingest.LoadOptions{
		Limit:     p.cfg.Limit,
		Documents: p.cfg.Documents,
	})
	if err != nil {
		return fmt.Errorf("loading input: %w", err)
	}

	if extract.RunIDFrom(ctx) == "" {
		ctx = extract.WithRunID(ctx, uuid.NewString())
	}
	return p.extractor.Run(ctx, records, conversations, p.conversationsDir())
}

// Consolidate merges per-conversation atoms into the project-wide set.
func (p *Pipeline) Consolidate() (*consolidate.Result, error) {
	res, err := consolidate.Run(p.conversationsDir(), p.projectDir())
	if err != nil {
		return nil, err
	}
	if p.cfg.DocsDir != "" {
		if err := consolidate.ConcatDocs(p.cfg.DocsDir, p.projectDir()); err != nil {
			return nil, fmt.Errorf("concatenating docs: %w", err)
		}
	}
	return res, nil
}

// loadAtomsByConversation reads every per-conversation atoms.jsonl.
func (p *Pipeline) loadAtomsByConversation() (map[string][]atom.Atom, error) {
	entries, err := os.ReadDir(p.conversationsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoAtoms
		}
		return nil, fmt.Errorf("reading %s: %w", p.conversationsDir(), err)
	}

	byConv := make(map[string][]atom.Atom)
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(8)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		g.Go(func() error {
			atoms, err := fsio.ReadJSONL[atom.Atom](filepath.Join(p.conversationsDir(), id, "atoms.jsonl"))
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return fmt.Errorf("reading atoms for %s: %w", id, err)
			}
			if len(atoms) == 0 {
				return nil
			}
			mu.Lock()
			byConv[id] = atoms
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(byConv) == 0 {
		return nil, ErrNoAtoms
	}
	return byConv, nil
}

// buildTopicDocuments assembles the per-conversation topic documents
// from linearize records and extracted atoms.
func (p *Pipeline) buildTopicDocuments() ([]topics.Document, error) {
	records, err := p.loadRecords()
	if err != nil {
		return nil, err
	}
	byConv, err := p.loadAtomsByConversation()
	if err != nil {
		return nil, err
	}

	infos := make([]topics.ConversationInfo, len(records))
	for i, rec := range records {
		infos[i] = topics.ConversationInfo{
			ID:          rec.ConversationID,
			Title:       rec.Title,
			ProjectID:   rec.ProjectID,
			ProjectName: rec.ProjectName,
		}
	}
	return topics.BuildDocuments(infos, byConv), nil
}

// DiscoverTopics clusters the conversations and writes the topic
// registry.
func (p *Pipeline) DiscoverTopics(ctx context.Context) (*topics.Registry, error) {
	docs, err := p.buildTopicDocuments()
	if err != nil {
		return nil, err
	}

	clusterer := topics.NewKMeans(p.cfg.MaxTopics, p.cfg.MinClusterSize)
	labeler := topics.NewLLMLabeler(p.chatLLM, p.cfg.LabelMaxTokens)

	reg, err := topics.Discover(ctx, docs, p.pooler, clusterer, labeler, topics.DiscoverConfig{
		EmbeddingModel: p.cfg.Embedding.Model,
		Concurrency:    p.cfg.TopicMaxConcurrency,
	})
	if err != nil {
		return nil, err
	}

	if err := topics.WriteRegistry(p.registryPath(), reg); err != nil {
		return nil, fmt.Errorf("writing topic registry: %w", err)
	}
	slog.Info("topics: registry written", "topics", reg.NumTopics, "path", p.registryPath())
	return reg, nil
}

// AssignTopics scores every conversation against the topic registry and
// writes assignments plus the review queue.
func (p *Pipeline) AssignTopics(ctx context.Context) ([]assign.Assignment, error) {
	reg, err := topics.ReadRegistry(p.registryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoTopics
		}
		return nil, err
	}
	if len(reg.Topics) == 0 {
		return nil, ErrNoTopics
	}

	docs, err := p.buildTopicDocuments()
	if err != nil {
		return nil, err
	}
	return assign.Run(ctx, docs, reg, p.pooler, p.cfg.Embedding.Model, p.topicsDir(), assign.Config{
		PrimaryThreshold:   p.cfg.PrimaryThreshold,
		SecondaryThreshold: p.cfg.SecondaryThreshold,
	})
}

// Compile renders the consolidated atoms into the markdown knowledge
// base.
func (p *Pipeline) Compile() error {
	atoms, err := fsio.ReadJSONL[atom.Atom](p.projectAtomsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoAtoms
		}
		return fmt.Errorf("reading project atoms: %w", err)
	}
	return compile.Run(atoms, p.projectDir())
}

// Index writes the consolidated atoms and conversation embeddings into
// the SQLite search index.
func (p *Pipeline) Index(ctx context.Context) error {
	docs, err := p.buildTopicDocuments()
	if err != nil {
		return err
	}
	byConv, err := p.loadAtomsByConversation()
	if err != nil {
		return err
	}
	assignments := p.loadAssignments()

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}
	vectors, err := p.pooler.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding documents: %w", err)
	}

	s, err := store.New(p.indexPath(), p.cfg.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer s.Close()

	indexed := 0
	for i, doc := range docs {
		conv := store.Conversation{
			ConversationID: doc.ConversationID,
			Title:          doc.Title,
		}
		if a, ok := assignments[doc.ConversationID]; ok {
			if primary := a.Primary(); primary != nil {
				topicID := primary.TopicID
				conv.PrimaryTopic = &topicID
				conv.TopicName = primary.Name
			}
		}
		if err := s.IndexConversation(ctx, conv, byConv[doc.ConversationID], vectors[i]); err != nil {
			slog.Warn("index: conversation failed",
				"conversation_id", doc.ConversationID, "error", err)
			continue
		}
		indexed++
	}
	if indexed == 0 {
		return fmt.Errorf("indexing failed for all %d conversations", len(docs))
	}
	slog.Info("index: complete", "conversations", indexed, "path", p.indexPath())
	return nil
}

// loadAssignments reads topic assignments when present; indexing works
// without them.
func (p *Pipeline) loadAssignments() map[string]assign.Assignment {
	rows, err := fsio.ReadJSONL[assign.Assignment](filepath.Join(p.topicsDir(), "assignments.jsonl"))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("index: skipping unreadable assignments", "error", err)
		}
		return nil
	}
	byConv := make(map[string]assign.Assignment, len(rows))
	for _, a := range rows {
		byConv[a.ConversationID] = a
	}
	return byConv
}

// Search embeds the query and returns the nearest indexed conversations
// with their atoms.
func (p *Pipeline) Search(ctx context.Context, query string, k int) ([]store.SearchResult, error) {
	s, err := store.New(p.indexPath(), p.cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer s.Close()
	return s.Search(ctx, p.pooler, query, k)
}

// RunAll executes the full pipeline in order. Per-conversation failures
// inside a stage never abort the run; a stage error stops the sequence.
func (p *Pipeline) RunAll(ctx context.Context) error {
	runID := uuid.NewString()
	ctx = extract.WithRunID(ctx, runID)
	slog.Info("pipeline: starting full run", "run_id", runID)

	if _, err := p.Linearize(ctx); err != nil {
		return fmt.Errorf("linearize: %w", err)
	}
	if err := p.Extract(ctx); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if _, err := p.Consolidate(); err != nil {
		return fmt.Errorf("consolidate: %w", err)
	}
	if _, err := p.DiscoverTopics(ctx); err != nil {
		return fmt.Errorf("discover-topics: %w", err)
	}
	if _, err := p.AssignTopics(ctx); err != nil {
		return fmt.Errorf("assign-topics: %w", err)
	}
	if err := p.Compile(); err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	slog.Info("pipeline: full run complete", "run_id", runID, "output", p.cfg.OutputDir)
	return nil
}
