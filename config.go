package atomforge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the atomforge pipeline.
type Config struct {
	// InputDir holds the chat export files (or documents in documents
	// mode).
	InputDir string `json:"input_dir" yaml:"input_dir"`

	// OutputDir is the pipeline workspace: per-conversation artifacts,
	// the consolidated project, topics, and the knowledge base all live
	// under it.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// DocsDir optionally points at a markdown docs tree to concatenate
	// into the consolidated project.
	DocsDir string `json:"docs_dir" yaml:"docs_dir"`

	// Documents switches ingestion to standalone-document mode
	// (.md/.txt/.docx/.pdf/.xlsx) instead of chat exports.
	Documents bool `json:"documents" yaml:"documents"`

	// Limit truncates ingestion to the first N conversations. Zero
	// means no limit.
	Limit int `json:"limit" yaml:"limit"`

	// LLM providers
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Per-pass model overrides on the chat provider. FastModel handles
	// Pass 1 extraction and JSON repair; BigModel handles Pass 2
	// refinement and the meeting fast path. Empty falls back to
	// Chat.Model.
	FastModel string `json:"fast_model" yaml:"fast_model"`
	BigModel  string `json:"big_model" yaml:"big_model"`

	// Concurrency
	MaxConcurrency      int `json:"max_concurrency" yaml:"max_concurrency"`             // parallel conversations (default 8)
	ChunkMaxConcurrency int `json:"chunk_max_concurrency" yaml:"chunk_max_concurrency"` // parallel chunk calls per conversation (default 4)
	LLMMaxInflight      int `json:"llm_max_inflight" yaml:"llm_max_inflight"`           // process-wide chat cap (default 4 x max)
	TopicMaxConcurrency int `json:"topic_max_concurrency" yaml:"topic_max_concurrency"` // parallel topic labeling calls (default = max)

	// Chunking
	MaxChunkTokens    int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`       // extraction chunk budget (default 3000)
	EmbedChunkTokens  int `json:"embed_chunk_tokens" yaml:"embed_chunk_tokens"`   // embedding chunk budget (default 512)
	EmbedChunkOverlap int `json:"embed_chunk_overlap" yaml:"embed_chunk_overlap"` // embedding chunk overlap (default 64)

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Topic discovery
	MaxTopics      int `json:"max_topics" yaml:"max_topics"`             // cluster cap (default 12)
	MinClusterSize int `json:"min_cluster_size" yaml:"min_cluster_size"` // smaller clusters dissolve (default 2)

	// Topic assignment confidence thresholds
	PrimaryThreshold   float64 `json:"primary_threshold" yaml:"primary_threshold"`     // minimum confident primary similarity (default 0.60)
	SecondaryThreshold float64 `json:"secondary_threshold" yaml:"secondary_threshold"` // minimum secondary similarity (default 0.55)

	// MaxEvidencePerItem caps the evidence quotes kept per atom. Zero
	// keeps the extractor default.
	MaxEvidencePerItem int `json:"max_evidence_per_item" yaml:"max_evidence_per_item"`

	// Per-step completion budgets
	Pass1MaxTokens   int `json:"pass1_max_tokens" yaml:"pass1_max_tokens"`
	Pass2MaxTokens   int `json:"pass2_max_tokens" yaml:"pass2_max_tokens"`
	RepairMaxTokens  int `json:"repair_max_tokens" yaml:"repair_max_tokens"`
	MeetingMaxTokens int `json:"meeting_max_tokens" yaml:"meeting_max_tokens"`
	LabelMaxTokens   int `json:"label_max_tokens" yaml:"label_max_tokens"`

	// SkipExisting skips conversations whose atoms.jsonl already exists.
	SkipExisting bool `json:"skip_existing" yaml:"skip_existing"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openrouter, openai, ollama, lmstudio, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local
// inference.
func DefaultConfig() Config {
	return Config{
		InputDir:  "input",
		OutputDir: "output",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		MaxConcurrency:      8,
		ChunkMaxConcurrency: 4,
		MaxChunkTokens:      3000,
		EmbedChunkTokens:    512,
		EmbedChunkOverlap:   64,
		EmbeddingDim:        768,
		MaxTopics:           12,
		MinClusterSize:      2,
		PrimaryThreshold:    0.60,
		SecondaryThreshold:  0.55,
		Pass1MaxTokens:      3000,
		Pass2MaxTokens:      2000,
		RepairMaxTokens:     2000,
		MeetingMaxTokens:    3000,
		LabelMaxTokens:      300,
	}
}

// withDefaults fills derived zero values.
func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.ChunkMaxConcurrency <= 0 {
		c.ChunkMaxConcurrency = 4
	}
	if c.LLMMaxInflight <= 0 {
		c.LLMMaxInflight = 4 * c.MaxConcurrency
	}
	if c.TopicMaxConcurrency <= 0 {
		c.TopicMaxConcurrency = c.MaxConcurrency
	}
	if c.EmbeddingDim <= 0 {
		c.EmbeddingDim = 768
	}
	if c.PrimaryThreshold <= 0 {
		c.PrimaryThreshold = 0.60
	}
	if c.SecondaryThreshold <= 0 {
		c.SecondaryThreshold = 0.55
	}
	return c
}

// Validate checks the fields every pipeline run needs.
func (c Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("%w: input_dir is required", ErrInvalidConfig)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output_dir is required", ErrInvalidConfig)
	}
	if c.Chat.Provider == "" {
		return fmt.Errorf("%w: chat provider is required", ErrInvalidConfig)
	}
	if c.Embedding.Provider == "" {
		return fmt.Errorf("%w: embedding provider is required", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads a JSON or YAML config file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return cfg, nil
}

// ApplyEnv overrides config fields from ATOMFORGE_-prefixed environment
// variables, with well-known provider keys as API key fallbacks.
func (c *Config) ApplyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("ignoring non-integer environment override", "var", key, "value", v)
			return
		}
		*dst = n
	}
	setFloat := func(dst *float64, key string) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("ignoring non-numeric environment override", "var", key, "value", v)
			return
		}
		*dst = f
	}

	setStr(&c.InputDir, "ATOMFORGE_INPUT_DIR")
	setStr(&c.OutputDir, "ATOMFORGE_OUTPUT_DIR")
	setStr(&c.DocsDir, "ATOMFORGE_DOCS_DIR")

	setStr(&c.Chat.Provider, "ATOMFORGE_CHAT_PROVIDER")
	setStr(&c.Chat.Model, "ATOMFORGE_CHAT_MODEL")
	setStr(&c.Chat.BaseURL, "ATOMFORGE_CHAT_BASE_URL")
	setStr(&c.Chat.APIKey, "ATOMFORGE_CHAT_API_KEY")
	setStr(&c.Embedding.Provider, "ATOMFORGE_EMBED_PROVIDER")
	setStr(&c.Embedding.Model, "ATOMFORGE_EMBED_MODEL")
	setStr(&c.Embedding.BaseURL, "ATOMFORGE_EMBED_BASE_URL")
	setStr(&c.Embedding.APIKey, "ATOMFORGE_EMBED_API_KEY")
	setStr(&c.FastModel, "ATOMFORGE_FAST_MODEL")
	setStr(&c.BigModel, "ATOMFORGE_BIG_MODEL")

	setInt(&c.MaxConcurrency, "ATOMFORGE_MAX_CONCURRENCY")
	setInt(&c.ChunkMaxConcurrency, "ATOMFORGE_CHUNK_MAX_CONCURRENCY")
	setInt(&c.LLMMaxInflight, "ATOMFORGE_LLM_MAX_INFLIGHT")
	setInt(&c.TopicMaxConcurrency, "ATOMFORGE_TOPIC_MAX_CONCURRENCY")
	setInt(&c.MaxChunkTokens, "ATOMFORGE_MAX_CHUNK_TOKENS")
	setInt(&c.EmbedChunkTokens, "ATOMFORGE_EMBED_CHUNK_TOKENS")
	setInt(&c.EmbedChunkOverlap, "ATOMFORGE_EMBED_CHUNK_OVERLAP")
	setInt(&c.EmbeddingDim, "ATOMFORGE_EMBEDDING_DIM")
	setInt(&c.MaxTopics, "ATOMFORGE_MAX_TOPICS")
	setInt(&c.MaxEvidencePerItem, "ATOMFORGE_MAX_EVIDENCE_PER_ITEM")
	setInt(&c.Limit, "ATOMFORGE_LIMIT")
	setFloat(&c.PrimaryThreshold, "ATOMFORGE_PRIMARY_THRESHOLD")
	setFloat(&c.SecondaryThreshold, "ATOMFORGE_SECONDARY_THRESHOLD")

	// Fallback: check well-known provider env vars for API keys.
	if c.Chat.APIKey == "" {
		c.Chat.APIKey = providerKeyFromEnv(c.Chat.Provider)
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = providerKeyFromEnv(c.Embedding.Provider)
	}
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}
