package topics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pcavallo/atomforge/llm"
)

// Labeler names a topic from its keywords and representative documents.
type Labeler interface {
	Label(ctx context.Context, topicID int, keywords []string, docs []Document) (name, description string, err error)
}

const labelSystem = "You are a topic labeling assistant. Return only valid JSON, no markdown, no code blocks."

const labelPromptTemplate = `These conversations belong to one topic cluster.

Keywords: %s

Representative conversations:

%s

Return a JSON object {"name": "...", "description": "..."} where name is
a 3-5 word topic label and description is 1-2 sentences.`

// representativeDocLimit truncates each representative document in the
// labeling prompt.
const representativeDocLimit = 500

// LLMLabeler labels topics with a chat provider.
type LLMLabeler struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMLabeler creates an LLM-backed labeler.
func NewLLMLabeler(provider llm.Provider, maxTokens int) *LLMLabeler {
	return &LLMLabeler{provider: provider, maxTokens: maxTokens}
}

func (l *LLMLabeler) Label(ctx context.Context, topicID int, keywords []string, docs []Document) (string, string, error) {
	var parts []string
	for _, doc := range docs {
		text := doc.Text
		if len(text) > representativeDocLimit {
			text = text[:representativeDocLimit]
		}
		parts = append(parts, fmt.Sprintf("Conversation ID: %s\n%s", doc.ConversationID, text))
	}

	resp, err := l.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			llm.System(labelSystem),
			llm.User(fmt.Sprintf(labelPromptTemplate, strings.Join(keywords, ", "), strings.Join(parts, "\n\n---\n\n"))),
		},
		Temperature:    0.3,
		MaxTokens:      l.maxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return "", "", err
	}

	var parsed struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &parsed); err != nil {
		return "", "", fmt.Errorf("decoding label response: %w", err)
	}
	if parsed.Name == "" {
		return "", "", fmt.Errorf("label response missing name")
	}
	return parsed.Name, parsed.Description, nil
}
