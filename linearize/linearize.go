// Package linearize walks conversation graphs along their active path
// and renders per-conversation evidence markdown.
package linearize

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pcavallo/atomforge/ingest"
)

// Message is one linearized conversation turn.
type Message struct {
	ID         string   `json:"id"`
	Role       string   `json:"role"`
	CreateTime *float64 `json:"create_time"`
	TimeISO    *string  `json:"time_iso"`
	Text       string   `json:"text"`
}

// Record is a linearized conversation plus the evidence file it was
// written to.
type Record struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	ProjectID      string    `json:"project_id,omitempty"`
	ProjectName    string    `json:"project_name,omitempty"`
	Messages       []Message `json:"messages"`
	EvidencePath   string    `json:"evidence_path"`
}

// Linearize walks from the current node to the root via parent links and
// returns messages in chronological order. Nodes without a usable
// message (no role or empty text) are dropped. Cycles are tolerated via
// a visited set.
func Linearize(conv *ingest.Conversation) []Message {
	var chain []ingest.Node
	visited := make(map[string]bool)
	cur := conv.CurrentNode
	for cur != "" && !visited[cur] {
		visited[cur] = true
		node, ok := conv.Mapping[cur]
		if !ok {
			break
		}
		chain = append(chain, node)
		cur = node.Parent
	}

	var messages []Message
	for i := len(chain) - 1; i >= 0; i-- {
		node := chain[i]
		if node.Message == nil || node.Message.Role == "" {
			continue
		}
		text := strings.TrimSpace(node.Message.Text())
		if text == "" {
			continue
		}
		messages = append(messages, Message{
			ID:         node.Message.ID,
			Role:       node.Message.Role,
			CreateTime: node.Message.CreateTime,
			TimeISO:    isoFromEpoch(node.Message.CreateTime),
			Text:       text,
		})
	}
	return messages
}

func isoFromEpoch(epoch *float64) *string {
	if epoch == nil {
		return nil
	}
	sec := int64(*epoch)
	nsec := int64((*epoch - float64(sec)) * 1e9)
	iso := time.Unix(sec, nsec).Format("2006-01-02T15:04:05")
	return &iso
}

// RenderMarkdown produces the evidence document for a linearized
// conversation.
func RenderMarkdown(conv *ingest.Conversation, messages []Message) string {
	var b strings.Builder

	title := conv.Title
	if title == "" {
		title = "Untitled Conversation"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Conversation ID: `%s`\n", conv.ID)

	switch {
	case conv.ProjectName != "" && conv.ProjectID != "":
		fmt.Fprintf(&b, "Project: %s (%s)\n", conv.ProjectName, conv.ProjectID)
	case conv.ProjectName != "":
		fmt.Fprintf(&b, "Project: %s\n", conv.ProjectName)
	case conv.ProjectID != "":
		fmt.Fprintf(&b, "Project: %s\n", conv.ProjectID)
	}

	b.WriteString("\n---\n\n")

	for _, msg := range messages {
		role := msg.Role
		if role != "" {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		fmt.Fprintf(&b, "## %s\n\n", role)
		if msg.TimeISO != nil {
			fmt.Fprintf(&b, "**Time**: %s\n", *msg.TimeISO)
		}
		fmt.Fprintf(&b, "**Message ID**: `%s`\n\n", msg.ID)
		b.WriteString(msg.Text)
		b.WriteString("\n\n---\n\n")
	}

	return b.String()
}

// Run linearizes every conversation and writes
// <outDir>/<conversation_id>/conversation.md. Conversations without an
// ID or with no linearizable messages are skipped with a warning.
func Run(conversations []ingest.Conversation, outDir string) ([]Record, error) {
	var records []Record
	for i := range conversations {
		conv := &conversations[i]
		if conv.ID == "" {
			slog.Warn("linearize: skipping conversation without id", "title", conv.Title)
			continue
		}

		messages := Linearize(conv)
		if len(messages) == 0 {
			slog.Warn("linearize: no messages on active path", "conversation_id", conv.ID)
			continue
		}

		dir := filepath.Join(outDir, conv.ID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
		path := filepath.Join(dir, "conversation.md")
		if err := os.WriteFile(path, []byte(RenderMarkdown(conv, messages)), 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}

		records = append(records, Record{
			ConversationID: conv.ID,
			Title:          conv.Title,
			ProjectID:      conv.ProjectID,
			ProjectName:    conv.ProjectName,
			Messages:       messages,
			EvidencePath:   path,
		})
		slog.Info("linearize: wrote evidence", "conversation_id", conv.ID, "messages", len(messages))
	}
	return records, nil
}
