package extract

import (
	"regexp"
	"strings"

	"github.com/pcavallo/atomforge/atom"
	"github.com/pcavallo/atomforge/ingest"
)

var checklistRe = regexp.MustCompile(`^-\s+\[([ x])\]\s+(.+)$`)

// snippetLimit caps evidence snippets for action items.
const snippetLimit = 200

// ActionItems deterministically extracts checklist action items from a
// conversation's system-role messages. It runs regardless of LLM
// availability, so meeting commitments survive extraction outages.
// Nodes are visited in active-path order for stable output.
func ActionItems(conv *ingest.Conversation, extractedAt string) []atom.Atom {
	var atoms []atom.Atom
	for _, node := range activePath(conv) {
		if node.Message == nil || node.Message.Role != "system" {
			continue
		}
		for _, line := range strings.Split(node.Message.Text(), "\n") {
			m := checklistRe.FindStringSubmatch(strings.TrimSpace(line))
			if m == nil {
				continue
			}

			statement := strings.TrimSpace(m[2])
			status := "open"
			if m[1] == "x" {
				status = "done"
			}
			confidence := "explicit"

			atoms = append(atoms, atom.Atom{
				SchemaVersion:    atom.SchemaVersion,
				Kind:             atom.KindActionItem,
				Statement:        statement,
				Status:           status,
				StatusConfidence: &confidence,
				Evidence: []atom.Evidence{{
					MessageID:      node.Message.ID,
					TextSnippet:    snippet(statement),
					ConversationID: conv.ID,
				}},
				ExtractedAt: extractedAt,
				Meta:        map[string]any{"task": map[string]any{}},
			})
		}
	}
	return atoms
}

// activePath returns the conversation nodes from root to current node.
func activePath(conv *ingest.Conversation) []ingest.Node {
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
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func snippet(s string) string {
	if len(s) <= snippetLimit {
		return s
	}
	return s[:snippetLimit]
}
