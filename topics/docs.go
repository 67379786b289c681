// Package topics discovers conversation topics: it builds one knowledge
// document per conversation, embeds and clusters them, labels clusters
// with an LLM, and writes a topic registry with centroid embeddings.
package topics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pcavallo/atomforge/atom"
)

// ConversationInfo identifies a conversation feeding topic discovery.
type ConversationInfo struct {
	ID          string
	Title       string
	ProjectID   string
	ProjectName string
}

// Document is the text representation of one conversation used for
// embedding and clustering, carrying the conversation metadata that
// topic assignment records alongside its scores.
type Document struct {
	ConversationID string
	Title          string
	ProjectID      string
	ProjectName    string
	AtomCount      int
	Text           string
}

// includeKinds are the atom kinds that describe what a conversation is
// about. Operational kinds (action items, meeting topics, risks,
// blockers, dependencies) are excluded so logistics don't dominate the
// topic space.
var includeKinds = map[string]bool{
	atom.KindFact:         true,
	atom.KindDecision:     true,
	atom.KindOpenQuestion: true,
}

// BuildDocuments creates one document per conversation from its title,
// project label, and included atoms. The input set is the union of
// conversations with titles and conversations with atoms; output is
// sorted by conversation ID for determinism.
func BuildDocuments(infos []ConversationInfo, atomsByConversation map[string][]atom.Atom) []Document {
	infoByID := make(map[string]ConversationInfo, len(infos))
	ids := make(map[string]bool)
	for _, info := range infos {
		infoByID[info.ID] = info
		ids[info.ID] = true
	}
	for id := range atomsByConversation {
		ids[id] = true
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	docs := make([]Document, 0, len(sorted))
	for _, id := range sorted {
		info := infoByID[id]
		info.ID = id
		docs = append(docs, Document{
			ConversationID: id,
			Title:          info.Title,
			ProjectID:      info.ProjectID,
			ProjectName:    info.ProjectName,
			AtomCount:      len(atomsByConversation[id]),
			Text:           renderDocument(info, atomsByConversation[id]),
		})
	}
	return docs
}

func renderDocument(info ConversationInfo, atoms []atom.Atom) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", info.Title)
	if label := projectLabel(info); label != "" {
		fmt.Fprintf(&b, "Project: %s\n", label)
	}

	var facts, decisions, questions []string
	for _, a := range atoms {
		if !includeKinds[a.Kind] {
			continue
		}
		switch a.Kind {
		case atom.KindDecision:
			decisions = append(decisions, a.Statement)
		case atom.KindOpenQuestion:
			questions = append(questions, a.Statement)
		default:
			facts = append(facts, a.Statement)
		}
	}

	writeSection := func(heading string, statements []string) {
		if len(statements) == 0 {
			return
		}
		b.WriteString("\n" + heading + "\n")
		for _, s := range statements {
			b.WriteString("- " + s + "\n")
		}
	}
	writeSection("Facts and Knowledge:", facts)
	writeSection("Decisions:", decisions)
	writeSection("Open Questions:", questions)

	return b.String()
}

func projectLabel(info ConversationInfo) string {
	switch {
	case info.ProjectName != "" && info.ProjectID != "":
		return fmt.Sprintf("%s (%s)", info.ProjectName, info.ProjectID)
	case info.ProjectName != "":
		return info.ProjectName
	case info.ProjectID != "":
		return info.ProjectID
	}
	return ""
}
