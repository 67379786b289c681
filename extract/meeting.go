package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pcavallo/atomforge/atom"
	"github.com/pcavallo/atomforge/linearize"
	"github.com/pcavallo/atomforge/llm"
)

var (
	dateRe         = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	participantsRe = regexp.MustCompile(`(?im)^(?:participants|attendees)\s*:\s*(.+)$`)
	linkRe         = regexp.MustCompile(`https?://[^\s)>\]]+`)
)

// MeetingMetadata is the header information recovered from a meeting
// record's text.
type MeetingMetadata struct {
	Title        string
	Date         string
	Participants []string
	Links        []string
}

// ParseMeetingMetadata scans the full meeting text for a date,
// participant list, and links.
func ParseMeetingMetadata(title, content string) MeetingMetadata {
	md := MeetingMetadata{Title: title}

	if m := dateRe.FindStringSubmatch(content); m != nil {
		md.Date = m[1]
	}

	if m := participantsRe.FindStringSubmatch(content); m != nil {
		for _, name := range strings.Split(m[1], ",") {
			if name = strings.TrimSpace(name); name != "" {
				md.Participants = append(md.Participants, name)
			}
		}
	}

	seen := make(map[string]bool)
	for _, link := range linkRe.FindAllString(content, -1) {
		if !seen[link] {
			seen[link] = true
			md.Links = append(md.Links, link)
		}
	}
	return md
}

func (m MeetingMetadata) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", m.Title)
	if m.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", m.Date)
	}
	if len(m.Participants) > 0 {
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(m.Participants, ", "))
	}
	if len(m.Links) > 0 {
		fmt.Fprintf(&b, "Links: %s\n", strings.Join(m.Links, " "))
	}
	return b.String()
}

// meetingAtom is the wire shape of one atom in the fast-path response.
type meetingAtom struct {
	Kind      string `json:"kind"`
	Statement string `json:"statement"`
	Topic     string `json:"topic,omitempty"`
	Status    string `json:"status,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

type meetingResponse struct {
	Atoms []meetingAtom `json:"atoms"`
}

// ExtractMeeting is the structured fast path for meeting conversations:
// one JSON-mode call over the entire linearized record. Returns the
// extracted atoms; zero atoms or any failure signals the caller to fall
// through to the two-pass flow.
func (e *Extractor) ExtractMeeting(ctx context.Context, rec *linearize.Record) ([]atom.Atom, error) {
	content := renderChunk(rec.Messages)
	metadata := ParseMeetingMetadata(rec.Title, content)

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			llm.System(meetingSystem),
			llm.User(fmt.Sprintf(meetingPromptTemplate, metadata.render(), content)),
		},
		Model:          e.cfg.BigModel,
		Temperature:    0.2,
		MaxTokens:      e.cfg.MeetingMaxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, err
	}

	var parsed meetingResponse
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("decoding meeting extraction: %w", err)
	}

	extractedAt := time.Now().UTC().Format(time.RFC3339)
	var atoms []atom.Atom
	for _, ma := range parsed.Atoms {
		if strings.TrimSpace(ma.Statement) == "" {
			continue
		}
		atoms = append(atoms, meetingAtomToAtom(ma, rec.ConversationID, extractedAt))
	}
	return atoms, nil
}

func meetingAtomToAtom(ma meetingAtom, conversationID, extractedAt string) atom.Atom {
	kind, legacy := atom.CanonicalKind(ma.Kind)
	if kind == "" {
		kind = atom.KindFact
	}

	a := atom.Atom{
		SchemaVersion: atom.SchemaVersion,
		Kind:          kind,
		Statement:     ma.Statement,
		Status:        "active",
		Evidence: []atom.Evidence{{
			ConversationID: conversationID,
			TextSnippet:    snippet(ma.Statement),
		}},
		ExtractedAt: extractedAt,
	}
	if ma.Topic != "" {
		topic := ma.Topic
		a.Topic = &topic
	}
	if ma.Status != "" {
		a.Status = ma.Status
	}

	meta := map[string]any{}
	if legacy != "" {
		meta["legacy"] = map[string]any{"type": legacy}
	}
	switch kind {
	case atom.KindActionItem:
		task := map[string]any{}
		if ma.Owner != "" {
			task["owner"] = ma.Owner
		}
		meta["task"] = task
		if a.Status == "active" {
			a.Status = "open"
		}
	case atom.KindMeetingTopic:
		if ma.Summary != "" {
			meta["meeting"] = map[string]any{"topic": map[string]any{"summary": ma.Summary}}
		}
	case atom.KindRisk, atom.KindBlocker, atom.KindDependency:
		if ma.Owner != "" {
			meta["issue"] = map[string]any{"owner": ma.Owner}
		}
	}
	if len(meta) > 0 {
		a.Meta = meta
	}
	return a
}
