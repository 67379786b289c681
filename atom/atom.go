// Package atom defines the universal knowledge atom schema (v2) shared
// by every pipeline stage, plus candidate deduplication and conversion
// from raw extraction output.
package atom

import "strings"

// SchemaVersion is the current atom schema version.
const SchemaVersion = 2

// Canonical atom kinds.
const (
	KindFact         = "fact"
	KindDecision     = "decision"
	KindOpenQuestion = "open_question"
	KindActionItem   = "action_item"
	KindMeetingTopic = "meeting_topic"
	KindRisk         = "risk"
	KindBlocker      = "blocker"
	KindDependency   = "dependency"
	KindInsight      = "insight"
	KindReference    = "reference"
)

// legacyKinds are pre-v2 extraction types that fold into fact; the
// original type is preserved under meta.legacy.type.
var legacyKinds = map[string]bool{
	"definition":  true,
	"requirement": true,
	"metric":      true,
	"assumption":  true,
	"constraint":  true,
	"idea":        true,
}

// Evidence ties an atom to a source message.
type Evidence struct {
	MessageID      string  `json:"message_id,omitempty"`
	TimeISO        *string `json:"time_iso,omitempty"`
	TextSnippet    string  `json:"text_snippet,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
}

// Atom is one unit of extracted knowledge. Meta is an open bag: typed
// accessors read the well-known keys and unknown keys round-trip
// untouched through JSON.
type Atom struct {
	SchemaVersion    int            `json:"schema_version"`
	Kind             string         `json:"kind"`
	Statement        string         `json:"statement"`
	Topic            *string        `json:"topic"`
	Status           string         `json:"status"`
	StatusConfidence *string        `json:"status_confidence"`
	Evidence         []Evidence     `json:"evidence"`
	ExtractedAt      string         `json:"extracted_at"`
	Meta             map[string]any `json:"meta,omitempty"`
}

// CanonicalKind maps legacy extraction types to their v2 kind. The
// second return value is the legacy type when a mapping happened.
func CanonicalKind(kind string) (string, string) {
	if legacyKinds[kind] {
		return KindFact, kind
	}
	return kind, ""
}

// NormalizeStatement lowercases and collapses whitespace; dedup keys
// are built from the normalized form.
func NormalizeStatement(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// Key is the project-wide dedup key: kind, normalized statement, topic.
func (a *Atom) Key() string {
	topic := ""
	if a.Topic != nil {
		topic = *a.Topic
	}
	return a.Kind + "\x00" + NormalizeStatement(a.Statement) + "\x00" + topic
}

// metaSection returns meta[section] as a map when present.
func (a *Atom) metaSection(section string) map[string]any {
	if a.Meta == nil {
		return nil
	}
	m, _ := a.Meta[section].(map[string]any)
	return m
}

// DecisionMeta is the typed view over meta.decision.
type DecisionMeta struct {
	Alternatives []string
	Rationale    string
	Consequences []string
}

// Decision reads the decision metadata; ok is false when absent.
func (a *Atom) Decision() (DecisionMeta, bool) {
	m := a.metaSection("decision")
	if m == nil {
		return DecisionMeta{}, false
	}
	return DecisionMeta{
		Alternatives: stringSlice(m["alternatives"]),
		Rationale:    stringOr(m["rationale"]),
		Consequences: stringSlice(m["consequences"]),
	}, true
}

// QuestionContext reads meta.question.context.
func (a *Atom) QuestionContext() string {
	return stringOr(a.metaSection("question")["context"])
}

// LegacyType reads meta.legacy.type for atoms folded from pre-v2 kinds.
func (a *Atom) LegacyType() string {
	return stringOr(a.metaSection("legacy")["type"])
}

// IssueMeta is the typed view over meta.issue, used by risk, blocker
// and dependency atoms.
type IssueMeta struct {
	Owner     string
	BlockedBy []string
	DependsOn []string
}

// Issue reads the issue metadata; ok is false when absent.
func (a *Atom) Issue() (IssueMeta, bool) {
	m := a.metaSection("issue")
	if m == nil {
		return IssueMeta{}, false
	}
	return IssueMeta{
		Owner:     stringOr(m["owner"]),
		BlockedBy: stringSlice(m["blocked_by"]),
		DependsOn: stringSlice(m["depends_on"]),
	}, true
}

// MeetingTopicSummary reads meta.meeting.topic.summary.
func (a *Atom) MeetingTopicSummary() string {
	meeting := a.metaSection("meeting")
	if meeting == nil {
		return ""
	}
	topic, _ := meeting["topic"].(map[string]any)
	return stringOr(topic["summary"])
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
