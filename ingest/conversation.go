// Package ingest normalizes heterogeneous inputs into conversation graphs:
// ChatGPT exports (list or single conversation), Claude exports, meeting
// notes and transcripts, and generic documents. Everything downstream of
// this package sees the same mapping/current-node shape.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Message is the payload of a conversation node.
type Message struct {
	ID         string
	Role       string // user, assistant, system
	CreateTime *float64
	Parts      []string
}

// Text joins the message parts.
func (m *Message) Text() string {
	return strings.Join(m.Parts, "")
}

// Node is one entry in a conversation mapping.
type Node struct {
	ID      string
	Parent  string // empty for roots
	Message *Message
}

// Conversation is the normalized conversation graph. CurrentNode names
// the tip of the active path; linearization walks parents from there.
type Conversation struct {
	ID          string
	Title       string
	ProjectID   string
	ProjectName string
	Mapping     map[string]Node
	CurrentNode string
}

var (
	slugInvalid  = regexp.MustCompile(`[^\w-]+`)
	slugCollapse = regexp.MustCompile(`-+`)
)

// Slugify lowercases s and replaces every run of characters outside
// [A-Za-z0-9_-] with a single dash, trimming dashes at the edges.
func Slugify(s string) string {
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugCollapse.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return strings.ToLower(s)
}

// contentHash returns the first 8 hex chars of the SHA-256 of content.
// Used to make synthetic conversation IDs stable across runs.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:8]
}

// MeetingIDPrefix marks synthetic conversations built from meeting
// artifacts; the extraction stage fast-paths these.
const MeetingIDPrefix = "meeting__"

// DocumentIDPrefix marks synthetic conversations built from generic
// documents.
const DocumentIDPrefix = "doc__"

// IsMeeting reports whether the conversation was built from a meeting
// artifact.
func (c *Conversation) IsMeeting() bool {
	return strings.HasPrefix(c.ID, MeetingIDPrefix)
}
