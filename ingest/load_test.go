package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const singleConversation = `{
	"title": "Pricing chat",
	"mapping": {
		"n1": {"id": "n1", "message": {"id": "n1", "author": {"role": "user"}, "create_time": 1735689600.0, "content": {"content_type": "text", "parts": ["What should we charge?"]}}},
		"n2": {"id": "n2", "parent": "n1", "message": {"id": "n2", "author": {"role": "assistant"}, "content": {"content_type": "text", "parts": ["Charge $50/seat."]}}}
	},
	"current_node": "n2"
}`

func TestLoadSingleConversationInjectsStemID(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chat-2025.json", singleConversation)

	convs, err := Load(path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	c := convs[0]
	if c.ID != "chat-2025" {
		t.Errorf("ID = %q, want filename stem", c.ID)
	}
	if c.Title != "Pricing chat" {
		t.Errorf("Title = %q", c.Title)
	}
	if c.CurrentNode != "n2" {
		t.Errorf("CurrentNode = %q", c.CurrentNode)
	}
	n1 := c.Mapping["n1"]
	if n1.Message == nil || n1.Message.Role != "user" {
		t.Fatalf("n1 message = %+v", n1.Message)
	}
	if n1.Message.CreateTime == nil || *n1.Message.CreateTime != 1735689600.0 {
		t.Errorf("n1 create_time = %v", n1.Message.CreateTime)
	}
}

func TestLoadListKeepsExplicitIDs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "export.json", `[
		{"id": "abc", "title": "A", "mapping": {}, "current_node": null},
		{"title": "B", "mapping": {}, "current_node": null}
	]`)

	convs, err := Load(path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations", len(convs))
	}
	if convs[0].ID != "abc" {
		t.Errorf("convs[0].ID = %q", convs[0].ID)
	}
	if convs[1].ID != "export_1" {
		t.Errorf("convs[1].ID = %q, want index-based fallback", convs[1].ID)
	}
}

func TestLoadClaudeExport(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "claude.json", `{
		"platform": "CLAUDE_AI",
		"uuid": "conv-1",
		"name": "Roadmap",
		"project": {"uuid": "p-1", "name": "Atlas"},
		"chat_messages": [
			{"uuid": "m1", "sender": "human", "created_at": "2025-01-01T00:00:00Z", "text": "hello"},
			{"uuid": "m2", "sender": "assistant", "content": [{"type": "text", "text": "hi"}]},
			{"sender": "assistant", "text": "no uuid, skipped"}
		]
	}`)

	convs, err := Load(path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := convs[0]
	if c.ID != "conv-1" || c.Title != "Roadmap" {
		t.Errorf("ID/Title = %q/%q", c.ID, c.Title)
	}
	if c.ProjectID != "p-1" || c.ProjectName != "Atlas" {
		t.Errorf("project = %q/%q", c.ProjectID, c.ProjectName)
	}
	if len(c.Mapping) != 2 {
		t.Fatalf("mapping size = %d, want 2", len(c.Mapping))
	}
	if c.CurrentNode != "m2" {
		t.Errorf("CurrentNode = %q", c.CurrentNode)
	}
	m1 := c.Mapping["m1"]
	if m1.Message.Role != "user" {
		t.Errorf("m1 role = %q", m1.Message.Role)
	}
	if m1.Message.CreateTime == nil || *m1.Message.CreateTime != 1735689600.0 {
		t.Errorf("m1 create_time = %v", m1.Message.CreateTime)
	}
	m2 := c.Mapping["m2"]
	if m2.Parent != "m1" {
		t.Errorf("m2 parent = %q", m2.Parent)
	}
	if m2.Message.Text() != "hi" {
		t.Errorf("m2 text = %q", m2.Message.Text())
	}
}

func TestLoadUnrecognizedShape(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "other.json", `{"foo": 1}`)

	if _, err := Load(path, LoadOptions{}); err == nil {
		t.Fatal("expected error for unrecognized shape")
	}
}

func TestLoadDirectorySkipsBadFilesAndLimits(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"id": "a", "mapping": {}, "current_node": null}`)
	writeFile(t, dir, "b.json", `{"unrelated": true}`)
	writeFile(t, dir, "c.json", `{"id": "c", "mapping": {}, "current_node": null}`)

	convs, err := Load(dir, LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}

	limited, err := Load(dir, LoadOptions{Limit: 1})
	if err != nil {
		t.Fatalf("Load with limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "a" {
		t.Errorf("limited = %+v", limited)
	}
}
