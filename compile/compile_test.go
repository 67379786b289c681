package compile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pcavallo/atomforge/atom"
)

func strPtr(s string) *string { return &s }

func TestRun(t *testing.T) {
	atoms := []atom.Atom{
		{Kind: atom.KindFact, Statement: "The API uses JWT", Topic: strPtr("Auth Design"), Status: "active",
			Evidence: []atom.Evidence{{ConversationID: "c1"}, {ConversationID: "c1"}, {ConversationID: "c2"}}},
		{Kind: atom.KindFact, Statement: "Tokens expire after an hour", Topic: strPtr("Auth Design"), Status: "active"},
		{Kind: atom.KindDecision, Statement: "Adopt refresh tokens", Topic: strPtr("Auth Design"), Status: "active"},
		{Kind: atom.KindActionItem, Statement: "File the rollout ticket", Status: "open"},
	}

	outDir := t.TempDir()
	if err := Run(atoms, outDir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	root := filepath.Join(outDir, "knowledge")

	index, err := os.ReadFile(filepath.Join(root, "index.md"))
	if err != nil {
		t.Fatalf("reading index: %v", err)
	}
	got := string(index)
	if !strings.Contains(got, "# Knowledge Base") {
		t.Errorf("missing index heading: %q", got)
	}
	if !strings.Contains(got, "Atoms: 4") {
		t.Errorf("missing atom count: %q", got)
	}
	if !strings.Contains(got, "[Auth Design](fact/auth-design.md) (2)") {
		t.Errorf("missing fact page link: %q", got)
	}
	if !strings.Contains(got, "[uncategorized](action_item/uncategorized.md) (1)") {
		t.Errorf("missing uncategorized link: %q", got)
	}
	if strings.Index(got, "## Facts") > strings.Index(got, "## Decisions") {
		t.Errorf("kind sections out of order: %q", got)
	}

	page, err := os.ReadFile(filepath.Join(root, "fact", "auth-design.md"))
	if err != nil {
		t.Fatalf("reading fact page: %v", err)
	}
	text := string(page)
	if !strings.Contains(text, "# Facts: Auth Design") {
		t.Errorf("missing page title: %q", text)
	}
	if !strings.Contains(text, "- The API uses JWT") {
		t.Errorf("missing statement: %q", text)
	}
	if strings.Count(text, "source: c1") != 1 {
		t.Errorf("duplicate sources should collapse: %q", text)
	}
	if !strings.Contains(text, "source: c2") {
		t.Errorf("missing second source: %q", text)
	}

	action, err := os.ReadFile(filepath.Join(root, "action_item", "uncategorized.md"))
	if err != nil {
		t.Fatalf("reading action page: %v", err)
	}
	if !strings.Contains(string(action), "_(status: open)_") {
		t.Errorf("missing status marker: %q", string(action))
	}
}

func TestRunEmpty(t *testing.T) {
	outDir := t.TempDir()
	if err := Run(nil, outDir); err != nil {
		t.Fatalf("Run: %v", err)
	}
	index, err := os.ReadFile(filepath.Join(outDir, "knowledge", "index.md"))
	if err != nil {
		t.Fatalf("reading index: %v", err)
	}
	if !strings.Contains(string(index), "Atoms: 0") {
		t.Errorf("empty index should still render: %q", string(index))
	}
}

func TestPageFilename(t *testing.T) {
	cases := map[string]string{
		"Auth Design":   "auth-design.md",
		"CI/CD Rollout": "ci-cd-rollout.md",
		"///":           "uncategorized.md",
	}
	for in, want := range cases {
		if got := pageFilename(in); got != want {
			t.Errorf("pageFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
