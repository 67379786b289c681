package atom

import (
	"encoding/json"
	"testing"
)

func TestNormalizeStatement(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  We Charge  $50 per Seat ", "we charge $50 per seat"},
		{"Tabs\tand\nnewlines", "tabs and newlines"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeStatement(tc.in); got != tc.want {
			t.Errorf("NormalizeStatement(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalKindLegacyAliases(t *testing.T) {
	kind, legacy := CanonicalKind("requirement")
	if kind != KindFact || legacy != "requirement" {
		t.Errorf("requirement -> %q/%q", kind, legacy)
	}
	kind, legacy = CanonicalKind(KindDecision)
	if kind != KindDecision || legacy != "" {
		t.Errorf("decision -> %q/%q", kind, legacy)
	}
}

func TestAtomKeyIncludesTopic(t *testing.T) {
	topic := "pricing"
	a := Atom{Kind: KindFact, Statement: "We charge $50"}
	b := Atom{Kind: KindFact, Statement: "we  charge $50", Topic: &topic}
	c := Atom{Kind: KindFact, Statement: "WE CHARGE $50"}

	if a.Key() == b.Key() {
		t.Error("topic should separate keys")
	}
	if a.Key() != c.Key() {
		t.Error("case and spacing should not separate keys")
	}
}

func TestMetaRoundTripPreservesUnknownKeys(t *testing.T) {
	raw := `{"schema_version":2,"kind":"decision","statement":"use sqlite","topic":null,"status":"active","status_confidence":null,"evidence":[],"extracted_at":"2025-08-25T00:00:00Z","meta":{"decision":{"rationale":"simple","alternatives":["postgres"]},"custom_plugin":{"score":7}}}`

	var a Atom
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	dec, ok := a.Decision()
	if !ok || dec.Rationale != "simple" || len(dec.Alternatives) != 1 {
		t.Errorf("decision meta = %+v ok=%v", dec, ok)
	}

	out, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	meta := back["meta"].(map[string]any)
	if _, ok := meta["custom_plugin"]; !ok {
		t.Error("unknown meta key dropped on round trip")
	}
}

func TestDedupeCandidatesMergesEvidence(t *testing.T) {
	set := CandidateSet{
		Facts: []Candidate{
			{Type: "fact", Topic: "pricing", Statement: "We charge $50",
				Evidence: []Evidence{{MessageID: "m1"}}},
			{Type: "fact", Topic: "pricing", Statement: "we charge  $50",
				Evidence: []Evidence{{MessageID: "m2"}, {MessageID: "m1"}}},
		},
		OpenQuestions: []QuestionCandidate{
			{Topic: "pricing", Question: "Annual discount?"},
			{Topic: "pricing", Question: "annual discount?"},
		},
	}

	deduped := DedupeCandidates(set, 0)
	if len(deduped.Facts) != 1 {
		t.Fatalf("facts = %d, want 1", len(deduped.Facts))
	}
	if len(deduped.Facts[0].Evidence) != 2 {
		t.Errorf("evidence = %+v, want m1+m2", deduped.Facts[0].Evidence)
	}
	if len(deduped.OpenQuestions) != 1 {
		t.Errorf("questions = %d, want 1", len(deduped.OpenQuestions))
	}
}

func TestDedupeCandidatesEvidenceCap(t *testing.T) {
	set := CandidateSet{Facts: []Candidate{{
		Type: "fact", Statement: "s",
		Evidence: []Evidence{{MessageID: "1"}, {MessageID: "2"}, {MessageID: "3"}},
	}}}
	deduped := DedupeCandidates(set, 2)
	if len(deduped.Facts[0].Evidence) != 2 {
		t.Errorf("evidence = %d, want capped at 2", len(deduped.Facts[0].Evidence))
	}
}

func TestFromCandidates(t *testing.T) {
	set := CandidateSet{
		Facts: []Candidate{{Type: "metric", Statement: "MRR is $10k", Topic: "metrics"}},
		Decisions: []Candidate{{Statement: "Use SQLite", Rationale: "simple",
			Alternatives: []string{"postgres"}, Evidence: []Evidence{{MessageID: "m1"}}}},
		OpenQuestions: []QuestionCandidate{{Question: "Launch date?", Context: "roadmap call"}},
	}

	atoms := FromCandidates(set, "conv-1", "2025-08-25T00:00:00Z")
	if len(atoms) != 3 {
		t.Fatalf("got %d atoms", len(atoms))
	}

	fact := atoms[0]
	if fact.Kind != KindFact || fact.LegacyType() != "metric" {
		t.Errorf("fact = kind %q legacy %q", fact.Kind, fact.LegacyType())
	}
	if fact.Status != "active" {
		t.Errorf("fact status = %q", fact.Status)
	}

	dec := atoms[1]
	meta, ok := dec.Decision()
	if !ok || meta.Rationale != "simple" || len(meta.Alternatives) != 1 {
		t.Errorf("decision meta = %+v", meta)
	}
	if dec.Evidence[0].ConversationID != "conv-1" {
		t.Error("conversation_id not backfilled")
	}

	q := atoms[2]
	if q.Kind != KindOpenQuestion || q.Statement != "Launch date?" {
		t.Errorf("question atom = %+v", q)
	}
	if q.QuestionContext() != "roadmap call" {
		t.Errorf("question context = %q", q.QuestionContext())
	}
}
