package atom

// FromCandidates converts a deduped candidate set into schema v2 atoms.
// Evidence entries get the conversation ID backfilled when missing.
func FromCandidates(set CandidateSet, conversationID, extractedAt string) []Atom {
	var atoms []Atom

	for _, fact := range set.Facts {
		kind, legacy := CanonicalKind(defaultString(fact.Type, KindFact))
		a := Atom{
			SchemaVersion:    SchemaVersion,
			Kind:             kind,
			Statement:        fact.Statement,
			Topic:            optional(fact.Topic),
			Status:           defaultString(fact.Status, "active"),
			StatusConfidence: optional(fact.StatusConfidence),
			Evidence:         backfillConversation(fact.Evidence, conversationID),
			ExtractedAt:      extractedAt,
		}
		if legacy != "" {
			a.Meta = map[string]any{"legacy": map[string]any{"type": legacy}}
		}
		atoms = append(atoms, a)
	}

	for _, dec := range set.Decisions {
		a := Atom{
			SchemaVersion:    SchemaVersion,
			Kind:             KindDecision,
			Statement:        dec.Statement,
			Topic:            optional(dec.Topic),
			Status:           defaultString(dec.Status, "active"),
			StatusConfidence: optional(dec.StatusConfidence),
			Evidence:         backfillConversation(dec.Evidence, conversationID),
			ExtractedAt:      extractedAt,
		}
		decision := map[string]any{}
		if len(dec.Alternatives) > 0 {
			decision["alternatives"] = anySlice(dec.Alternatives)
		}
		if dec.Rationale != "" {
			decision["rationale"] = dec.Rationale
		}
		if len(dec.Consequences) > 0 {
			decision["consequences"] = anySlice(dec.Consequences)
		}
		if len(decision) > 0 {
			a.Meta = map[string]any{"decision": decision}
		}
		atoms = append(atoms, a)
	}

	for _, q := range set.OpenQuestions {
		a := Atom{
			SchemaVersion: SchemaVersion,
			Kind:          KindOpenQuestion,
			Statement:     q.Question,
			Topic:         optional(q.Topic),
			Status:        "active",
			Evidence:      backfillConversation(q.Evidence, conversationID),
			ExtractedAt:   extractedAt,
		}
		if q.Context != "" {
			a.Meta = map[string]any{"question": map[string]any{"context": q.Context}}
		}
		atoms = append(atoms, a)
	}

	return atoms
}

func backfillConversation(evidence []Evidence, conversationID string) []Evidence {
	out := make([]Evidence, len(evidence))
	copy(out, evidence)
	for i := range out {
		if out[i].ConversationID == "" {
			out[i].ConversationID = conversationID
		}
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func anySlice(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
