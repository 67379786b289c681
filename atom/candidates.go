package atom

// Candidate is a raw fact or decision from the first extraction pass.
type Candidate struct {
	Type             string     `json:"type,omitempty"`
	Statement        string     `json:"statement"`
	Topic            string     `json:"topic,omitempty"`
	Status           string     `json:"status,omitempty"`
	StatusConfidence string     `json:"status_confidence,omitempty"`
	Alternatives     []string   `json:"alternatives,omitempty"`
	Rationale        string     `json:"rationale,omitempty"`
	Consequences     []string   `json:"consequences,omitempty"`
	Evidence         []Evidence `json:"evidence,omitempty"`
}

// QuestionCandidate is a raw open question from the first pass.
type QuestionCandidate struct {
	Question string     `json:"question"`
	Topic    string     `json:"topic,omitempty"`
	Context  string     `json:"context,omitempty"`
	Evidence []Evidence `json:"evidence,omitempty"`
}

// CandidateSet is the aggregate first-pass extraction output for one
// conversation.
type CandidateSet struct {
	Facts         []Candidate         `json:"facts"`
	Decisions     []Candidate         `json:"decisions"`
	OpenQuestions []QuestionCandidate `json:"open_questions"`
}

// Empty reports whether the set holds no candidates.
func (s *CandidateSet) Empty() bool {
	return len(s.Facts) == 0 && len(s.Decisions) == 0 && len(s.OpenQuestions) == 0
}

// Append merges another set into this one without deduplication.
func (s *CandidateSet) Append(other CandidateSet) {
	s.Facts = append(s.Facts, other.Facts...)
	s.Decisions = append(s.Decisions, other.Decisions...)
	s.OpenQuestions = append(s.OpenQuestions, other.OpenQuestions...)
}

// DedupeCandidates merges candidates that share a dedup key. Facts and
// decisions key on (type, topic, normalized statement); questions key on
// (topic, normalized question). First occurrence wins for scalar fields;
// evidence is unioned by message ID. maxEvidence caps evidence per item
// when positive.
func DedupeCandidates(set CandidateSet, maxEvidence int) CandidateSet {
	return CandidateSet{
		Facts:         dedupeCandidateList(set.Facts, maxEvidence),
		Decisions:     dedupeCandidateList(set.Decisions, maxEvidence),
		OpenQuestions: dedupeQuestions(set.OpenQuestions, maxEvidence),
	}
}

func dedupeCandidateList(items []Candidate, maxEvidence int) []Candidate {
	if len(items) == 0 {
		return nil
	}
	index := make(map[string]int)
	var out []Candidate
	for _, item := range items {
		key := item.Type + "\x00" + item.Topic + "\x00" + NormalizeStatement(item.Statement)
		if i, ok := index[key]; ok {
			out[i].Evidence = mergeEvidence(out[i].Evidence, item.Evidence, maxEvidence)
			continue
		}
		index[key] = len(out)
		item.Evidence = capEvidence(item.Evidence, maxEvidence)
		out = append(out, item)
	}
	return out
}

func dedupeQuestions(items []QuestionCandidate, maxEvidence int) []QuestionCandidate {
	if len(items) == 0 {
		return nil
	}
	index := make(map[string]int)
	var out []QuestionCandidate
	for _, item := range items {
		key := item.Topic + "\x00" + NormalizeStatement(item.Question)
		if i, ok := index[key]; ok {
			out[i].Evidence = mergeEvidence(out[i].Evidence, item.Evidence, maxEvidence)
			continue
		}
		index[key] = len(out)
		item.Evidence = capEvidence(item.Evidence, maxEvidence)
		out = append(out, item)
	}
	return out
}

// mergeEvidence unions evidence lists keyed by message ID, keeping
// first-seen entries and original order.
func mergeEvidence(existing, incoming []Evidence, maxEvidence int) []Evidence {
	seen := make(map[string]bool, len(existing))
	for _, ev := range existing {
		seen[ev.MessageID] = true
	}
	for _, ev := range incoming {
		if ev.MessageID != "" && seen[ev.MessageID] {
			continue
		}
		seen[ev.MessageID] = true
		existing = append(existing, ev)
	}
	return capEvidence(existing, maxEvidence)
}

func capEvidence(evidence []Evidence, maxEvidence int) []Evidence {
	if maxEvidence > 0 && len(evidence) > maxEvidence {
		return evidence[:maxEvidence]
	}
	return evidence
}
