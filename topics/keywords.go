package topics

import (
	"regexp"
	"sort"
	"strings"
)

var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]{2,}`)

// stopwords excluded from keyword extraction. Kept small: document
// boilerplate plus the highest-frequency English function words.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "are": true, "was": true, "were": true, "have": true,
	"has": true, "not": true, "but": true, "from": true, "will": true,
	"should": true, "would": true, "could": true, "about": true,
	"into": true, "over": true, "our": true, "their": true, "its": true,
	"can": true, "all": true, "any": true, "out": true, "use": true,
	"title": true, "project": true, "facts": true, "knowledge": true,
	"decisions": true, "open": true, "questions": true,
}

// TopKeywords ranks terms of the member documents by TF-IDF against the
// whole corpus and returns up to k of them, highest score first.
func TopKeywords(memberDocs []string, allDocs []string, k int) []string {
	if len(memberDocs) == 0 || k <= 0 {
		return nil
	}

	// Document frequency over the corpus.
	df := make(map[string]int)
	for _, doc := range allDocs {
		seen := make(map[string]bool)
		for _, term := range tokenize(doc) {
			if !seen[term] {
				seen[term] = true
				df[term]++
			}
		}
	}

	tf := make(map[string]int)
	total := 0
	for _, doc := range memberDocs {
		for _, term := range tokenize(doc) {
			tf[term]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	type scored struct {
		term  string
		score float64
	}
	n := float64(len(allDocs))
	var terms []scored
	for term, count := range tf {
		idf := 1.0
		if d := df[term]; d > 0 {
			idf = 1.0 + (n / float64(d+1))
		}
		terms = append(terms, scored{term: term, score: float64(count) / float64(total) * idf})
	}

	sort.Slice(terms, func(i, j int) bool {
		if terms[i].score != terms[j].score {
			return terms[i].score > terms[j].score
		}
		return terms[i].term < terms[j].term
	})

	if len(terms) > k {
		terms = terms[:k]
	}
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.term
	}
	return out
}

func tokenize(doc string) []string {
	var terms []string
	for _, w := range wordRe.FindAllString(strings.ToLower(doc), -1) {
		if !stopwords[w] {
			terms = append(terms, w)
		}
	}
	return terms
}
