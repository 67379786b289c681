package llm

import (
	"regexp"
	"strings"
)

var codeBlockRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// ExtractJSON recovers a JSON object from model output that may wrap it
// in markdown fences or surrounding prose. Falls back to the outermost
// brace pair, then the trimmed raw text.
func ExtractJSON(text string) string {
	if m := codeBlockRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}

	return strings.TrimSpace(text)
}
