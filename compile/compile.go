// Package compile renders consolidated atoms into a browsable markdown
// knowledge base, grouped by kind and topic.
package compile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/pcavallo/atomforge/atom"
	"github.com/pcavallo/atomforge/fsio"
	"github.com/pcavallo/atomforge/ingest"
)

// kindOrder fixes the kind ordering in the index and on disk.
var kindOrder = []string{
	atom.KindFact,
	atom.KindDecision,
	atom.KindOpenQuestion,
	atom.KindActionItem,
	atom.KindMeetingTopic,
	atom.KindRisk,
	atom.KindBlocker,
	atom.KindDependency,
	atom.KindInsight,
	atom.KindReference,
}

// kindTitles are the human headings for each kind.
var kindTitles = map[string]string{
	atom.KindFact:         "Facts",
	atom.KindDecision:     "Decisions",
	atom.KindOpenQuestion: "Open Questions",
	atom.KindActionItem:   "Action Items",
	atom.KindMeetingTopic: "Meeting Topics",
	atom.KindRisk:         "Risks",
	atom.KindBlocker:      "Blockers",
	atom.KindDependency:   "Dependencies",
	atom.KindInsight:      "Insights",
	atom.KindReference:    "References",
}

const untopiced = "uncategorized"

type topicPage struct {
	Title       string
	Kind        string
	Topic       string
	GeneratedAt string
	Atoms       []pageAtom
}

type pageAtom struct {
	Statement string
	Status    string
	Sources   []string
}

var pageTemplate = template.Must(template.New("page").Parse(`# {{.Title}}

Topic: {{.Topic}}
Generated: {{.GeneratedAt}}

{{range .Atoms}}- {{.Statement}}{{if .Status}} _(status: {{.Status}})_{{end}}
{{- range .Sources}}
  - source: {{.}}
{{- end}}
{{end}}`))

var indexTemplate = template.Must(template.New("index").Parse(`# Knowledge Base

Generated: {{.GeneratedAt}}
Atoms: {{.AtomCount}}

{{range .Sections}}## {{.Title}}

{{range .Pages}}- [{{.Topic}}]({{.Path}}) ({{.Count}})
{{end}}
{{end}}`))

type indexSection struct {
	Title string
	Pages []indexPage
}

type indexPage struct {
	Topic string
	Path  string
	Count int
}

// Run renders the atoms under outDir/knowledge: one markdown file per
// (kind, topic) pair plus an index.md linking them all.
func Run(atoms []atom.Atom, outDir string) error {
	generatedAt := time.Now().UTC().Format(time.RFC3339)
	root := filepath.Join(outDir, "knowledge")

	// Group by kind then topic, preserving input order within a group.
	type groupKey struct{ kind, topic string }
	groups := make(map[groupKey][]atom.Atom)
	for _, a := range atoms {
		topic := untopiced
		if a.Topic != nil && strings.TrimSpace(*a.Topic) != "" {
			topic = *a.Topic
		}
		key := groupKey{kind: a.Kind, topic: topic}
		groups[key] = append(groups[key], a)
	}

	var sections []indexSection
	for _, kind := range kindOrder {
		var topicsForKind []string
		for key := range groups {
			if key.kind == kind {
				topicsForKind = append(topicsForKind, key.topic)
			}
		}
		if len(topicsForKind) == 0 {
			continue
		}
		sort.Strings(topicsForKind)

		section := indexSection{Title: kindTitles[kind]}
		for _, topic := range topicsForKind {
			group := groups[groupKey{kind: kind, topic: topic}]
			relPath := filepath.Join(kind, pageFilename(topic))
			if err := writePage(filepath.Join(root, relPath), kind, topic, generatedAt, group); err != nil {
				return err
			}
			section.Pages = append(section.Pages, indexPage{
				Topic: topic,
				Path:  filepath.ToSlash(relPath),
				Count: len(group),
			})
		}
		sections = append(sections, section)
	}

	var b strings.Builder
	err := indexTemplate.Execute(&b, struct {
		GeneratedAt string
		AtomCount   int
		Sections    []indexSection
	}{GeneratedAt: generatedAt, AtomCount: len(atoms), Sections: sections})
	if err != nil {
		return fmt.Errorf("rendering index: %w", err)
	}
	return fsio.WriteFileAtomic(filepath.Join(root, "index.md"), []byte(b.String()))
}

func writePage(path, kind, topic, generatedAt string, group []atom.Atom) error {
	page := topicPage{
		Title:       fmt.Sprintf("%s: %s", kindTitles[kind], topic),
		Kind:        kind,
		Topic:       topic,
		GeneratedAt: generatedAt,
	}
	for _, a := range group {
		pa := pageAtom{Statement: a.Statement, Status: a.Status}
		for _, ev := range a.Evidence {
			if ev.ConversationID != "" {
				pa.Sources = append(pa.Sources, ev.ConversationID)
			}
		}
		pa.Sources = dedupStrings(pa.Sources)
		page.Atoms = append(page.Atoms, pa)
	}

	var b strings.Builder
	if err := pageTemplate.Execute(&b, page); err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return fsio.WriteFileAtomic(path, []byte(b.String()))
}

// pageFilename sanitizes a topic into a markdown filename the same way
// conversation slugs are built.
func pageFilename(topic string) string {
	slug := ingest.Slugify(topic)
	if slug == "" {
		slug = untopiced
	}
	return slug + ".md"
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
