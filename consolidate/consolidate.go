// Package consolidate merges per-conversation atoms into one
// project-wide deduplicated atom set with a manifest.
package consolidate

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pcavallo/atomforge/atom"
	"github.com/pcavallo/atomforge/fsio"
)

// Result summarizes a consolidation run.
type Result struct {
	InputAtoms  int
	OutputAtoms int
	Sources     []string // conversation directories that contributed
	AtomsPath   string
	ManifestPath string
}

// Run reads every <atomsRoot>/<conversation>/atoms.jsonl in sorted
// directory order, dedupes atoms on (kind, normalized statement, topic),
// and writes <projectDir>/atoms.jsonl plus manifest.md. First-seen atoms
// win for scalar fields; evidence is unioned.
func Run(atomsRoot, projectDir string) (*Result, error) {
	entries, err := os.ReadDir(atomsRoot)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", atomsRoot, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)

	res := &Result{}
	index := make(map[string]int)
	var merged []atom.Atom

	for _, dir := range dirs {
		path := filepath.Join(atomsRoot, dir, "atoms.jsonl")
		atoms, err := fsio.ReadJSONL[atom.Atom](path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			slog.Warn("consolidate: skipping unreadable file", "path", path, "error", err)
			continue
		}
		if len(atoms) == 0 {
			continue
		}
		res.Sources = append(res.Sources, dir)

		for _, a := range atoms {
			res.InputAtoms++
			backfillEvidence(&a, dir)
			key := a.Key()
			if i, ok := index[key]; ok {
				merged[i].Evidence = mergeEvidence(merged[i].Evidence, a.Evidence)
				continue
			}
			index[key] = len(merged)
			merged = append(merged, a)
		}
	}

	res.OutputAtoms = len(merged)
	res.AtomsPath = filepath.Join(projectDir, "atoms.jsonl")
	if err := fsio.WriteJSONL(res.AtomsPath, merged); err != nil {
		return nil, err
	}

	res.ManifestPath = filepath.Join(projectDir, "manifest.md")
	if err := fsio.WriteFileAtomic(res.ManifestPath, []byte(renderManifest(res))); err != nil {
		return nil, err
	}

	slog.Info("consolidate: wrote project atoms",
		"input", res.InputAtoms, "output", res.OutputAtoms, "sources", len(res.Sources))
	return res, nil
}

func backfillEvidence(a *atom.Atom, conversationID string) {
	for i := range a.Evidence {
		if a.Evidence[i].ConversationID == "" {
			a.Evidence[i].ConversationID = conversationID
		}
	}
}

// mergeEvidence unions evidence deduped on (conversation, message, time).
func mergeEvidence(existing, incoming []atom.Evidence) []atom.Evidence {
	seen := make(map[string]bool, len(existing))
	key := func(ev atom.Evidence) string {
		timeISO := ""
		if ev.TimeISO != nil {
			timeISO = *ev.TimeISO
		}
		return ev.ConversationID + "\x00" + ev.MessageID + "\x00" + timeISO
	}
	for _, ev := range existing {
		seen[key(ev)] = true
	}
	for _, ev := range incoming {
		if k := key(ev); !seen[k] {
			seen[k] = true
			existing = append(existing, ev)
		}
	}
	return existing
}

func renderManifest(res *Result) string {
	var b strings.Builder
	b.WriteString("# Project Knowledge Manifest\n\n")
	b.WriteString("## Statistics\n\n")
	fmt.Fprintf(&b, "- Atoms: %d input → %d output (deduped)\n", res.InputAtoms, res.OutputAtoms)
	fmt.Fprintf(&b, "- Conversations: %d\n", len(res.Sources))
	b.WriteString("\n## Files\n\n")
	b.WriteString("- `atoms.jsonl`\n")
	for _, src := range res.Sources {
		fmt.Fprintf(&b, "- source: `%s/atoms.jsonl`\n", src)
	}
	return b.String()
}

// ConcatDocs concatenates project documentation for LLM consumption:
// docs_concat.md collects every non-decision markdown file under
// docsDir, adrs_concat.md collects docs/decisions. Each part is
// prefixed with a SOURCE_FILE marker. Missing docs dirs are not an
// error.
func ConcatDocs(docsDir, projectDir string) error {
	if _, err := os.Stat(docsDir); err != nil {
		return nil
	}

	decisionsDir := filepath.Join(docsDir, "decisions")

	docs, err := collectMarkdown(docsDir, func(path string) bool {
		return !strings.HasPrefix(path, decisionsDir+string(filepath.Separator))
	})
	if err != nil {
		return err
	}
	if len(docs) > 0 {
		if err := writeConcat(filepath.Join(projectDir, "docs_concat.md"), docsDir, docs); err != nil {
			return err
		}
	}

	adrs, err := collectMarkdown(decisionsDir, func(string) bool { return true })
	if err != nil {
		return err
	}
	if len(adrs) > 0 {
		if err := writeConcat(filepath.Join(projectDir, "adrs_concat.md"), docsDir, adrs); err != nil {
			return err
		}
	}
	return nil
}

func collectMarkdown(root string, keep func(string) bool) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") && keep(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func writeConcat(outPath, baseDir string, files []string) error {
	var parts []string
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("consolidate: skipping unreadable doc", "path", path, "error", err)
			continue
		}
		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			rel = path
		}
		parts = append(parts, fmt.Sprintf("\n\n---\n\n<!-- SOURCE_FILE: %s -->\n\n%s\n", rel, string(data)))
	}
	content := strings.TrimLeft(strings.Join(parts, ""), "\n")
	return fsio.WriteFileAtomic(outPath, []byte(content))
}
