package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// ParseDocument converts a generic document (.md, .txt, .docx, .pdf,
// .xlsx) into a synthetic conversation: one system node per section so
// the extraction and topic stages can treat documents like any other
// conversation.
func ParseDocument(path string) (Conversation, error) {
	ext := strings.ToLower(filepath.Ext(path))
	stem := strings.TrimSuffix(filepath.Base(path), ext)

	var content string
	switch ext {
	case ".md", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return Conversation{}, fmt.Errorf("reading %s: %w", path, err)
		}
		content = string(data)
	case ".docx":
		md, err := docxToMarkdown(path)
		if err != nil {
			return Conversation{}, err
		}
		content = md
	case ".pdf":
		text, err := pdfToText(path)
		if err != nil {
			return Conversation{}, err
		}
		content = text
	case ".xlsx":
		md, err := xlsxToMarkdown(path)
		if err != nil {
			return Conversation{}, err
		}
		content = md
	default:
		return Conversation{}, fmt.Errorf("%w: unsupported document format %s", ErrUnrecognized, ext)
	}

	return documentConversation(stem, content), nil
}

// documentConversation splits content by markdown headings into section
// nodes. Documents without headings become a single node.
func documentConversation(stem, content string) Conversation {
	conv := Conversation{
		ID:      DocumentIDPrefix + Slugify(stem) + "__" + contentHash(content),
		Title:   stem,
		Mapping: map[string]Node{},
	}

	for i, line := range strings.SplitN(content, "\n", 21) {
		if i >= 20 {
			break
		}
		if strings.HasPrefix(line, "# ") {
			conv.Title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			break
		}
	}

	previous := ""
	seq := 0
	addNode := func(slug, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		seq++
		nodeID := fmt.Sprintf("sec:%04d:%s", seq, slug)
		conv.Mapping[nodeID] = Node{
			ID:     nodeID,
			Parent: previous,
			Message: &Message{
				ID:    nodeID,
				Role:  "system",
				Parts: []string{text},
			},
		}
		previous = nodeID
	}

	for _, sec := range splitSections(content) {
		if sec.heading == "" {
			addNode("preface", sec.body)
			continue
		}
		slug := Slugify(sec.heading)
		if slug == "" {
			slug = "preface"
		}
		addNode(slug, sec.heading+"\n\n"+strings.TrimSpace(sec.body))
	}

	if seq == 0 {
		if trimmed := strings.TrimSpace(content); trimmed != "" {
			conv.Mapping["sec:0001:document"] = Node{
				ID: "sec:0001:document",
				Message: &Message{
					ID:    "sec:0001:document",
					Role:  "system",
					Parts: []string{trimmed},
				},
			}
			previous = "sec:0001:document"
		}
	}

	conv.CurrentNode = previous
	return conv
}

// pdfToText extracts per-page plain text. Pages that fail extraction
// are skipped.
func pdfToText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		b.WriteString(text + "\n\n")
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no extractable text in PDF %s", path)
	}
	return b.String(), nil
}

// xlsxToMarkdown renders each sheet as a markdown table under a
// heading named after the sheet.
func xlsxToMarkdown(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		b.WriteString("# " + sheet + "\n\n")
		for _, row := range rows {
			b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no data found in XLSX %s", path)
	}
	return b.String(), nil
}
