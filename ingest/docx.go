package ingest

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// docxToMarkdown extracts the paragraph stream of a .docx file and
// renders it as markdown, mapping Heading/Title paragraph styles to ATX
// headings so the section-based parsers can treat both formats alike.
func docxToMarkdown(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	paras, err := parseDocxParagraphs(rc)
	if err != nil {
		return "", fmt.Errorf("parsing DOCX XML: %w", err)
	}

	var b strings.Builder
	for _, p := range paras {
		text := strings.TrimSpace(p.text)
		if text == "" {
			continue
		}
		if level := headingLevelForStyle(p.style); level > 0 {
			b.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
		} else {
			b.WriteString(text + "\n\n")
		}
	}
	return b.String(), nil
}

type docxParagraph struct {
	style string
	text  string
}

// parseDocxParagraphs streams through document.xml collecting paragraph
// text and styles. Tabs and explicit breaks inside runs become spaces
// and newlines.
func parseDocxParagraphs(r io.Reader) ([]docxParagraph, error) {
	dec := xml.NewDecoder(r)

	var paras []docxParagraph
	var cur *docxParagraph
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				paras = append(paras, docxParagraph{})
				cur = &paras[len(paras)-1]
			case "pStyle":
				if cur != nil {
					for _, attr := range t.Attr {
						if attr.Name.Local == "val" {
							cur.style = attr.Value
						}
					}
				}
			case "t":
				inText = true
			case "tab":
				if cur != nil {
					cur.text += " "
				}
			case "br":
				if cur != nil {
					cur.text += "\n"
				}
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText && cur != nil {
				cur.text += string(t)
			}
		}
	}
	return paras, nil
}

// headingLevelForStyle maps Word paragraph styles to markdown heading
// levels. Returns 0 for body text.
func headingLevelForStyle(style string) int {
	if style == "Title" {
		return 1
	}
	if rest, ok := strings.CutPrefix(style, "Heading"); ok {
		if n, err := strconv.Atoi(rest); err == nil && n >= 1 && n <= 6 {
			return n
		}
	}
	return 0
}
