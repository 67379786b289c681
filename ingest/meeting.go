package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	anchorRe        = regexp.MustCompile(`\s*\{#[^}]*\}\s*$`)
	hmsRe           = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})$`)
	msRe            = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)
	headingRe       = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	headingTimeRe   = regexp.MustCompile(`(\d{1,2}:\d{2}(?::\d{2})?)`)
	transcriptLineRe = regexp.MustCompile(`^(\d{1,3}:\d{2}(?::\d{2})?)\s*:\s*([^:]+?)\s*:\s*(.+)$`)
)

// actionHeadingMarkers flag headings whose content should be treated as
// commitments rather than notes.
var actionHeadingMarkers = []string{"next steps", "action", "todo", "tasks"}

// actionItemsPreamble is prepended to action sections so the extractor
// reads checklists as commitments.
const actionItemsPreamble = "Action items (treat as commitments/tasks):\n\n"

// NormalizeTimestamp canonicalizes meeting timestamps to HH:MM:SS.
// Accepts H:MM:SS and M:SS (minutes over 59 carry into hours); heading
// anchors like {#t-1205} are stripped first. Anything else collapses to
// "00:00:00".
func NormalizeTimestamp(ts string) string {
	ts = strings.TrimSpace(anchorRe.ReplaceAllString(ts, ""))
	if m := hmsRe.FindStringSubmatch(ts); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		ss, _ := strconv.Atoi(m[3])
		return fmt.Sprintf("%02d:%02d:%02d", h, mm, ss)
	}
	if m := msRe.FindStringSubmatch(ts); m != nil {
		mm, _ := strconv.Atoi(m[1])
		ss, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%02d:%02d:%02d", mm/60, mm%60, ss)
	}
	return "00:00:00"
}

// MeetingDocumentID derives the stable synthetic conversation ID for a
// meeting artifact from its filename stem and content hash.
func MeetingDocumentID(stem, content string) string {
	return MeetingIDPrefix + Slugify(stem) + "__" + contentHash(content)
}

// ParseMarkdownMeeting converts a markdown meeting-notes file into a
// synthetic conversation: one node per section, timestamped sections as
// user turns, everything else as system notes.
func ParseMarkdownMeeting(path string) (Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Conversation{}, fmt.Errorf("reading %s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return parseMarkdownMeeting(stem, string(data)), nil
}

type meetingSection struct {
	heading string // empty for the preface
	body    string
}

func splitSections(content string) []meetingSection {
	locs := headingRe.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return []meetingSection{{body: content}}
	}

	var sections []meetingSection
	if preface := content[:locs[0][0]]; strings.TrimSpace(preface) != "" {
		sections = append(sections, meetingSection{body: preface})
	}
	for i, loc := range locs {
		heading := content[loc[4]:loc[5]]
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := content[loc[1]:end]
		sections = append(sections, meetingSection{heading: strings.TrimSpace(heading), body: body})
	}
	return sections
}

func isActionHeading(heading string) bool {
	lower := strings.ToLower(heading)
	for _, marker := range actionHeadingMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func parseMarkdownMeeting(stem, content string) Conversation {
	conv := Conversation{
		ID:      MeetingDocumentID(stem, content),
		Title:   stem,
		Mapping: map[string]Node{},
	}

	// Title comes from the first top-level heading near the top of the
	// file when present.
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
	for _, sec := range splitSections(content) {
		body := strings.TrimSpace(sec.body)
		text := body
		nodeID := "notes:preface"
		role := "system"

		if sec.heading != "" {
			if ts := headingTimeRe.FindString(sec.heading); ts != "" {
				nodeID = NormalizeTimestamp(ts)
				role = "user"
			} else {
				if slug := Slugify(sec.heading); slug != "" {
					nodeID = "notes:" + slug
				} else {
					nodeID = "notes:section"
				}
				// The cue sits between heading and body so downstream
				// extraction reads the checklist as commitments.
				if isActionHeading(sec.heading) {
					body = actionItemsPreamble + body
				}
			}
			text = sec.heading
			if body != "" {
				text = sec.heading + "\n\n" + body
			}
		}

		if text == "" {
			continue
		}

		conv.Mapping[nodeID] = Node{
			ID:     nodeID,
			Parent: previous,
			Message: &Message{
				ID:    nodeID,
				Role:  role,
				Parts: []string{text},
			},
		}
		previous = nodeID
	}

	conv.CurrentNode = previous
	return conv
}

// ParseTextTranscript converts a plain-text transcript with
// "M:SS: Speaker: text" lines into a synthetic conversation. Lines that
// match the pattern start a new user turn; continuation lines attach to
// the previous turn. Files with no timestamped lines become a single
// system node carrying the whole transcript.
func ParseTextTranscript(path string) (Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Conversation{}, fmt.Errorf("reading %s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return parseTextTranscript(stem, string(data)), nil
}

func parseTextTranscript(stem, content string) Conversation {
	conv := Conversation{
		ID:      MeetingDocumentID(stem, content),
		Title:   stem,
		Mapping: map[string]Node{},
	}

	previous := ""
	var order []string
	for _, line := range strings.Split(content, "\n") {
		m := transcriptLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			if previous != "" && strings.TrimSpace(line) != "" {
				node := conv.Mapping[previous]
				node.Message.Parts[len(node.Message.Parts)-1] += "\n" + line
				conv.Mapping[previous] = node
			}
			continue
		}

		nodeID := NormalizeTimestamp(m[1])
		text := fmt.Sprintf("**%s:** %s", strings.TrimSpace(m[2]), m[3])
		conv.Mapping[nodeID] = Node{
			ID:     nodeID,
			Parent: previous,
			Message: &Message{
				ID:    nodeID,
				Role:  "user",
				Parts: []string{text},
			},
		}
		previous = nodeID
		order = append(order, nodeID)
	}

	if len(order) == 0 {
		trimmed := strings.TrimSpace(content)
		if trimmed != "" {
			conv.Mapping["notes:transcript"] = Node{
				ID: "notes:transcript",
				Message: &Message{
					ID:    "notes:transcript",
					Role:  "system",
					Parts: []string{trimmed},
				},
			}
			conv.CurrentNode = "notes:transcript"
		}
		return conv
	}

	conv.CurrentNode = previous
	return conv
}

// ParseDocxMeeting renders a .docx meeting-notes file to markdown using
// its heading styles, then applies the markdown meeting rules.
func ParseDocxMeeting(path string) (Conversation, error) {
	md, err := docxToMarkdown(path)
	if err != nil {
		return Conversation{}, err
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return parseMarkdownMeeting(stem, md), nil
}
