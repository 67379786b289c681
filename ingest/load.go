package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrUnrecognized is returned when a file's shape matches none of the
// supported input formats. Directory loads skip such files; single-file
// loads surface the error.
var ErrUnrecognized = errors.New("ingest: unrecognized input format")

// LoadOptions controls input normalization.
type LoadOptions struct {
	// Limit truncates the result to the first N conversations. Zero
	// means no limit.
	Limit int

	// Documents switches .md/.txt/.docx/.pdf/.xlsx handling from meeting
	// artifacts to generic document mode.
	Documents bool
}

// Load normalizes conversations from a file or directory. Directory
// loads are liberal: files that fail shape detection are skipped with a
// warning rather than aborting the run.
func Load(path string, opts LoadOptions) ([]Conversation, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		convs, err := loadFile(path, opts)
		if err != nil {
			return nil, err
		}
		return applyLimit(convs, opts.Limit), nil
	}

	files, err := listInputFiles(path, opts.Documents)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no supported files (.json, .md, .txt) found in directory: %s", path)
	}

	var convs []Conversation
	for _, f := range files {
		if opts.Limit > 0 && len(convs) >= opts.Limit {
			break
		}
		fileConvs, err := loadFile(f, opts)
		if err != nil {
			slog.Warn("ingest: skipping file", "path", f, "error", err)
			continue
		}
		convs = append(convs, fileConvs...)
		if opts.Limit > 0 && len(convs) > opts.Limit {
			convs = convs[:opts.Limit]
			break
		}
	}
	return convs, nil
}

func applyLimit(convs []Conversation, limit int) []Conversation {
	if limit > 0 && len(convs) > limit {
		return convs[:limit]
	}
	return convs
}

// conversationExts are the extensions scanned in the default mode.
var conversationExts = []string{".json", ".md", ".txt"}

// documentExts are scanned additionally in documents mode.
var documentExts = []string{".json", ".md", ".txt", ".docx", ".pdf", ".xlsx"}

// listInputFiles enumerates candidate files. Direct children are
// preferred per extension; the recursive walk only kicks in for
// extensions with no direct match. The combined list is deduped and
// sorted for deterministic ordering.
func listInputFiles(dir string, documents bool) ([]string, error) {
	exts := conversationExts
	if documents {
		exts = documentExts
	}

	seen := make(map[string]bool)
	var all []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			all = append(all, p)
		}
	}

	for _, ext := range exts {
		direct, err := filepath.Glob(filepath.Join(dir, "*"+ext))
		if err != nil {
			return nil, err
		}
		var files []string
		for _, p := range direct {
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				files = append(files, p)
			}
		}
		if len(files) == 0 {
			err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ext) {
					files = append(files, p)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("walking %s: %w", dir, err)
			}
		}
		sort.Strings(files)
		for _, f := range files {
			add(f)
		}
	}

	sort.Strings(all)
	return all, nil
}

func loadFile(path string, opts LoadOptions) ([]Conversation, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if ext != ".json" {
		if opts.Documents {
			conv, err := ParseDocument(path)
			if err != nil {
				return nil, err
			}
			return []Conversation{conv}, nil
		}
		switch ext {
		case ".md":
			conv, err := ParseMarkdownMeeting(path)
			if err != nil {
				return nil, err
			}
			return []Conversation{conv}, nil
		case ".txt":
			conv, err := ParseTextTranscript(path)
			if err != nil {
				return nil, err
			}
			return []Conversation{conv}, nil
		case ".docx":
			conv, err := ParseDocxMeeting(path)
			if err != nil {
				return nil, err
			}
			return []Conversation{conv}, nil
		default:
			return nil, fmt.Errorf("%w: unsupported meeting artifact %s", ErrUnrecognized, ext)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch v := raw.(type) {
	case []any:
		var convs []Conversation
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			switch {
			case isClaudeConversation(obj):
				convs = append(convs, convertClaude(obj))
			case isChatGPTConversation(obj):
				convs = append(convs, conversationFromRaw(obj, listItemFallbackID(obj, stem, i)))
			default:
				// Keep id-bearing objects; downstream skips the rest.
				convs = append(convs, conversationFromRaw(obj, ""))
			}
		}
		return convs, nil

	case map[string]any:
		if isClaudeConversation(v) {
			return []Conversation{convertClaude(v)}, nil
		}
		if isChatGPTConversation(v) {
			return []Conversation{conversationFromRaw(v, stem)}, nil
		}
		keys := make([]string, 0, 10)
		for k := range v {
			if len(keys) == 10 {
				break
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: expected a list of conversations, a single conversation with mapping/current_node, or a Claude export with platform=CLAUDE_AI and chat_messages; got object with keys %v", ErrUnrecognized, keys)

	default:
		return nil, fmt.Errorf("%w: expected a JSON object or list, got %T", ErrUnrecognized, raw)
	}
}

// listItemFallbackID mirrors the ID injection for id-less single
// conversations found inside a list export: prefer a Claude-style uuid,
// else derive from the filename stem and position.
func listItemFallbackID(obj map[string]any, stem string, i int) string {
	if id, _ := obj["uuid"].(string); id != "" {
		return id
	}
	return fmt.Sprintf("%s_%d", stem, i)
}

func isChatGPTConversation(obj map[string]any) bool {
	_, hasMapping := obj["mapping"]
	_, hasCurrent := obj["current_node"]
	return hasMapping && hasCurrent
}

func isClaudeConversation(obj map[string]any) bool {
	if obj["platform"] != "CLAUDE_AI" {
		return false
	}
	_, ok := obj["chat_messages"].([]any)
	return ok
}

// conversationFromRaw builds a Conversation from a decoded ChatGPT-style
// export object. fallbackID is used when both id and conversation_id are
// absent; an empty result ID means downstream stages will skip it.
func conversationFromRaw(obj map[string]any, fallbackID string) Conversation {
	conv := Conversation{
		ID:          stringField(obj, "id", "conversation_id"),
		Title:       stringField(obj, "title"),
		ProjectID:   stringField(obj, "project_id"),
		ProjectName: stringField(obj, "project_name"),
		Mapping:     map[string]Node{},
	}
	if conv.ID == "" {
		conv.ID = fallbackID
	}
	conv.CurrentNode, _ = obj["current_node"].(string)

	mapping, _ := obj["mapping"].(map[string]any)
	for key, rawNode := range mapping {
		nodeObj, ok := rawNode.(map[string]any)
		if !ok {
			continue
		}
		node := Node{ID: key}
		if id, _ := nodeObj["id"].(string); id != "" {
			node.ID = id
		}
		node.Parent, _ = nodeObj["parent"].(string)
		node.Message = messageFromRaw(nodeObj["message"])
		conv.Mapping[key] = node
	}
	return conv
}

func messageFromRaw(raw any) *Message {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	msg := &Message{}
	msg.ID, _ = obj["id"].(string)

	if author, ok := obj["author"].(map[string]any); ok {
		msg.Role, _ = author["role"].(string)
	}

	if t, ok := obj["create_time"].(float64); ok {
		msg.CreateTime = &t
	}

	if content, ok := obj["content"].(map[string]any); ok {
		if parts, ok := content["parts"].([]any); ok {
			for _, p := range parts {
				if s, ok := p.(string); ok {
					msg.Parts = append(msg.Parts, s)
				}
			}
		}
	}
	return msg
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, _ := obj[k].(string); s != "" {
			return s
		}
	}
	return ""
}

// parseISOTimestamp converts an ISO-8601 string to epoch seconds.
// Returns nil for empty or unparseable input.
func parseISOTimestamp(iso string) *float64 {
	if iso == "" {
		return nil
	}
	iso = strings.Replace(iso, "Z", "+00:00", 1)
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999-07:00",
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, iso); err == nil {
			epoch := float64(t.UnixNano()) / 1e9
			return &epoch
		}
	}
	return nil
}
