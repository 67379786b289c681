package ingest

import "strings"

// convertClaude turns a Claude AI export object into the normalized
// conversation shape. Claude exports are flat message lists, so the
// mapping becomes a linear chain with the last message as current node.
func convertClaude(obj map[string]any) Conversation {
	conv := Conversation{
		ID:      "unknown",
		Title:   "Untitled Conversation",
		Mapping: map[string]Node{},
	}
	if id, _ := obj["uuid"].(string); id != "" {
		conv.ID = id
	}
	if name, _ := obj["name"].(string); name != "" {
		conv.Title = name
	}

	// Project metadata appears either as a top-level project_uuid or a
	// nested project object; the topic pipeline uses both.
	conv.ProjectID, _ = obj["project_uuid"].(string)
	if project, ok := obj["project"].(map[string]any); ok {
		if conv.ProjectID == "" {
			conv.ProjectID, _ = project["uuid"].(string)
		}
		conv.ProjectName, _ = project["name"].(string)
	}

	messages, _ := obj["chat_messages"].([]any)
	previous := ""
	for _, rawMsg := range messages {
		msg, ok := rawMsg.(map[string]any)
		if !ok {
			continue
		}
		uuid, _ := msg["uuid"].(string)
		if uuid == "" {
			continue
		}

		role := "system"
		switch strings.ToLower(stringField(msg, "sender")) {
		case "human":
			role = "user"
		case "assistant":
			role = "assistant"
		}

		var createTime *float64
		if createdAt, _ := msg["created_at"].(string); createdAt != "" {
			createTime = parseISOTimestamp(createdAt)
		}

		text := claudeMessageText(msg)

		conv.Mapping[uuid] = Node{
			ID:     uuid,
			Parent: previous,
			Message: &Message{
				ID:         uuid,
				Role:       role,
				CreateTime: createTime,
				Parts:      []string{text},
			},
		}
		previous = uuid
	}

	conv.CurrentNode = previous
	return conv
}

// claudeMessageText reads the message text from either the legacy text
// field or the newer content array of text blocks.
func claudeMessageText(msg map[string]any) string {
	if text, _ := msg["text"].(string); text != "" {
		return text
	}
	content, ok := msg["content"].([]any)
	if !ok {
		return ""
	}
	var parts []string
	for _, item := range content {
		if block, ok := item.(map[string]any); ok {
			t, _ := block["text"].(string)
			parts = append(parts, t)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
