package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// streamMessage is one NDJSON line of the claude CLI's stream-json
// output. Only the fields the launcher consumes are declared.
type streamMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Message *struct {
		Content []contentBlock `json:"content"`
	} `json:"message,omitempty"`
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Usage   *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

type contentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// projectEntries maps one stream message to the log entries it carries.
// A system init yields one system entry; an assistant message yields one
// entry per content block; a result message yields a result or error
// entry with the final text.
func projectEntries(msg streamMessage) []ProcessLogEntry {
	switch msg.Type {
	case "system":
		label := msg.Subtype
		if label == "" {
			label = "system"
		}
		return []ProcessLogEntry{{Type: EntrySystem, Content: label}}
	case "assistant", "user":
		if msg.Message == nil {
			return nil
		}
		var entries []ProcessLogEntry
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				entries = append(entries, ProcessLogEntry{Type: EntryText, Content: block.Text})
			case "thinking":
				entries = append(entries, ProcessLogEntry{Type: EntryThinking, Content: block.Thinking})
			case "tool_use":
				entries = append(entries, ProcessLogEntry{Type: EntryToolUse, Content: block.Name})
			case "tool_result":
				entries = append(entries, ProcessLogEntry{Type: EntryToolResult, Content: flattenToolResult(block.Content)})
			}
		}
		return entries
	case "result":
		if msg.IsError {
			return []ProcessLogEntry{{Type: EntryError, Content: msg.Result}}
		}
		return []ProcessLogEntry{{Type: EntryResult, Content: msg.Result}}
	default:
		return nil
	}
}

// flattenToolResult renders a tool_result content field, which may be a
// bare string or a block list, as plain text.
func flattenToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			sb.WriteString(b.Text)
		}
		return sb.String()
	}
	return string(raw)
}

// encodeUserMessage renders a user message as one stream-json input line.
func encodeUserMessage(text string) ([]byte, error) {
	line := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		},
	}
	data, err := json.Marshal(line)
	if err != nil {
		return nil, fmt.Errorf("encode user message: %w", err)
	}
	return append(data, '\n'), nil
}
