package mind

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON finds the first balanced JSON object in a model reply,
// tolerating markdown fences and prose around it. Returns "" when no
// object is present.
func ExtractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}

// DecodeReply extracts the first JSON object from a reply and decodes
// it into out.
func DecodeReply(response string, out any) error {
	raw := ExtractJSON(response)
	if raw == "" {
		return fmt.Errorf("no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}
