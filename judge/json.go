package judge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON parses a JSON object out of free-form LLM output. It tries
// the whole reply first, then the region between the first "{" and the
// last "}". Anything else is a parse failure; callers fail closed.
func ExtractJSON(content string, out any) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("empty content")
	}
	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("no JSON object in content")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), out); err != nil {
		return fmt.Errorf("parse extracted JSON: %w", err)
	}
	return nil
}
