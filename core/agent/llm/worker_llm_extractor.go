package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

var errNoJSONObject = errors.New("no JSON object in model output")

// decodeJSONObject parses model output that should be a JSON object. Code
// fences and prose around the outermost braces are tolerated.
func decodeJSONObject(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return errNoJSONObject
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to parse model output: %w", err)
	}
	return nil
}

// truncateBody caps text sent to the model.
func truncateBody(body string, maxLen int) string {
	if len(body) <= maxLen {
		return body
	}
	return body[:maxLen] + "..."
}
