package agents

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON returns the first top-level JSON object embedded in s. Sidecar
// responses sometimes wrap the object in prose or markdown fences.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return s[start : end+1], nil
}

// parseContent reads a {"content": "..."} response. When the response is not
// parseable JSON the raw text is returned as-is, matching how drafts are
// salvaged from models that ignore the output format. A parseable object with
// an empty content field returns "" so callers can treat it as a refusal.
func parseContent(response string) string {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return strings.TrimSpace(response)
	}
	var parsed struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return strings.TrimSpace(response)
	}
	return strings.TrimSpace(parsed.Content)
}

// clampScore bounds a model-reported score to the 0-100 scale.
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
