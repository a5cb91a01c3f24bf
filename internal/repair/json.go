// Package repair implements the AI-assisted recovery layer: the extraction
// fallback, the self-healing pipeline that regenerates parsing configs, and
// the fixed interpreter that applies them. Model output is only ever
// treated as data; every byte crossing the boundary goes through strict
// validation before it is trusted.
package repair

import "strings"

// cleanJSON extracts a JSON object or array from raw model output,
// tolerating fenced code blocks and leading/trailing prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	text = strings.TrimSpace(text)

	// Locate the outermost object or array, whichever starts first.
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndex(text, "]"); end > arrStart {
			return strings.TrimSpace(text[arrStart : end+1])
		}
	}
	if objStart >= 0 {
		if end := strings.LastIndex(text, "}"); end > objStart {
			return strings.TrimSpace(text[objStart : end+1])
		}
	}

	return text
}
