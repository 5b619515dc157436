package extraction

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseResponse pulls a JSON object out of model output, tolerating three
// shapes in priority order: the whole body as JSON, a single block inside a
// markdown code fence, and a block embedded in narrative text located by
// balanced-brace scanning. Returns nil when nothing parses.
func ParseResponse(text string) map[string]any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	var payload map[string]any
	if json.Unmarshal([]byte(trimmed), &payload) == nil {
		return payload
	}

	if m := fencedBlock.FindStringSubmatch(trimmed); m != nil {
		payload = nil
		if json.Unmarshal([]byte(m[1]), &payload) == nil {
			return payload
		}
	}

	if block := balancedBraceBlock(trimmed); block != "" {
		payload = nil
		if json.Unmarshal([]byte(block), &payload) == nil {
			return payload
		}
	}

	return nil
}

// balancedBraceBlock returns the first brace-balanced substring, honoring
// string literals and escapes so braces inside values do not break the scan.
func balancedBraceBlock(text string) string {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			ch := text[i]
			switch {
			case escaped:
				escaped = false
			case ch == '\\' && inString:
				escaped = true
			case ch == '"':
				inString = !inString
			case inString:
			case ch == '{':
				depth++
			case ch == '}':
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}

		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return ""
}
