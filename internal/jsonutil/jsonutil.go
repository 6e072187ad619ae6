// Package jsonutil extracts machine-readable JSON from LLM output that may
// be wrapped in prose, markdown fences, or trailing commentary.
package jsonutil

import (
	"encoding/json"
	"strings"
)

// ExtractObject finds the first balanced JSON object anywhere in the text
// and unmarshals it into a map. Returns (nil, false) when no parseable
// object exists. Brace balancing ignores braces inside string literals.
func ExtractObject(text string) (map[string]any, bool) {
	raw, ok := ExtractRawObject(text)
	if !ok {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, false
	}
	return m, true
}

// ExtractRawObject returns the first balanced {...} substring of the text.
func ExtractRawObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end, ok := matchBraces(text, start); ok {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start = start + 1 + next
	}
	return "", false
}

// matchBraces returns the index of the brace closing the object opened at
// start, skipping string literals and escapes.
func matchBraces(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return i, true
			}
		}
	}
	return 0, false
}
