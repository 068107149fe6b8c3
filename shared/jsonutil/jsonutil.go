// Package jsonutil provides common JSON helper functions.
package jsonutil

import (
	"encoding/json"
	"strings"
)

// MustJSON marshals v to a JSON string.
// Returns an empty string on error.
func MustJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// ParseJSON parses a JSON string into a map.
// Returns nil on error.
func ParseJSON(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// MustMarshalIndent marshals v to a pretty-printed JSON string.
// Returns an empty string on error.
func MustMarshalIndent(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

// ExtractObject recovers a JSON object from model output that may be wrapped
// in markdown fences or surrounded by prose. It strips ```json fences, then
// trims the string to the outermost brace pair.
func ExtractObject(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// UnmarshalObject extracts a JSON object from model output and unmarshals it.
func UnmarshalObject(s string, v any) error {
	return json.Unmarshal([]byte(ExtractObject(s)), v)
}
