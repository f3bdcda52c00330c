package llm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	fenceOpen  = regexp.MustCompile("^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

// StripFences removes markdown code fencing the model sometimes wraps
// around JSON replies.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ParseJSON decodes an extractor reply into a generic map. It returns
// ok=false when the reply is not a JSON object, which callers treat as a
// natural-language clarifying question rather than an error. Missing keys
// come back as absent map entries, never as zero values.
func ParseJSON(raw string) (map[string]any, bool) {
	clean := StripFences(raw)
	if !strings.HasPrefix(clean, "{") {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil, false
	}
	return out, true
}

// GetString reads a string field from a parsed reply, tolerating absence.
func GetString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// GetInt reads an integer field, accepting JSON numbers and numeric
// strings (models emit both).
func GetInt(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}

// GetFloat reads a float field.
func GetFloat(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// GetStringSlice reads a list-of-strings field, dropping non-string and
// blank entries.
func GetStringSlice(m map[string]any, key string) ([]string, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
