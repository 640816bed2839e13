// Package ai recovers structured output from model responses. Models asked
// for a JSON object still wrap it in code fences or prose often enough that
// a tolerant extraction pass is required before parsing.
package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kylenessen/monarch-phenology-inaturalist/internal/domain"
)

// RecoverObject turns the raw content value of a chat completion into a
// JSON object. Content that is already an object is accepted as-is; a JSON
// string is decoded and run through text recovery: direct parse, then code
// fence stripping, then a string-aware balanced-brace scan. Anything that
// does not end in an object fails with domain.ErrModelOutputInvalid.
func RecoverObject(content json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("op=ai.RecoverObject: empty content: %w", domain.ErrModelOutputInvalid)
	}
	if isObject(trimmed) {
		return json.RawMessage(trimmed), nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("op=ai.RecoverObject: %w: %w", domain.ErrModelOutputInvalid, err)
		}
		return RecoverObjectText(text)
	}
	return nil, fmt.Errorf("op=ai.RecoverObject: content is %q-leading, not an object: %w", string(trimmed[:1]), domain.ErrModelOutputInvalid)
}

// RecoverObjectText recovers a JSON object from free-form model text.
func RecoverObjectText(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if isObject([]byte(s)) {
		return json.RawMessage(s), nil
	}

	s = strings.TrimSpace(stripCodeFences(s))
	if isObject([]byte(s)) {
		return json.RawMessage(s), nil
	}

	if sub, ok := extractBalancedObject(s); ok && isObject([]byte(sub)) {
		return json.RawMessage(sub), nil
	}
	return nil, fmt.Errorf("op=ai.RecoverObjectText: no JSON object found: %w", domain.ErrModelOutputInvalid)
}

// isObject reports whether b parses as a JSON object.
func isObject(b []byte) bool {
	var v any
	if json.Unmarshal(b, &v) != nil {
		return false
	}
	_, ok := v.(map[string]any)
	return ok
}

// stripCodeFences returns the body of the first triple-backtick block,
// dropping an optional language tag on the opening line. Input without
// fences passes through unchanged.
func stripCodeFences(s string) string {
	open := strings.Index(s, "```")
	if open == -1 {
		return s
	}
	rest := s[open+3:]
	// Language tag, e.g. "json", runs to the end of the opening line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		if firstLine := strings.TrimSpace(rest[:nl]); !strings.ContainsAny(firstLine, "{}") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// extractBalancedObject scans for the first '{' and returns the substring
// through its matching '}'. Braces inside string literals are ignored and
// escape sequences are tracked, so values like "{a\"}" do not unbalance
// the scan.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
