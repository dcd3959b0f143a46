// Package jsonblock extracts JSON payloads from model output. Models are
// asked for bare JSON but routinely wrap it in markdown fences or prose,
// so extraction tries a fenced block first, then the first balanced
// object in the text.
package jsonblock

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ErrNoJSON is returned when the text contains no JSON object at all.
var ErrNoJSON = fmt.Errorf("no JSON object found")

// Extract returns the raw bytes of the first JSON object in text,
// preferring a fenced ```json block over a bare object.
func Extract(text string) ([]byte, error) {
	if m := fencedRe.FindStringSubmatch(text); m != nil {
		return []byte(m[1]), nil
	}
	if span := balancedObject(text); span != "" {
		return []byte(span), nil
	}
	return nil, ErrNoJSON
}

// Decode extracts the first JSON object in text and unmarshals it into v.
func Decode(text string, v any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding extracted JSON: %w", err)
	}
	return nil
}

// balancedObject returns the first brace-balanced object span in text,
// tracking string literals so braces inside quoted values don't count.
func balancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

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
				return text[start : i+1]
			}
		}
	}
	return ""
}
