// Package parser validates and extracts structured data from model output.
//
// Model responses arrive as raw text that may wrap one JSON object in prose
// and may be truncated mid-stream by a length limit. The extraction pass
// classifies failures so callers can tell "output was cut off" (retriable
// with a shorter prompt) apart from "output is genuinely invalid JSON".
package parser

import (
	"errors"
	"fmt"
	"strings"

	"taskforge/internal/jsonx"
)

// Classification errors, ordered by detection: truncation checks run before
// any structural parse is attempted.
var (
	// ErrNoJSON indicates the text contains no candidate object at all.
	ErrNoJSON = errors.New("no JSON object found")

	// ErrTruncatedString indicates the candidate ends inside a quoted
	// string, the signature of a response cut off by a length limit.
	ErrTruncatedString = errors.New("truncated inside string")

	// ErrUnbalancedBraces indicates the candidate ends with unclosed
	// braces, also a truncation signature.
	ErrUnbalancedBraces = errors.New("unbalanced braces")

	// ErrMalformedJSON indicates the candidate is complete but does not
	// parse as JSON.
	ErrMalformedJSON = errors.New("malformed JSON")
)

// Truncated reports whether err is one of the truncation classifications.
func Truncated(err error) bool {
	return errors.Is(err, ErrTruncatedString) || errors.Is(err, ErrUnbalancedBraces)
}

// Extract locates the JSON object embedded in text and unmarshals it.
// The scan is pure, so extraction is idempotent: the same text always yields
// the same outcome.
func Extract(text string) (map[string]any, error) {
	candidate, err := candidateObject(text)
	if err != nil {
		return nil, err
	}

	if err := scanBalance(candidate); err != nil {
		return nil, err
	}

	var result map[string]any
	if err := jsonx.Unmarshal([]byte(candidate), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return result, nil
}

// candidateObject slices text from the first '{' to the last '}'. A first
// brace without any closing brace is still a candidate: the balance scan is
// what classifies it as truncated.
func candidateObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", ErrNoJSON
	}
	end := strings.LastIndexByte(text, '}')
	if end < start {
		// No closing brace after the opener; scan the tail as-is.
		return text[start:], nil
	}
	return text[start : end+1], nil
}

// scanBalance walks the candidate byte by byte, tracking whether the cursor
// is inside a quoted string (honoring backslash escapes) and a brace depth
// counter that ignores braces inside strings.
func scanBalance(candidate string) error {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(candidate); i++ {
		c := candidate[i]
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
		}
	}

	if inString {
		return ErrTruncatedString
	}
	if depth != 0 {
		return ErrUnbalancedBraces
	}
	return nil
}
