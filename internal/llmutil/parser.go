// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrEmptyResponse is returned when the model produced no content at all.
	ErrEmptyResponse = errors.New("empty LLM response")
	// ErrInvalidJSON is returned when no JSON value could be decoded from the content.
	ErrInvalidJSON = errors.New("LLM response is not valid JSON")
)

var (
	// \x60 is a backtick; Go raw strings cannot contain one.

	// fencedBlockRegex captures the body of the first fenced block, with any language tag.
	fencedBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z0-9_-]*[ \\t]*\\r?\\n?(.*?)\\s*\x60\x60\x60")
	// openFenceRegex matches a fence that was opened but never closed (truncated output).
	openFenceRegex = regexp.MustCompile("(?s)^\x60\x60\x60[a-zA-Z0-9_-]*[ \\t]*\\r?\\n?(.*)$")
)

// StripCodeFences removes a surrounding markdown code fence, if any.
func StripCodeFences(response string) string {
	response = strings.TrimSpace(response)
	if !strings.Contains(response, "```") {
		return response
	}
	if m := fencedBlockRegex.FindStringSubmatch(response); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if m := openFenceRegex.FindStringSubmatch(response); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return response
}

// ExtractJSON returns the JSON object or array contained in a model response,
// after stripping code fences and any conversational text around it.
func ExtractJSON(response string) (string, error) {
	content := StripCodeFences(response)
	if content == "" {
		return "", ErrEmptyResponse
	}
	if strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[") {
		return content, nil
	}

	// Find the outermost structure within surrounding prose. Objects win over
	// arrays because every response shape is an object.
	if fb, lb := strings.Index(content, "{"), strings.LastIndex(content, "}"); fb != -1 && lb > fb {
		return content[fb : lb+1], nil
	}
	if fb, lb := strings.Index(content, "["), strings.LastIndex(content, "]"); fb != -1 && lb > fb {
		return content[fb : lb+1], nil
	}
	return "", fmt.Errorf("%w: no JSON structure found in response (truncated): %s", ErrInvalidJSON, truncateString(content, 200))
}

// ParseJSONResponse parses an LLM response string into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	jsonStringToParse, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal([]byte(jsonStringToParse), &result); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal LLM JSON response: %v. Extracted JSON (truncated): %s",
			ErrInvalidJSON, err, truncateString(jsonStringToParse, 500))
	}
	return &result, nil
}

// truncateString cuts s to at most maxLen runes.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
