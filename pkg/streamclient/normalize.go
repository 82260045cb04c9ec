package streamclient

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	newlineRun  = regexp.MustCompile(`\n{3,}`)
)

// CollapseNewlines folds CRLF and bare CR line endings to LF, then replaces
// every run of three or more newlines with exactly two. The display form of
// a growing text is always a prefix of the display form of its
// continuation, including when a CRLF pair is split across fragments.
func CollapseNewlines(s string) string {
	return newlineRun.ReplaceAllString(lineEndings.Replace(s), "\n\n")
}

// ParseValue opportunistically decodes a JSON-encoded string into a
// structured value. Non-string values are returned as is, and strings that
// are not valid JSON are returned unchanged so truncated output stays
// visible as text.
func ParseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}

	var out any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return s
	}
	return out
}
