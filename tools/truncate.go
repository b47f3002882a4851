package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultPayloadLimit bounds the tool-result text written into conversation
// history. Events always carry the full result.
const DefaultPayloadLimit = 30000

// Truncate keeps the head and tail of s when it exceeds maxChars, replacing
// the middle with a marker.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	half := maxChars / 2
	removed := len(s) - 2*half
	return s[:half] +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"The full output is available in the event stream.]\n\n", removed) +
		s[len(s)-half:]
}

// TruncateLines keeps the first and last lines of s when it has more than
// maxLines lines.
func TruncateLines(s string, maxLines int) string {
	if maxLines <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - head - tail
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}

// ConversationPayload renders res for the model. A payload over maxChars is
// truncated and wrapped as a JSON string so history stays valid JSON.
func ConversationPayload(res Result, maxChars int) json.RawMessage {
	raw := res.JSON()
	if maxChars <= 0 || len(raw) <= maxChars {
		return raw
	}
	wrapped, err := json.Marshal(Truncate(string(raw), maxChars))
	if err != nil {
		return raw
	}
	return wrapped
}
