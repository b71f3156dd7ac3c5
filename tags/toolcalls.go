package tags

import (
	"encoding/json"
	"strings"

	"github.com/loopwire/turnroom/schema"
)

const toolCallsMarker = `"tool_calls":[`

// rawToolCall mirrors the JSON shape the extractor accepts:
// {type:"function", function:{name:string, arguments:string|object}}.
type rawToolCall struct {
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// ExtractToolCalls scans text for `"tool_calls":[ ... ]` array occurrences,
// balances brackets while respecting string escapes, JSON-decodes each
// array, and strips the matched segment (plus an immediately surrounding
// empty `{}` wrapper, if present) from the returned cleaned text.
//
// cleaned joined with the extracted calls reconstructs a semantically
// equivalent input, modulo the stripped framing.
func ExtractToolCalls(text string) (cleaned string, calls []schema.ToolCall) {
	cleaned = text
	for {
		idx := strings.Index(cleaned, toolCallsMarker)
		if idx < 0 {
			break
		}
		arrStart := idx + len(toolCallsMarker) - 1 // index of the '['
		arrEnd := matchBracket(cleaned, arrStart)
		if arrEnd < 0 {
			break
		}

		var rawArr []rawToolCall
		arrJSON := cleaned[arrStart : arrEnd+1]
		if err := json.Unmarshal([]byte(arrJSON), &rawArr); err != nil {
			// Not actually valid JSON at this position; skip past the
			// marker so we don't loop forever on a false match.
			cleaned = cleaned[:idx] + "\x00" + cleaned[idx+1:]
			continue
		}

		for _, rc := range rawArr {
			if rc.Type != "function" || rc.Function.Name == "" {
				continue
			}
			calls = append(calls, schema.ToolCall{
				ID:        schema.NewID(),
				Name:      rc.Function.Name,
				Arguments: normalizeArgs(rc.Function.Arguments),
			})
		}

		segStart, segEnd := idx, arrEnd+1
		segStart, segEnd = expandSurroundingBraces(cleaned, segStart, segEnd)
		cleaned = cleaned[:segStart] + cleaned[segEnd:]
	}
	cleaned = strings.ReplaceAll(cleaned, "\x00", `"`)
	return strings.TrimSpace(cleaned), calls
}

// normalizeArgs normalizes a tool call's arguments to a string: if the
// raw JSON is already a JSON string, it's unquoted; otherwise the raw
// object/array JSON is kept as-is.
func normalizeArgs(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	return string(raw)
}

// matchBracket returns the index of the '[' at start's matching ']',
// respecting string escapes, or -1 if unbalanced.
func matchBracket(s string, start int) int {
	if start >= len(s) || s[start] != '[' {
		return -1
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
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// expandSurroundingBraces widens [start,end) to also strip an immediately
// surrounding `{}` wrapper when the only content of that object is the
// tool_calls key, e.g. `{"tool_calls":[...]}`.
func expandSurroundingBraces(s string, start, end int) (int, int) {
	// Walk left past the key name and colon to see if we're at the
	// start of an object whose only key is "tool_calls".
	left := start
	for left > 0 && s[left-1] != '{' {
		if s[left-1] != '"' && s[left-1] != ':' && !isIdentChar(s[left-1]) {
			return start, end
		}
		left--
	}
	if left == 0 || s[left-1] != '{' {
		return start, end
	}
	right := end
	for right < len(s) && s[right] != '}' {
		if s[right] != ' ' && s[right] != '\n' && s[right] != '\t' {
			return start, end
		}
		right++
	}
	if right >= len(s) || s[right] != '}' {
		return start, end
	}
	return left - 1, right + 1
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
