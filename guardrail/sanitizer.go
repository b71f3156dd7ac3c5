package guardrail

import "regexp"

const placeholder = "[redacted]"

// fencePattern matches a code-fence delimiter line; we only need to count
// occurrences to track parity, not parse the fence body.
var fencePattern = regexp.MustCompile("```")

// Sanitizer runs per stream chunk, replacing meta tokens with a single
// placeholder when outside a code fence. Fence parity is tracked across
// chunks by counting the ``` markers in everything accumulated before the
// chunk: an odd count means the chunk starts inside a fence.
type Sanitizer struct {
	// accumulated holds all chunks sanitized so far, used only to compute
	// fence parity; sanitized output is still emitted incrementally.
	accumulated string
}

// NewSanitizer returns a Sanitizer with empty fence-tracking state.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize processes one chunk and returns the sanitized chunk. It must
// be called with chunks in stream order.
func (s *Sanitizer) Sanitize(chunk string) string {
	out := sanitizeAtOffset(chunk, s.accumulated)
	s.accumulated += chunk
	return out
}

// sanitizeAtOffset replaces meta tokens in chunk that fall outside a code
// fence, given everything already accumulated before it (for parity).
func sanitizeAtOffset(chunk, before string) string {
	fenceCountBefore := len(fencePattern.FindAllStringIndex(before, -1))
	inFence := fenceCountBefore%2 == 1

	var out []byte
	cursor := 0
	for cursor < len(chunk) {
		rest := chunk[cursor:]
		if loc := fencePattern.FindStringIndex(rest); loc != nil && loc[0] == 0 {
			out = append(out, rest[:3]...)
			cursor += 3
			inFence = !inFence
			continue
		}
		nextFence := fencePattern.FindStringIndex(rest)
		segEnd := len(rest)
		if nextFence != nil {
			segEnd = nextFence[0]
		}
		segment := rest[:segEnd]
		if inFence {
			out = append(out, segment...)
		} else {
			out = append(out, []byte(metaTagPattern.ReplaceAllString(segment, placeholder))...)
		}
		cursor += segEnd
	}
	return string(out)
}

// insideFenceAt reports whether position pos in text sits inside a code
// fence, counting ``` occurrences before pos.
func insideFenceAt(text string, pos int) bool {
	if pos > len(text) {
		pos = len(text)
	}
	count := len(fencePattern.FindAllStringIndex(text[:pos], -1))
	return count%2 == 1
}

// firstMatchOutsideFence returns the byte index of the first match of re
// in text that does not sit inside a code fence, or -1 if none.
func firstMatchOutsideFence(text string, re *regexp.Regexp) int {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if !insideFenceAt(text, loc[0]) {
			return loc[0]
		}
	}
	return -1
}
