package guardrail

import (
	"regexp"
	"strings"
)

// metaTagPattern matches control/meta markers such as <|start|>,
// <|assistant|>, <channel|commentary ...> that must never leak into a
// delivered message.
var metaTagPattern = regexp.MustCompile(`<\|[a-zA-Z_]+\|>|<channel\|[^>]*>`)

// MetaTagLeak fires when a control/meta marker appears outside a code
// fence. Code-fence parity is tracked the same way the sanitizer tracks
// it: an odd number of ``` seen so far means "currently inside a fence".
func MetaTagLeak() Detector {
	return DetectorFunc{
		FuncName: "meta_tag_leak",
		Fn: func(text string, _ DetectContext) *Cut {
			loc := firstMatchOutsideFence(text, metaTagPattern)
			if loc < 0 {
				return nil
			}
			return &Cut{Index: loc, Reason: "meta_tag_leak"}
		},
	}
}

// AgentQuote fires when a line starts with another known agent's name
// followed by ":" — role-forgery, the assistant impersonating a peer.
func AgentQuote() Detector {
	return DetectorFunc{
		FuncName: "agent_quote",
		Fn: func(text string, ctx DetectContext) *Cut {
			for _, name := range ctx.KnownAgents {
				prefix := name + ":"
				idx := 0
				for _, line := range strings.Split(text, "\n") {
					trimmed := strings.TrimSpace(line)
					if strings.HasPrefix(trimmed, prefix) {
						return &Cut{Index: idx, Reason: "agent_quote:" + name}
					}
					idx += len(line) + 1
				}
			}
			return nil
		},
	}
}

// ToolEchoFlood fires when the assistant text contains more than maxCount
// occurrences of the literal `"tool_calls":[` marker, a sign the model is
// echoing raw protocol framing instead of producing content.
func ToolEchoFlood(maxCount int) Detector {
	const marker = `"tool_calls":[`
	return DetectorFunc{
		FuncName: "tool_echo_flood",
		Fn: func(text string, _ DetectContext) *Cut {
			count := strings.Count(text, marker)
			if count <= maxCount {
				return nil
			}
			idx := nthIndex(text, marker, maxCount+1)
			return &Cut{Index: idx, Reason: "tool_echo_flood"}
		},
	}
}

// Repetition fires when the last W tokens repeat at least K times in a
// row, or when the novelty ratio (unique tokens / total tokens) drops
// below threshold beyond a minimum length — either is a loop indicator.
func Repetition(tailWindow, minRepeats int, noveltyThreshold float64, minLen int) Detector {
	return DetectorFunc{
		FuncName: "repetition",
		Fn: func(text string, _ DetectContext) *Cut {
			tokens := strings.Fields(text)
			if len(tokens) < tailWindow*minRepeats {
				return noveltyCut(tokens, text, noveltyThreshold, minLen)
			}
			tail := tokens[len(tokens)-tailWindow:]
			tailStr := strings.Join(tail, " ")
			repeats := 1
			cursor := len(tokens) - tailWindow
			for cursor-tailWindow >= 0 {
				prev := strings.Join(tokens[cursor-tailWindow:cursor], " ")
				if prev != tailStr {
					break
				}
				repeats++
				cursor -= tailWindow
			}
			if repeats >= minRepeats {
				idx := firstRuneIndexOfToken(text, tokens, cursor)
				return &Cut{Index: idx, Reason: "repetition"}
			}
			return noveltyCut(tokens, text, noveltyThreshold, minLen)
		},
	}
}

func noveltyCut(tokens []string, text string, threshold float64, minLen int) *Cut {
	if len(tokens) < minLen {
		return nil
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		seen[t] = struct{}{}
	}
	ratio := float64(len(seen)) / float64(len(tokens))
	if ratio >= threshold {
		return nil
	}
	return &Cut{Index: len(text), Reason: "low_novelty"}
}

// CrossTurnRepetition fires when the tail n-gram of the current text
// already appears in the agent's rolling stream-of-consciousness sample,
// or when the overlap between the two exceeds threshold.
func CrossTurnRepetition(tailWindow int, overlapThreshold float64) Detector {
	return DetectorFunc{
		FuncName: "cross_turn_repetition",
		Fn: func(text string, ctx DetectContext) *Cut {
			if ctx.SoC == "" {
				return nil
			}
			tokens := strings.Fields(text)
			if len(tokens) < tailWindow {
				return nil
			}
			tail := strings.Join(tokens[len(tokens)-tailWindow:], " ")
			if strings.Contains(ctx.SoC, tail) {
				return &Cut{Index: len(text), Reason: "cross_turn_repetition"}
			}
			if overlapRatio(tokens, ctx.SoC) >= overlapThreshold {
				return &Cut{Index: len(text), Reason: "cross_turn_novelty"}
			}
			return nil
		},
	}
}

func overlapRatio(tokens []string, soc string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	socTokens := make(map[string]struct{})
	for _, t := range strings.Fields(soc) {
		socTokens[t] = struct{}{}
	}
	overlap := 0
	for _, t := range tokens {
		if _, ok := socTokens[t]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(tokens))
}

// MaxLength fires once content exceeds capChars, cutting exactly at the
// cap.
func MaxLength(capChars int) Detector {
	return DetectorFunc{
		FuncName: "max_length",
		Fn: func(text string, _ DetectContext) *Cut {
			if len(text) <= capChars {
				return nil
			}
			return &Cut{Index: capChars, Reason: "max_length"}
		},
	}
}

// spiralPhrases are known degenerate-loop openers seen in the wild —
// phrases a model repeats verbatim once it starts spiraling.
var spiralPhrases = []string{
	"I apologize for the confusion",
	"Let me try again",
	"I understand your frustration",
}

// SpiralPhrase fires when a line starts with one of the known spiral
// phrases.
func SpiralPhrase() Detector {
	return DetectorFunc{
		FuncName: "spiral_phrase",
		Fn: func(text string, _ DetectContext) *Cut {
			idx := 0
			for _, line := range strings.Split(text, "\n") {
				trimmed := strings.TrimSpace(line)
				for _, phrase := range spiralPhrases {
					if strings.HasPrefix(trimmed, phrase) {
						return &Cut{Index: idx, Reason: "spiral_phrase"}
					}
				}
				idx += len(line) + 1
			}
			return nil
		},
	}
}

// Default returns the default detector panel used when the caller's
// registry is empty, per spec.md §4.7 step 4.
func Default() *Registry {
	return NewRegistry(
		MetaTagLeak(),
		AgentQuote(),
		ToolEchoFlood(8),
		Repetition(6, 3, 0.3, 40),
		CrossTurnRepetition(8, 0.85),
		MaxLength(50_000),
		SpiralPhrase(),
	)
}

func nthIndex(s, substr string, n int) int {
	idx := -1
	start := 0
	for i := 0; i < n; i++ {
		rel := strings.Index(s[start:], substr)
		if rel < 0 {
			return len(s)
		}
		idx = start + rel
		start = idx + len(substr)
	}
	return idx
}

func firstRuneIndexOfToken(text string, tokens []string, tokenIdx int) int {
	if tokenIdx <= 0 {
		return 0
	}
	// Reconstruct an approximate byte offset by rejoining the prefix and
	// measuring its length; good enough since Fields collapses whitespace
	// runs uniformly and we only need a truncation point.
	prefix := strings.Join(tokens[:tokenIdx], " ")
	if len(prefix) > len(text) {
		return len(text)
	}
	return len(prefix)
}
