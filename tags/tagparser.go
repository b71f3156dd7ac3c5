// Package tags implements the TagParser and ToolCallExtractor described
// in spec.md §4.4: `@llm:<name>` / `@<name>` agent tags, `#file:<path>`
// file tags, and embedded `"tool_calls":[...]` JSON blocks.
package tags

import (
	"regexp"
	"strings"
)

// Kind distinguishes the two tag grammars.
type Kind int

const (
	KindAgent Kind = iota
	KindFile
)

// Tag is one parsed tag with the content span that follows it, up to the
// next tag or end of input.
type Tag struct {
	Kind    Kind
	Target  string // agent name or file path
	Content string
}

// tagPattern matches either `@llm:<name>`, `@<name>`, or `#file:<path>`.
// Agent names and paths are greedy up to the next whitespace.
var tagPattern = regexp.MustCompile(`@llm:([^\s]+)|@([^\s]+)|#file:([^\s]+)`)

// Parse strips tag tokens from input and returns the cleaned text plus
// the ordered list of tags with their content spans. Idempotent on input
// with no tags: Parse(Parse(x).Cleaned) == Parse(x) when x has no tags.
func Parse(input string) (cleaned string, found []Tag) {
	matches := tagPattern.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input, nil
	}

	type rawTag struct {
		kind       Kind
		target     string
		start, end int // byte span of the tag token itself
	}
	raws := make([]rawTag, 0, len(matches))
	for _, m := range matches {
		switch {
		case m[2] >= 0: // @llm:<name>
			raws = append(raws, rawTag{KindAgent, input[m[2]:m[3]], m[0], m[1]})
		case m[4] >= 0: // @<name>
			raws = append(raws, rawTag{KindAgent, input[m[4]:m[5]], m[0], m[1]})
		case m[6] >= 0: // #file:<path>
			raws = append(raws, rawTag{KindFile, input[m[6]:m[7]], m[0], m[1]})
		}
	}

	found = make([]Tag, len(raws))
	for i, r := range raws {
		contentStart := r.end
		contentEnd := len(input)
		if i+1 < len(raws) {
			contentEnd = raws[i+1].start
		}
		found[i] = Tag{
			Kind:    r.kind,
			Target:  r.target,
			Content: strings.TrimSpace(input[contentStart:contentEnd]),
		}
	}

	var b strings.Builder
	cursor := 0
	for _, r := range raws {
		b.WriteString(input[cursor:r.start])
		cursor = r.end
	}
	b.WriteString(input[cursor:])
	cleaned = strings.TrimSpace(b.String())

	return cleaned, found
}
