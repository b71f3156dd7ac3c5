package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/loopwire/turnroom/schema"
)

var writtenPathPattern = regexp.MustCompile(`wrote \d+ bytes to (\S+)`)

// Watermarks computes the HIGH/LOW hysteresis watermarks for maxMsgs, per
// spec.md §3: HIGH = max(maxMsgs+6, ceil(1.5*maxMsgs)), LOW = max(floor(0.6*maxMsgs), 6).
func Watermarks(maxMsgs int) (high, low int) {
	ceil15 := (maxMsgs*3 + 1) / 2
	high = maxMsgs + 6
	if ceil15 > high {
		high = ceil15
	}
	low = (maxMsgs * 6) / 10
	if low < 6 {
		low = 6
	}
	return high, low
}

// stripThinkBlocks removes <think>...</think> spans from text before it's
// folded into the SoC sample.
func stripThinkBlocks(text string) string {
	for {
		start := strings.Index(text, "<think>")
		if start < 0 {
			return text
		}
		end := strings.Index(text[start:], "</think>")
		if end < 0 {
			return text[:start]
		}
		text = text[:start] + text[start+end+len("</think>"):]
	}
}

// CompactionSummary bundles the facts a deterministic compaction summary
// reports, per spec.md §4.7 "Context compaction".
type CompactionSummary struct {
	CompactedCount int
	ToolsUsed      []string
	LastCmd        string
	FilesWritten   []string
	RecentHead     []string // last 4 non-system lines of the compacted span, already truncated to 140 chars
}

// BuildSummaryMessage renders the deterministic compaction summary
// message text per spec.md §4.7's exact format.
func BuildSummaryMessage(s CompactionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[summary] Compressed %d earlier turns.\n", s.CompactedCount)
	fmt.Fprintf(&b, "tools_used=%s last_cmd=%s\n", strings.Join(s.ToolsUsed, ","), s.LastCmd)
	fmt.Fprintf(&b, "files_written=%s\n", strings.Join(s.FilesWritten, ","))
	b.WriteString("recent_head:\n")
	for _, line := range s.RecentHead {
		b.WriteString(truncate(line, 140))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// CompactContext applies spec.md §4.7's compaction algorithm to ctx when
// its length exceeds high: it slices the oldest len(ctx)-(low-1) messages
// as head, summarizes them deterministically, and keeps [summary, ...tail],
// further trimming to low+1 if still over.
func CompactContext(ctx []schema.Message, high, low int) []schema.Message {
	if len(ctx) <= high {
		return ctx
	}
	headLen := len(ctx) - (low - 1)
	if headLen < 0 {
		headLen = 0
	}
	if headLen > len(ctx) {
		headLen = len(ctx)
	}
	head := ctx[:headLen]
	tail := ctx[headLen:]

	summary := summarizeHead(head)
	summaryMsg := schema.Message{Role: schema.RoleSystem, Content: BuildSummaryMessage(summary)}

	out := append([]schema.Message{summaryMsg}, tail...)
	if len(out) > low+1 {
		out = append([]schema.Message{out[0]}, out[len(out)-low:]...)
	}
	return out
}

// summarizeHead extracts the facts CompactionSummary needs from a span of
// messages being compacted away: tool names and the last shell command
// from role=tool messages, file paths from write-tool results, and the
// last 4 non-system lines for RecentHead.
func summarizeHead(head []schema.Message) CompactionSummary {
	var s CompactionSummary
	s.CompactedCount = len(head)

	seenTool := make(map[string]bool)
	var nonSystem []string
	for _, m := range head {
		if m.Role == schema.RoleTool {
			if m.ToolName != "" && !seenTool[m.ToolName] {
				seenTool[m.ToolName] = true
				s.ToolsUsed = append(s.ToolsUsed, m.ToolName)
			}
			if m.ToolName == "sh" {
				s.LastCmd = m.Content
			}
			if match := writtenPathPattern.FindStringSubmatch(m.Content); match != nil {
				s.FilesWritten = append(s.FilesWritten, match[1])
			}
		}
		if m.Role != schema.RoleSystem {
			nonSystem = append(nonSystem, m.Content)
		}
	}
	start := 0
	if len(nonSystem) > 4 {
		start = len(nonSystem) - 4
	}
	s.RecentHead = nonSystem[start:]
	return s
}
