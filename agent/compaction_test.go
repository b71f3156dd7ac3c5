package agent

import (
	"strings"
	"testing"

	"github.com/loopwire/turnroom/schema"
)

func TestWatermarks(t *testing.T) {
	high, low := Watermarks(40)
	if high != 60 { // ceil(1.5*40) = 60 > 40+6
		t.Fatalf("high = %d, want 60", high)
	}
	if low != 24 { // floor(0.6*40) = 24
		t.Fatalf("low = %d, want 24", low)
	}

	high, low = Watermarks(6)
	if high != 12 { // max(6+6, ceil(9)) = 12
		t.Fatalf("high = %d, want 12", high)
	}
	if low != 6 { // floor(3.6)=3, floored to the 6 minimum
		t.Fatalf("low = %d, want 6", low)
	}
}

func TestCompactContextBelowHighIsNoop(t *testing.T) {
	ctx := []schema.Message{
		{Role: schema.RoleUser, Content: "a"},
		{Role: schema.RoleAssistant, Content: "b"},
	}
	high, low := 40, 20
	out := CompactContext(ctx, high, low)
	if len(out) != len(ctx) {
		t.Fatalf("expected no-op below HIGH, got len %d", len(out))
	}
}

func TestCompactContextBoundsAboveHigh(t *testing.T) {
	var ctx []schema.Message
	for i := 0; i < 50; i++ {
		ctx = append(ctx, schema.Message{Role: schema.RoleUser, Content: "msg"})
	}
	high, low := Watermarks(20) // high=30, low=12
	out := CompactContext(ctx, high, low)

	if len(out) > low+1 {
		t.Fatalf("compacted context len %d exceeds LOW+1=%d", len(out), low+1)
	}
	if out[0].Role != schema.RoleSystem || !strings.HasPrefix(out[0].Content, "[summary]") {
		t.Fatalf("expected a leading summary message, got %+v", out[0])
	}
}

func TestBuildSummaryMessageFormat(t *testing.T) {
	s := CompactionSummary{
		CompactedCount: 5,
		ToolsUsed:      []string{"sh", "write"},
		LastCmd:        "echo hi",
		FilesWritten:   []string{"out.txt"},
		RecentHead:     []string{"line one", "line two"},
	}
	msg := BuildSummaryMessage(s)
	want := "[summary] Compressed 5 earlier turns.\ntools_used=sh,write last_cmd=echo hi\nfiles_written=out.txt\nrecent_head:\nline one\nline two"
	if msg != want {
		t.Fatalf("summary message mismatch:\ngot:  %q\nwant: %q", msg, want)
	}
}

func TestAppendSoCBounded(t *testing.T) {
	a := New("alice", "gpt", "be helpful")
	chunk := strings.Repeat("x", 1024)
	for i := 0; i < 100; i++ {
		a.AppendSoC(chunk)
	}
	if len(a.SoC()) > socCap {
		t.Fatalf("SoC length %d exceeds cap %d", len(a.SoC()), socCap)
	}
}

func TestAppendSoCStripsThinkBlocks(t *testing.T) {
	a := New("alice", "gpt", "be helpful")
	a.AppendSoC("before <think>secret plan</think> after")
	if strings.Contains(a.SoC(), "secret plan") {
		t.Fatalf("expected <think> block stripped, got %q", a.SoC())
	}
}
