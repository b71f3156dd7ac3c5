package tags

import (
	"strings"
	"testing"
)

func TestParseNoTagsIsIdentity(t *testing.T) {
	input := "hello world, nothing to tag here"
	cleaned, found := Parse(input)
	if cleaned != input {
		t.Fatalf("cleaned = %q, want identity %q", cleaned, input)
	}
	if found != nil {
		t.Fatalf("expected no tags found, got %v", found)
	}
}

func TestParseIdempotentOnTagFreeOutput(t *testing.T) {
	input := "@alice please take a look #file:plan.md do the thing"
	cleaned, found := Parse(input)
	if len(found) == 0 {
		t.Fatal("expected tags in first pass")
	}

	cleaned2, found2 := Parse(cleaned)
	if cleaned2 != cleaned {
		t.Fatalf("second pass not idempotent: %q != %q", cleaned2, cleaned)
	}
	if found2 != nil {
		t.Fatalf("second pass found tags in already-cleaned text: %v", found2)
	}
}

func TestParseAgentAndFileTags(t *testing.T) {
	input := "@alice please review #file:plan.md do the thing"
	cleaned, found := Parse(input)

	if len(found) != 2 {
		t.Fatalf("expected 2 tags, got %d: %v", len(found), found)
	}
	if found[0].Kind != KindAgent || found[0].Target != "alice" {
		t.Fatalf("tag[0] = %+v, want agent/alice", found[0])
	}
	if found[0].Content != "please review" {
		t.Fatalf("tag[0].Content = %q, want %q", found[0].Content, "please review")
	}
	if found[1].Kind != KindFile || found[1].Target != "plan.md" {
		t.Fatalf("tag[1] = %+v, want file/plan.md", found[1])
	}
	if found[1].Content != "do the thing" {
		t.Fatalf("tag[1].Content = %q, want %q", found[1].Content, "do the thing")
	}
	if strings.Contains(cleaned, "@alice") || strings.Contains(cleaned, "#file:") {
		t.Fatalf("cleaned text still contains a tag token: %q", cleaned)
	}
}

func TestParseLlmPrefixedTag(t *testing.T) {
	_, found := Parse("@llm:bob take over")
	if len(found) != 1 || found[0].Kind != KindAgent || found[0].Target != "bob" {
		t.Fatalf("expected a single agent tag targeting bob, got %v", found)
	}
}
