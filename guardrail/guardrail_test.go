package guardrail

import "testing"

func TestChainReturnsFirstCut(t *testing.T) {
	never := DetectorFunc{FuncName: "never", Fn: func(string, DetectContext) *Cut { return nil }}
	always := DetectorFunc{FuncName: "always", Fn: func(text string, _ DetectContext) *Cut {
		return &Cut{Index: len(text), Reason: "always"}
	}}

	c := Chain("panel", never, always)
	if c.Name() != "panel" {
		t.Fatalf("Name() = %q, want panel", c.Name())
	}
	cut := c.Check("hello", DetectContext{})
	if cut == nil || cut.Reason != "always" {
		t.Fatalf("expected the second detector's cut to win, got %v", cut)
	}
}

func TestChainPassesWhenNoneFire(t *testing.T) {
	never := DetectorFunc{FuncName: "never", Fn: func(string, DetectContext) *Cut { return nil }}
	c := Chain("panel", never, never)
	if cut := c.Check("hello", DetectContext{}); cut != nil {
		t.Fatalf("expected no cut, got %v", cut)
	}
}

func TestChainNestsInsideRegistry(t *testing.T) {
	always := DetectorFunc{FuncName: "always", Fn: func(text string, _ DetectContext) *Cut {
		return &Cut{Index: 0, Reason: "nested"}
	}}
	nested := Chain("nested-chain", always)
	reg := NewRegistry(nested)

	cut := reg.Run("text", DetectContext{})
	if cut == nil || cut.Reason != "nested" {
		t.Fatalf("expected a chain to fire correctly when nested in a Registry, got %v", cut)
	}
}
