// Package guardrail implements the pluggable AbortDetector panel described
// in spec.md §4.3: a chain of checks run against accumulating assistant
// text during a stream, the first match truncating the stream and
// recording why.
package guardrail

// DetectContext carries the extra state a detector may need beyond the
// raw accumulated text.
type DetectContext struct {
	RecentMessages []string // short rolling window of recent turn content
	KnownAgents    []string // agent names other than the speaker, for AgentQuote
	SoC            string   // this agent's rolling stream-of-consciousness sample
}

// Cut is the result of a detector firing: the stream is truncated at
// Index and Reason is recorded on the assistant message.
type Cut struct {
	Index  int
	Reason string
}

// Detector checks accumulating assistant text and returns a non-nil Cut
// the first time it decides the stream should stop.
type Detector interface {
	Name() string
	Check(text string, ctx DetectContext) *Cut
}

// DetectorFunc adapts a plain function to the Detector interface.
type DetectorFunc struct {
	FuncName string
	Fn       func(text string, ctx DetectContext) *Cut
}

func (d DetectorFunc) Name() string { return d.FuncName }

func (d DetectorFunc) Check(text string, ctx DetectContext) *Cut {
	return d.Fn(text, ctx)
}

// Registry is an ordered panel of detectors run in sequence; the first
// match wins.
type Registry struct {
	detectors []Detector
}

// NewRegistry builds a Registry from the given detectors, run in order.
func NewRegistry(detectors ...Detector) *Registry {
	return &Registry{detectors: detectors}
}

// Empty reports whether the registry has no detectors registered, so
// callers can fall back to the Default() panel per spec.md §4.7 step 4.
func (r *Registry) Empty() bool {
	return r == nil || len(r.detectors) == 0
}

// Run checks text against every registered detector in order and returns
// the first Cut, or nil if none fired.
func (r *Registry) Run(text string, ctx DetectContext) *Cut {
	if r == nil {
		return nil
	}
	for _, d := range r.detectors {
		if cut := d.Check(text, ctx); cut != nil {
			return cut
		}
	}
	return nil
}

// Add appends a detector to the registry.
func (r *Registry) Add(d Detector) {
	r.detectors = append(r.detectors, d)
}

// Chain combines multiple detectors into a single named Detector that
// runs them in order and returns the first Cut, the same way the
// teacher's InputChain/OutputChain combinators fold several guardrails
// into one. Unlike Registry, a Chain is itself a Detector, so it can be
// nested inside another Registry or Chain to build a custom panel.
func Chain(name string, detectors ...Detector) Detector {
	return DetectorFunc{
		FuncName: name,
		Fn: func(text string, ctx DetectContext) *Cut {
			for _, d := range detectors {
				if cut := d.Check(text, ctx); cut != nil {
					return cut
				}
			}
			return nil
		},
	}
}
