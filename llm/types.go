// Package llm implements the streaming chat transport described in
// spec.md §4.5: staged first-chunk timeouts, SSE parsing, idle/hard-stop
// watchdogs, live sanitization, and abort detection. It makes no
// preflight request before streaming.
package llm

import (
	"time"

	"github.com/loopwire/turnroom/guardrail"
	"github.com/loopwire/turnroom/schema"
)

// Message is the wire-level chat message sent to the provider. It is a
// narrower shape than schema.Message because the provider doesn't know
// about Seq/Recipient/Read.
type Message struct {
	Role       schema.Role       `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []schema.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"` // set when Role == schema.RoleTool
}

// ChunkDeltaKind tags the variant carried by a ChunkDelta, modeling the
// dynamic message shapes (OpenAI vs. provider-native) mentioned in
// spec.md §9 as a single tagged variant rather than two parsers.
type ChunkDeltaKind int

const (
	DeltaContent ChunkDeltaKind = iota
	DeltaReasoning
	DeltaToolCallFragment
	DeltaDone
)

// ChunkDelta is one incremental unit parsed from either wire format.
type ChunkDelta struct {
	Kind  ChunkDeltaKind
	Text  string // for DeltaContent / DeltaReasoning
	Index int    // for DeltaToolCallFragment: which tool call this fragment belongs to
	Name  string // for DeltaToolCallFragment: function name, if present in this fragment
	Args  string // for DeltaToolCallFragment: incremental arguments chunk
}

// AssistantMessage is the result of ChatOnce: one completed hop.
type AssistantMessage struct {
	Content   string
	Reasoning string
	ToolCalls []schema.ToolCall
	Censored  bool
	CutReason string
}

// CallOptions configures one ChatOnce invocation.
type CallOptions struct {
	Model         string
	Temperature   float64
	NumCtx        int
	KeepAlive     string
	Tools         []ToolSpec
	ToolChoice    string // "auto" or ""
	IdleTimeout   time.Duration
	HardStop      time.Duration
	ConnectStages []time.Duration
	OnData        func(delta ChunkDelta) // lease-touch hook, called per chunk
	Detectors     *guardrail.Registry
	DetectContext guardrail.DetectContext
	DisplayReasoning bool
}

// ToolSpec describes one callable tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}
