// Package agent implements the Agent described in spec.md §3: identity,
// model id, a rolling context bounded by hysteresis watermarks, an unread
// inbox, a capped stream-of-consciousness accumulator, audience state,
// and a turn counter. Grounded on the teacher's agentcore.Agent (a
// stateful wrapper holding messages/tools/turn state behind a mutex),
// narrowed to the fields spec.md's TurnEngine actually reads.
package agent

import (
	"sync"

	"github.com/loopwire/turnroom/schema"
)

const socCap = 50 * 1024

// AudienceKind is the delivery target an agent's last turn should reach.
type AudienceKind int

const (
	AudienceGroup AudienceKind = iota
	AudienceDirect
	AudienceFile
)

// Audience is the resolved delivery target for one turn's output.
type Audience struct {
	Kind   AudienceKind
	Target string // agent id for Direct, path for File
}

// Agent is the per-agent state the turn engine mutates across turns.
// Safe for concurrent use; the turn engine serializes access to a given
// agent's turn under the ChannelLock, but Deliver (inbox append) can race
// with an in-progress turn so the inbox itself stays mutex-guarded.
type Agent struct {
	id      string
	model   string
	systemPrompt string

	mu        sync.Mutex
	context   []schema.Message
	unread    []schema.Message
	soc       string
	audience  Audience
	turnCount int
	lastSummaryTurn int
}

// New builds an Agent with an empty context and inbox.
func New(id, model, systemPrompt string) *Agent {
	return &Agent{
		id:           id,
		model:        model,
		systemPrompt: systemPrompt,
		audience:     Audience{Kind: AudienceGroup},
	}
}

func (a *Agent) ID() string    { return a.id }
func (a *Agent) Model() string { return a.model }
func (a *Agent) SystemPrompt() string { return a.systemPrompt }

// Deliver implements chatroom.Recipient: incoming room messages are
// enqueued as unread, never processed synchronously from the room's
// goroutine.
func (a *Agent) Deliver(msg schema.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unread = append(a.unread, msg)
}

// HasUnread reports whether the inbox is non-empty, one of the turn
// manager's eligibility conditions (spec.md §4.8).
func (a *Agent) HasUnread() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.unread) > 0
}

// DrainUnread empties and returns the inbox in arrival order.
func (a *Agent) DrainUnread() []schema.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.unread) == 0 {
		return nil
	}
	drained := a.unread
	a.unread = nil
	return drained
}

// Context returns a copy of the rolling context.
func (a *Agent) Context() []schema.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]schema.Message, len(a.context))
	copy(out, a.context)
	return out
}

// AppendContext appends messages produced by a turn to the rolling
// context.
func (a *Agent) AppendContext(msgs ...schema.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.context = append(a.context, msgs...)
}

// ReplaceContext swaps the rolling context wholesale, used by
// compaction.
func (a *Agent) ReplaceContext(msgs []schema.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.context = msgs
}

// ContextLen reports the current context length under lock.
func (a *Agent) ContextLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.context)
}

// TurnCount returns the number of turns run so far.
func (a *Agent) TurnCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turnCount
}

// IncrementTurn bumps the turn counter, called once per completed turn.
func (a *Agent) IncrementTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turnCount++
}

// TurnsSinceSummary reports how many turns have elapsed since the last
// compaction summary, gating spec.md §4.7 step 4's "at least 2 turns
// since the last summary" condition.
func (a *Agent) TurnsSinceSummary() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turnCount - a.lastSummaryTurn
}

// MarkSummarized records the current turn as the most recent summary
// point.
func (a *Agent) MarkSummarized() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSummaryTurn = a.turnCount
}

// Audience returns the current delivery target.
func (a *Agent) Audience() Audience {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.audience
}

// SetAudience updates the delivery target, set by tag processing during
// a turn.
func (a *Agent) SetAudience(aud Audience) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audience = aud
}

// AppendSoC appends text to the rolling stream-of-consciousness sample,
// capped at 50KB (spec.md §3), dropping the oldest bytes on overflow.
// <think>...</think> blocks are stripped before appending, since the SoC
// sample is used for repetition/novelty comparisons against plain output.
func (a *Agent) AppendSoC(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	stripped := stripThinkBlocks(text)
	a.soc += stripped
	if len(a.soc) > socCap {
		a.soc = a.soc[len(a.soc)-socCap:]
	}
}

// SoC returns the current stream-of-consciousness sample.
func (a *Agent) SoC() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.soc
}
