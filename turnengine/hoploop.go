package turnengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/loopwire/turnroom/agent"
	"github.com/loopwire/turnroom/guardrail"
	"github.com/loopwire/turnroom/llm"
	"github.com/loopwire/turnroom/runtime"
	"github.com/loopwire/turnroom/schema"
	"github.com/loopwire/turnroom/tags"
	"github.com/loopwire/turnroom/toolexec"
)

// HopResult aggregates what the multi-hop loop produced over one turn.
type HopResult struct {
	Produced      []schema.Message
	AggregateText string
	WroteFile     bool
}

// signatureFIFO is a fixed-capacity ring used for cross-hop tool-call
// dedup (spec.md §4.7's "last 6 signatures" breaker).
type signatureFIFO struct {
	slots []string
	cap   int
}

func newSignatureFIFO(cap int) *signatureFIFO {
	return &signatureFIFO{cap: cap}
}

func (f *signatureFIFO) Has(sig string) bool {
	for _, s := range f.slots {
		if s == sig {
			return true
		}
	}
	return false
}

func (f *signatureFIFO) Push(sig string) {
	f.slots = append(f.slots, sig)
	if len(f.slots) > f.cap {
		f.slots = f.slots[len(f.slots)-f.cap:]
	}
}

// runHopLoop drives spec.md §4.7's "Multi-hop loop (per turn)": up to
// cfg.MaxHops round trips to the model through the transport gate, each
// offering tools until the MaxToolCallsPerTurn breaker trips, with
// same-hop and cross-hop duplicate tool-call detection.
// Grounded on the teacher's runLoop inner loop (loop.go), generalized
// from a single agent's solo tool loop to this engine's per-turn budget.
func (e *Engine) runHopLoop(ctx context.Context, history []llm.Message, unread []schema.Message, cfg Config, rel runtime.Release) HopResult {
	var result HopResult
	var aggregate strings.Builder
	recent := newSignatureFIFO(cfg.RecentSignatureSlots)
	toolCallsUsed := 0
	breakerTripped := false

	for hop := 0; hop < cfg.MaxHops; hop++ {
		if e.Ctrl.Paused() || e.Ctrl.RecentlyInterrupted(cfg.InterruptWindow) {
			break
		}

		hopCtx, cancel := context.WithTimeout(ctx, cfg.HopTimeout)
		offerTools := e.Dispatcher != nil && !breakerTripped

		nudge := fmt.Sprintf("hop %d/%d, %d tool calls remaining this turn", hop+1, cfg.MaxHops, cfg.MaxToolCallsPerTurn-toolCallsUsed)
		if cfg.MaxToolCallsPerTurn-toolCallsUsed <= 2 && !result.WroteFile {
			nudge += "; wrap up soon, write your file or send your message"
		}
		callMsgs := append(append([]llm.Message(nil), history...), llm.Message{Role: schema.RoleSystem, Content: nudge})

		opts := llm.CallOptions{
			Model:         e.Self.Model(),
			Temperature:   0.7,
			ToolChoice:    "auto",
			IdleTimeout:   cfg.IdleTimeout,
			HardStop:      cfg.HardStop,
			Detectors:     e.detectorsOrDefault(),
			DetectContext: e.detectContext(unread),
			OnData: func(_ llm.ChunkDelta) {
				rel.Touch()
			},
		}
		if offerTools {
			opts.Tools = e.toolSpecs()
		}

		asst, err := e.gatedChat(hopCtx, callMsgs, opts)
		cancel()
		if err != nil {
			break
		}

		if asst.Content == "" && len(asst.ToolCalls) == 0 {
			opts.Temperature += cfg.RetryTemperatureBump
			retryCtx, retryCancel := context.WithTimeout(ctx, cfg.HopTimeout)
			asst, err = e.gatedChat(retryCtx, callMsgs, opts)
			retryCancel()
			if err != nil || (asst.Content == "" && len(asst.ToolCalls) == 0) {
				break
			}
		}

		cleaned, foundTags := tags.Parse(asst.Content)
		e.applyTags(foundTags)

		cleaned, embeddedCalls := tags.ExtractToolCalls(cleaned)
		calls := append(asst.ToolCalls, embeddedCalls...)

		if cleaned != "" {
			msg := schema.Message{Role: schema.RoleAssistant, Sender: e.Self.ID(), Content: cleaned, Reasoning: asst.Reasoning}
			result.Produced = append(result.Produced, msg)
			aggregate.WriteString(cleaned)
			aggregate.WriteString("\n")
			history = append(history, llm.Message{Role: schema.RoleAssistant, Content: cleaned})
		}

		if len(calls) == 0 {
			break
		}

		sameHop := make(map[string]bool)
		hopAbort := false
		for _, call := range calls {
			sig := call.Signature()
			if call.Name == "sh" {
				sig = call.Name + "|" + toolexec.NormalizeShellArgs(call.Arguments)
			}
			if sameHop[sig] {
				result.Produced = append(result.Produced, schema.Message{
					Role: schema.RoleSystem, Sender: "system",
					Content: fmt.Sprintf("duplicate tool call in same hop aborted: %s", call.Name),
				})
				hopAbort = true
				break
			}
			sameHop[sig] = true

			if recent.Has(sig) {
				result.Produced = append(result.Produced, schema.Message{
					Role: schema.RoleSystem, Sender: "system",
					Content: fmt.Sprintf("tool call %s skipped: seen recently", call.Name),
				})
				continue
			}

			if toolCallsUsed >= cfg.MaxToolCallsPerTurn {
				breakerTripped = true
				result.Produced = append(result.Produced, schema.Message{
					Role: schema.RoleSystem, Sender: "system",
					Content: "tool call budget exhausted for this turn",
				})
				break
			}

			toolCallsUsed++
			recent.Push(sig)

			toolRes := e.Dispatcher.Execute(ctx, call)
			history = append(history, llm.Message{Role: schema.RoleAssistant, ToolCalls: []schema.ToolCall{call}})
			resultContent := toolResultContent(toolRes)
			history = append(history, llm.Message{Role: schema.RoleTool, Content: resultContent, ToolCallID: call.ID})
			result.Produced = append(result.Produced, schema.Message{
				Role: schema.RoleTool, Sender: e.Self.ID(), ToolCallID: call.ID, ToolName: call.Name, Content: resultContent,
			})

			if call.Name == "write" && toolRes.OK {
				result.WroteFile = true
			}
		}

		if hopAbort || breakerTripped {
			break
		}
	}

	result.AggregateText = stripTrailingNewline(aggregate.String())
	return result
}

func stripTrailingNewline(s string) string {
	return strings.TrimSuffix(s, "\n")
}

func toolResultContent(r schema.ToolResult) string {
	if r.OK {
		if r.Stdout != "" {
			return r.Stdout
		}
		return "ok"
	}
	if r.Err != "" {
		return "error: " + r.Err
	}
	return r.Stderr
}

// gatedChat wraps one ChatOnce call in the transport gate's single-flight
// barrier, per spec.md §4.2.
func (e *Engine) gatedChat(ctx context.Context, msgs []llm.Message, opts llm.CallOptions) (llm.AssistantMessage, error) {
	release, err := e.Gate.Acquire(ctx, e.Self.ID())
	if err != nil {
		return llm.AssistantMessage{}, err
	}
	defer release()
	return e.Transport.ChatOnce(ctx, e.Self.ID(), msgs, opts)
}

func (e *Engine) detectorsOrDefault() *guardrail.Registry {
	if e.Detectors == nil || e.Detectors.Empty() {
		return guardrail.Default()
	}
	return e.Detectors
}

func (e *Engine) detectContext(unread []schema.Message) guardrail.DetectContext {
	var recent []string
	for _, m := range unread {
		recent = append(recent, m.Content)
	}
	var others []string
	for _, id := range e.Room.Agents() {
		if id != e.Self.ID() {
			others = append(others, id)
		}
	}
	return guardrail.DetectContext{
		RecentMessages: recent,
		KnownAgents:    others,
		SoC:            e.Self.SoC(),
	}
}

func (e *Engine) toolSpecs() []llm.ToolSpec {
	if e.Dispatcher == nil {
		return nil
	}
	return []llm.ToolSpec{
		{Name: "sh", Description: "Run a shell command", Parameters: map[string]any{"type": "object"}},
		{Name: "write", Description: "Write a file", Parameters: map[string]any{"type": "object"}},
		{Name: "fetch", Description: "Fetch a URL", Parameters: map[string]any{"type": "object"}},
	}
}

// applyTags updates this engine's agent audience from parsed @agent /
// #file tags, per spec.md §4.4/§4.6: the last tag found wins.
func (e *Engine) applyTags(found []tags.Tag) {
	for _, t := range found {
		switch t.Kind {
		case tags.KindAgent:
			e.Self.SetAudience(agent.Audience{Kind: agent.AudienceDirect, Target: t.Target})
		case tags.KindFile:
			e.Self.SetAudience(agent.Audience{Kind: agent.AudienceFile, Target: t.Target})
		}
	}
}
