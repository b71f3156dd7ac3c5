// Package turnengine implements the per-agent TurnEngine described in
// spec.md §4.7: the receive path and the multi-hop tool-call loop.
// Grounded on the teacher's loop.go (runLoop's double-loop shape: an
// outer per-turn loop and an inner hop/tool loop, tracking consecutive
// tool-failure counts) generalized from a single agent's solo loop to
// one agent's turn inside a shared chat room.
package turnengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loopwire/turnroom/agent"
	"github.com/loopwire/turnroom/chatlock"
	"github.com/loopwire/turnroom/chatroom"
	"github.com/loopwire/turnroom/control"
	"github.com/loopwire/turnroom/guardrail"
	"github.com/loopwire/turnroom/llm"
	"github.com/loopwire/turnroom/schema"
	"github.com/loopwire/turnroom/toolexec"
)

// gate is the narrow slice of transportgate.Gate's API the turn engine
// needs, kept local so this package only depends on the interface shape.
type gate interface {
	Acquire(ctx context.Context, label string) (func(), error)
}

// Engine drives one agent's turns. One Engine per agent; the ChannelLock
// and TransportGate it holds are process-wide singletons shared by every
// Engine.
type Engine struct {
	Self       *agent.Agent
	Room       *chatroom.Room
	Lock       *chatlock.Lock
	Gate       gate
	Transport  *llm.Transport
	Summarizer *llm.Summarizer
	Detectors  *guardrail.Registry
	Dispatcher *toolexec.Dispatcher
	Ctrl       *control.Controller
	Cfg        Config

	// ScheduleWake is called to arrange a self-wake after the interject
	// window, per spec.md §4.7 step 1. Supplied by the scheduler.
	ScheduleWake func(agentID string, after time.Duration)
}

// Result reports what RunTurn actually did, for the scheduler's
// lastIdle/lastProbe bookkeeping (spec.md §4.8).
type Result struct {
	Ran     bool
	Yielded bool
	Reason  string
}

// RunTurn executes spec.md §4.7's receive path once. Called by the
// scheduler when it selects this agent for a tick; may run with an empty
// unread batch for a proactive turn.
func (e *Engine) RunTurn(ctx context.Context) Result {
	cfg := e.Cfg.WithDefaults()

	// Step 1: paused / recently interjected -> don't run, self-wake.
	if e.Ctrl.Paused() || e.Ctrl.RecentlyInterrupted(cfg.InterruptWindow) {
		if e.ScheduleWake != nil {
			e.ScheduleWake(e.Self.ID(), cfg.SelfWakeWindow)
		}
		return Result{Yielded: true, Reason: "paused-or-interjected"}
	}

	// Step 2: acquire the channel lock for the duration of this turn.
	rel, err := e.Lock.Acquire(ctx, int(cfg.LockTimeout.Milliseconds()), e.Self.ID())
	if err != nil {
		return Result{Yielded: true, Reason: "lock-timeout"}
	}
	defer rel.Done()

	// Step 3: re-check the pause gate now that we hold the lock.
	if e.Ctrl.Paused() || e.Ctrl.RecentlyInterrupted(cfg.InterruptWindow) {
		return Result{Yielded: true, Reason: "paused-after-acquire"}
	}

	unread := e.Self.DrainUnread()

	// Step 4: summarize if above HIGH and due.
	high, low := agent.Watermarks(cfg.MaxContextMessages)
	var summaryMsg *schema.Message
	if e.Self.ContextLen() > high && e.Self.TurnsSinceSummary() >= 2 {
		if s := e.trySummarize(ctx, cfg); s != "" {
			m := schema.Message{Role: schema.RoleSystem, Content: s}
			summaryMsg = &m
		}
		e.Self.MarkSummarized()
	}

	// Step 5: build message history.
	history := e.buildHistory(unread, summaryMsg, cfg)

	// Step 6: run the multi-hop tool loop.
	hopResult := e.runHopLoop(ctx, history, unread, cfg, rel)

	// Step 7: append produced messages; nudge if no file written.
	e.Self.AppendContext(hopResult.Produced...)
	incomingFromUser := anySenderIsUser(unread)
	if !hopResult.WroteFile && !incomingFromUser {
		e.Self.AppendContext(schema.Message{
			Role:    schema.RoleSystem,
			Sender:  "system",
			Content: "please write the required file or summarize",
		})
	}

	// Step 8: deliver the last produced message through the audience.
	if len(hopResult.Produced) > 0 {
		e.deliverLast(hopResult.Produced[len(hopResult.Produced)-1])
	}

	// Step 9: append assistant aggregate text to the rolling SoC.
	e.Self.AppendSoC(hopResult.AggregateText)

	// Step 10: compact and release (release happens via defer).
	compacted := agent.CompactContext(e.Self.Context(), high, low)
	e.Self.ReplaceContext(compacted)
	e.Self.IncrementTurn()

	return Result{Ran: true}
}

func anySenderIsUser(msgs []schema.Message) bool {
	for _, m := range msgs {
		if strings.EqualFold(m.Sender, "user") {
			return true
		}
	}
	return false
}

// trySummarize runs the non-streaming compaction summary through the
// TransportGate with a bounded timeout; failure yields an empty string
// rather than propagating, per spec.md §4.7 step 4.
func (e *Engine) trySummarize(ctx context.Context, cfg Config) string {
	if e.Summarizer == nil {
		return ""
	}
	sumCtx, cancel := context.WithTimeout(ctx, cfg.SummarizeTimeout)
	defer cancel()

	var out string
	release, err := e.Gate.Acquire(sumCtx, e.Self.ID()+":summarize")
	if err != nil {
		return ""
	}
	defer release()

	msgs := projectPerspective(e.Self.ID(), e.Self.Context())
	result, err := e.Summarizer.Summarize(sumCtx, msgs, "Summarize this conversation span concisely for future context.")
	if err != nil {
		return ""
	}
	out = result
	return out
}

// buildHistory assembles spec.md §4.7 step 5's message list: system
// prompt, optional user-focus nudge, optional summary, last HistoryWindow
// context messages, and the drained unread batch.
func (e *Engine) buildHistory(unread []schema.Message, summary *schema.Message, cfg Config) []llm.Message {
	var seq []schema.Message
	seq = append(seq, schema.Message{Role: schema.RoleSystem, Content: e.Self.SystemPrompt()})

	if anySenderIsUser(unread) {
		seq = append(seq, schema.Message{
			Role:    schema.RoleSystem,
			Content: "The user just spoke; prioritize responding to them directly.",
		})
	}

	if summary != nil {
		seq = append(seq, *summary)
	}

	ctxMsgs := e.Self.Context()
	start := 0
	if len(ctxMsgs) > cfg.HistoryWindow {
		start = len(ctxMsgs) - cfg.HistoryWindow
	}
	seq = append(seq, ctxMsgs[start:]...)
	seq = append(seq, unread...)

	return projectPerspective(e.Self.ID(), seq)
}

// deliverLast routes the final produced message through this agent's
// current audience: group broadcast, a direct send, or a file write via
// the write tool (spec.md §4.6/§6).
func (e *Engine) deliverLast(msg schema.Message) {
	aud := e.Self.Audience()
	switch aud.Kind {
	case agent.AudienceDirect:
		if err := e.Room.SendTo(e.Self.ID(), aud.Target, msg.Content); err != nil {
			slog.Warn("turn engine: direct send to unknown agent, falling back to broadcast", "from", e.Self.ID(), "to", aud.Target, "err", err)
			e.Room.Broadcast(e.Self.ID(), msg.Content)
		}
	case agent.AudienceFile:
		if e.Dispatcher != nil {
			args := fmt.Sprintf(`{"path":%q,"content":%q}`, aud.Target, msg.Content)
			e.Dispatcher.Execute(context.Background(), schema.ToolCall{Name: "write", Arguments: args})
		}
	default:
		e.Room.Broadcast(e.Self.ID(), msg.Content)
	}
}
