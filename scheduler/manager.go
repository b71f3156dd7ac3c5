// Package scheduler implements the TurnManager described in spec.md
// §4.8: a single periodic timer selecting at most one eligible agent per
// tick by round-robin, with backpressure against the transport gate,
// per-agent proactive ticks and idle backoff, and a starvation/liveness
// watchdog that pokes every agent's inbox when the room goes quiet.
//
// Grounded on the teacher's orchestrator/swarm.go RoundRobinStrategy
// (lastIndex/mutex round-robin selection), generalized from "pick one
// agent per Execute call" to "pick at most one agent per tick, skipping
// ineligible or backpressured agents".
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loopwire/turnroom/chatroom"
	"github.com/loopwire/turnroom/control"
	"github.com/loopwire/turnroom/schema"
	"github.com/loopwire/turnroom/turnengine"
)

// gate is the narrow slice of transportgate.Gate's API the scheduler
// needs for backpressure decisions.
type gate interface {
	AtCapacity() bool
	Cooling() bool
}

// managed bundles one agent's Engine with the scheduler's own
// bookkeeping fields.
type managed struct {
	engine       *turnengine.Engine
	lastProbe    time.Time
	nextWakeAt   time.Time
	idleBackoff  time.Time
	running      bool
}

// TurnManager is the process-wide round-robin scheduler. One instance
// drives every agent registered with AddAgent.
type TurnManager struct {
	mu    sync.Mutex
	cfg   Config
	gate  gate
	room  *chatroom.Room
	ctrl  *control.Controller
	agents []*managed
	index int

	lastAnyWorkTs time.Time
	stop          chan struct{}

	ticksRun        int
	turnsScheduled  int
	agentUsage      map[string]int
}

// Snapshot is a read-only introspection of the scheduler's run so far,
// analogous to the teacher's SwarmMetrics/GetMetrics: ticks observed,
// turns actually scheduled, per-agent usage counts, and the current
// backpressure state. Not a push-based metrics pipeline.
type Snapshot struct {
	TicksRun       int
	TurnsScheduled int
	AgentUsage     map[string]int
	Backpressured  bool
}

// Snapshot reports the scheduler's cumulative counters and current
// backpressure state.
func (m *TurnManager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	usage := make(map[string]int, len(m.agentUsage))
	for k, v := range m.agentUsage {
		usage[k] = v
	}
	return Snapshot{
		TicksRun:       m.ticksRun,
		TurnsScheduled: m.turnsScheduled,
		AgentUsage:     usage,
		Backpressured:  m.gate.AtCapacity() && m.gate.Cooling(),
	}
}

// New builds a TurnManager. gate and room back the backpressure and
// fresh-user-message eligibility checks; ctrl backs the pause/user-control
// gate.
func New(cfg Config, g gate, room *chatroom.Room, ctrl *control.Controller) *TurnManager {
	return &TurnManager{
		cfg:           cfg.WithDefaults(),
		gate:          g,
		room:          room,
		ctrl:          ctrl,
		lastAnyWorkTs: time.Now(),
		stop:          make(chan struct{}),
		agentUsage:    make(map[string]int),
	}
}

// AddAgent registers an engine for scheduling and wires its ScheduleWake
// hook back into this manager's per-agent wake bookkeeping.
func (m *TurnManager) AddAgent(e *turnengine.Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ma := &managed{engine: e}
	e.ScheduleWake = func(agentID string, after time.Duration) {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, cand := range m.agents {
			if cand.engine.Self.ID() == agentID {
				cand.nextWakeAt = time.Now().Add(after)
				return
			}
		}
	}
	m.agents = append(m.agents, ma)
}

// Run starts the periodic tick loop; it blocks until ctx is done or Stop
// is called.
func (m *TurnManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.tick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// Stop ends the tick loop started by Run.
func (m *TurnManager) Stop() {
	close(m.stop)
}

// SetPaused toggles the process-wide pause flag the tick loop consults on
// entry, per spec.md §4.9.
func (m *TurnManager) SetPaused(paused bool) {
	m.ctrl.SetPaused(paused)
}

// tick runs one scheduling round: select at most one eligible agent by
// round-robin, run it under a per-turn watchdog, then check the
// starvation/liveness guard.
func (m *TurnManager) tick(ctx context.Context) {
	m.mu.Lock()
	m.ticksRun++
	m.mu.Unlock()

	if m.ctrl.SchedulerBlocked() {
		return
	}
	if m.gate.AtCapacity() && m.gate.Cooling() {
		return
	}

	chosen, chosenIdx := m.selectNext()
	if chosen != nil {
		m.mu.Lock()
		m.index = chosenIdx + 1
		chosen.running = true
		m.turnsScheduled++
		m.agentUsage[chosen.engine.Self.ID()]++
		m.mu.Unlock()

		m.runOne(ctx, chosen)

		m.mu.Lock()
		chosen.running = false
		m.lastAnyWorkTs = time.Now()
		m.mu.Unlock()
		return
	}

	m.checkStarvation()
}

// selectNext walks the agent list starting just after the last-scheduled
// index, returning the first eligible, non-running, non-backed-off
// agent.
func (m *TurnManager) selectNext() (*managed, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.agents)
	if n == 0 {
		return nil, -1
	}
	now := time.Now()
	for step := 0; step < n; step++ {
		idx := (m.index + step) % n
		a := m.agents[idx]
		if a.running {
			continue
		}
		if now.Before(a.idleBackoff) {
			continue
		}
		if !m.eligible(a, now) {
			continue
		}
		return a, idx
	}
	return nil, -1
}

// eligible reports spec.md §4.8's condition: unread mail, a fresh user
// message burst in the room, a due proactive tick, or a pending
// self-wake.
func (m *TurnManager) eligible(a *managed, now time.Time) bool {
	if a.engine.Self.HasUnread() {
		return true
	}
	if m.room.HasFreshUserMessage() {
		return true
	}
	if !a.nextWakeAt.IsZero() && !now.Before(a.nextWakeAt) {
		return true
	}
	if a.lastProbe.IsZero() || now.Sub(a.lastProbe) >= m.cfg.proactive() {
		return true
	}
	return false
}

// runOne executes one agent's turn under the per-turn watchdog, updating
// lastProbe/idleBackoff per spec.md §4.8.
func (m *TurnManager) runOne(ctx context.Context, a *managed) {
	turnCtx, cancel := context.WithTimeout(ctx, m.cfg.turnTimeout())
	defer cancel()

	done := make(chan turnengine.Result, 1)
	go func() {
		done <- a.engine.RunTurn(turnCtx)
	}()

	var result turnengine.Result
	select {
	case result = <-done:
	case <-turnCtx.Done():
		slog.Warn("scheduler: turn watchdog fired", "agent", a.engine.Self.ID())
		result = turnengine.Result{Yielded: true, Reason: "watchdog"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if !a.nextWakeAt.IsZero() && !now.Before(a.nextWakeAt) {
		a.nextWakeAt = time.Time{}
	}
	if result.Ran {
		a.lastProbe = now
	} else {
		a.idleBackoff = now.Add(m.cfg.idleBackoff())
	}
}

// checkStarvation implements spec.md §4.8's liveness guard: poke every
// agent's inbox when the room has been idle past pokeAfterMs, and reset
// proactive eligibility when idle well beyond that.
func (m *TurnManager) checkStarvation() {
	m.mu.Lock()
	idleFor := time.Since(m.lastAnyWorkTs)
	agents := append([]*managed(nil), m.agents...)
	m.mu.Unlock()

	if idleFor >= m.cfg.pokeAfter() {
		for _, a := range agents {
			a.engine.Self.Deliver(schema.Message{
				Sender:  "User",
				Role:    schema.RoleUser,
				Content: "(resume)",
			})
		}
		slog.Info("watchdog: idle, poked", "idle_ms", idleFor.Milliseconds())
		m.mu.Lock()
		m.lastAnyWorkTs = time.Now()
		m.mu.Unlock()
	}

	resetThreshold := m.cfg.proactive() * 2
	if resetThreshold < 5*time.Second {
		resetThreshold = 5 * time.Second
	}
	if idleFor > resetThreshold {
		m.mu.Lock()
		for _, a := range m.agents {
			a.lastProbe = time.Time{}
		}
		m.mu.Unlock()
	}
}

// PokeIfIdle exposes the starvation/liveness check directly, for tests
// that don't want to wait on the tick loop.
func (m *TurnManager) PokeIfIdle() {
	m.checkStarvation()
}
