package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/loopwire/turnroom/agent"
	"github.com/loopwire/turnroom/chatroom"
	"github.com/loopwire/turnroom/control"
	"github.com/loopwire/turnroom/schema"
	"github.com/loopwire/turnroom/turnengine"
)

type fakeGate struct {
	atCapacity bool
	cooling    bool
}

func (f fakeGate) AtCapacity() bool { return f.atCapacity }
func (f fakeGate) Cooling() bool    { return f.cooling }

func newTestManager(cfg Config, g gate) *TurnManager {
	return New(cfg, g, chatroom.New(0), control.New())
}

func TestSnapshotTracksTicksAndBackpressure(t *testing.T) {
	mgr := newTestManager(Config{}, fakeGate{atCapacity: true, cooling: true})

	mgr.tick(context.Background())
	mgr.tick(context.Background())

	snap := mgr.Snapshot()
	if snap.TicksRun != 2 {
		t.Fatalf("TicksRun = %d, want 2", snap.TicksRun)
	}
	if snap.TurnsScheduled != 0 {
		t.Fatalf("TurnsScheduled = %d, want 0 while backpressured", snap.TurnsScheduled)
	}
	if !snap.Backpressured {
		t.Fatal("expected Backpressured=true while the gate is at capacity and cooling")
	}
}

func TestTickSkippedWhenPaused(t *testing.T) {
	mgr := newTestManager(Config{}, fakeGate{})
	mgr.ctrl.SetPaused(true)

	ag := agent.New("a1", "model", "sys")
	ag.Deliver(schema.Message{Content: "hi"})
	mgr.AddAgent(&turnengine.Engine{Self: ag})

	mgr.tick(context.Background())

	if !ag.HasUnread() {
		t.Fatal("turn must not run while paused; inbox should remain untouched")
	}
}

func TestTickSkippedUnderBackpressure(t *testing.T) {
	mgr := newTestManager(Config{}, fakeGate{atCapacity: true, cooling: true})

	ag := agent.New("a1", "model", "sys")
	ag.Deliver(schema.Message{Content: "hi"})
	mgr.AddAgent(&turnengine.Engine{Self: ag})

	mgr.tick(context.Background())

	if !ag.HasUnread() {
		t.Fatal("turn must not run while the transport gate is at capacity and cooling")
	}
}

func TestEligibleUnreadMail(t *testing.T) {
	mgr := newTestManager(Config{}, fakeGate{})
	ag := agent.New("a1", "model", "sys")
	m := &managed{engine: &turnengine.Engine{Self: ag}, lastProbe: time.Now()}

	if mgr.eligible(m, time.Now()) {
		t.Fatal("expected ineligible with no unread, no fresh message, recent probe")
	}
	ag.Deliver(schema.Message{Content: "hi"})
	if !mgr.eligible(m, time.Now()) {
		t.Fatal("expected eligible once unread mail is present")
	}
}

func TestEligibleFreshUserMessage(t *testing.T) {
	room := chatroom.New(time.Minute)
	mgr := &TurnManager{cfg: Config{}.WithDefaults(), gate: fakeGate{}, room: room, ctrl: control.New(), lastAnyWorkTs: time.Now(), stop: make(chan struct{})}
	ag := agent.New("a1", "model", "sys")
	m := &managed{engine: &turnengine.Engine{Self: ag}, lastProbe: time.Now()}

	if mgr.eligible(m, time.Now()) {
		t.Fatal("expected ineligible before any user message")
	}
	room.Broadcast("user", "hello room")
	if !mgr.eligible(m, time.Now()) {
		t.Fatal("expected eligible once a fresh user message lands")
	}
}

func TestEligibleScheduledWake(t *testing.T) {
	mgr := newTestManager(Config{}, fakeGate{})
	ag := agent.New("a1", "model", "sys")
	m := &managed{engine: &turnengine.Engine{Self: ag}, lastProbe: time.Now(), nextWakeAt: time.Now().Add(-time.Millisecond)}

	if !mgr.eligible(m, time.Now()) {
		t.Fatal("expected eligible once a scheduled self-wake has elapsed")
	}
}

func TestEligibleProactiveInterval(t *testing.T) {
	cfg := Config{ProactiveMs: 20}.WithDefaults()
	mgr := newTestManager(cfg, fakeGate{})
	ag := agent.New("a1", "model", "sys")
	m := &managed{engine: &turnengine.Engine{Self: ag}, lastProbe: time.Now().Add(-100 * time.Millisecond)}

	if !mgr.eligible(m, time.Now()) {
		t.Fatal("expected eligible once the proactive interval has elapsed")
	}
}

func TestCheckStarvationPokesIdleRoom(t *testing.T) {
	cfg := Config{PokeAfterMs: 10}.WithDefaults()
	mgr := newTestManager(cfg, fakeGate{})
	mgr.lastAnyWorkTs = time.Now().Add(-50 * time.Millisecond)

	agents := []*agent.Agent{
		agent.New("a1", "model", "sys"),
		agent.New("a2", "model", "sys"),
	}
	for _, a := range agents {
		mgr.AddAgent(&turnengine.Engine{Self: a})
	}

	mgr.PokeIfIdle()

	for _, a := range agents {
		if !a.HasUnread() {
			t.Fatalf("agent %s was not poked after idle window elapsed", a.ID())
		}
	}
}

func TestCheckStarvationDoesNotPokeWhileActive(t *testing.T) {
	cfg := Config{PokeAfterMs: 10_000}.WithDefaults()
	mgr := newTestManager(cfg, fakeGate{})

	ag := agent.New("a1", "model", "sys")
	mgr.AddAgent(&turnengine.Engine{Self: ag})

	mgr.PokeIfIdle()

	if ag.HasUnread() {
		t.Fatal("agent should not be poked while still within the activity window")
	}
}
