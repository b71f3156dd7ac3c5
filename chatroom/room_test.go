package chatroom

import (
	"sync"
	"testing"
	"time"

	"github.com/loopwire/turnroom/schema"
)

type fakeAgent struct {
	id string

	mu       sync.Mutex
	received []schema.Message
}

func (f *fakeAgent) ID() string { return f.id }

func (f *fakeAgent) Deliver(msg schema.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
}

func (f *fakeAgent) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestDefaultGroupRoutingExcludesSender(t *testing.T) {
	room := New(0)
	alice := &fakeAgent{id: "alice"}
	bob := &fakeAgent{id: "bob"}
	carol := &fakeAgent{id: "carol"}
	for _, a := range []*fakeAgent{alice, bob, carol} {
		if err := room.AddModel(a); err != nil {
			t.Fatalf("AddModel: %v", err)
		}
	}

	room.Broadcast("alice", "Alice says hello.")

	if alice.count() != 0 {
		t.Fatalf("sender must never receive its own broadcast, got %d", alice.count())
	}
	if bob.count() != 1 || carol.count() != 1 {
		t.Fatalf("expected exactly one message each for bob/carol, got bob=%d carol=%d", bob.count(), carol.count())
	}
}

func TestMonotoneSequence(t *testing.T) {
	room := New(0)
	bob := &fakeAgent{id: "bob"}
	if err := room.AddModel(bob); err != nil {
		t.Fatalf("AddModel: %v", err)
	}

	room.Broadcast("alice", "one")
	room.Broadcast("alice", "two")
	room.Broadcast("alice", "three")

	bob.mu.Lock()
	defer bob.mu.Unlock()
	if len(bob.received) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(bob.received))
	}
	for i := 1; i < len(bob.received); i++ {
		if bob.received[i].Seq <= bob.received[i-1].Seq {
			t.Fatalf("sequence not strictly increasing: %v", bob.received)
		}
	}
}

func TestDuplicateAgentRejected(t *testing.T) {
	room := New(0)
	a := &fakeAgent{id: "alice"}
	if err := room.AddModel(a); err != nil {
		t.Fatalf("first AddModel: %v", err)
	}
	if err := room.AddModel(&fakeAgent{id: "alice"}); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
}

func TestFreshUserMessageWindow(t *testing.T) {
	room := New(30 * time.Millisecond)
	bob := &fakeAgent{id: "bob"}
	_ = room.AddModel(bob)

	if room.HasFreshUserMessage() {
		t.Fatal("no message sent yet, should not be fresh")
	}
	room.Broadcast("user", "hi")
	if !room.HasFreshUserMessage() {
		t.Fatal("expected a fresh user message immediately after broadcast")
	}
	time.Sleep(60 * time.Millisecond)
	if room.HasFreshUserMessage() {
		t.Fatal("expected freshness window to have elapsed")
	}
}

func TestIsolatedRecipientFailureDoesNotAbortFanout(t *testing.T) {
	room := New(0)
	bob := &fakeAgent{id: "bob"}
	panicker := &panickingAgent{id: "ghost"}
	_ = room.AddModel(bob)
	_ = room.AddModel(panicker)

	room.Broadcast("alice", "hello")

	if bob.count() != 1 {
		t.Fatalf("expected bob to still receive the message despite a panicking peer, got %d", bob.count())
	}
}

type panickingAgent struct{ id string }

func (p *panickingAgent) ID() string { return p.id }
func (p *panickingAgent) Deliver(schema.Message) {
	panic("boom")
}
