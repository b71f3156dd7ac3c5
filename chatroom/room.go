// Package chatroom implements the ChatRoom described in spec.md §4.6: an
// addressed message bus that assigns monotonic sequence numbers, never
// echoes a broadcast to its own sender, and tracks the freshness window
// of the last user message. Grounded on the teacher's communication.MemoryBus,
// generalized from pub/sub channels to direct per-agent delivery handles.
package chatroom

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loopwire/turnroom/schema"
)

// Recipient is the delivery hook a ChatRoom calls into for each message
// addressed to (or broadcast toward) an agent. Implemented by
// agent.Agent; isolated per spec.md §4.6 "best-effort... failures isolated".
type Recipient interface {
	ID() string
	Deliver(msg schema.Message)
}

// Room is the process-wide chat room. Safe for concurrent use.
type Room struct {
	mu            sync.Mutex
	agents        map[string]Recipient
	seq           uint64
	lastUserTs    time.Time
	freshWindow   time.Duration
}

// New builds an empty Room. freshWindow defaults to 2000ms per spec.md §6.
func New(freshWindow time.Duration) *Room {
	if freshWindow <= 0 {
		freshWindow = 2000 * time.Millisecond
	}
	return &Room{agents: make(map[string]Recipient), freshWindow: freshWindow}
}

// AddModel registers an agent's delivery handle. Returns
// schema.ErrRoomAgentExists if the id is already registered.
func (r *Room) AddModel(agent Recipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agent.ID()]; exists {
		return schema.ErrRoomAgentExists
	}
	r.agents[agent.ID()] = agent
	return nil
}

// RemoveModel unregisters an agent, e.g. at shutdown.
func (r *Room) RemoveModel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Broadcast fans a message out to every agent except from, per spec.md
// §4.6 default routing. A from of "user" or "system" (case-insensitive)
// updates lastUserTs so HasFreshUserMessage can bias scheduling.
func (r *Room) Broadcast(from, content string) {
	r.deliver(schema.Message{
		Sender:    from,
		Recipient: "",
		Role:      schema.RoleUser,
		Content:   content,
	})
}

// SendTo addresses a message at a single known recipient, returning
// schema.ErrRoomAgentUnknown if to isn't registered.
func (r *Room) SendTo(from, to, content string) error {
	r.mu.Lock()
	_, ok := r.agents[to]
	r.mu.Unlock()
	if !ok {
		return schema.ErrRoomAgentUnknown
	}
	r.deliver(schema.Message{
		Sender:    from,
		Recipient: to,
		Role:      schema.RoleUser,
		Content:   content,
	})
	return nil
}

func (r *Room) deliver(msg schema.Message) {
	r.mu.Lock()
	r.seq++
	msg.Seq = r.seq
	msg.Timestamp = time.Now()
	lower := strings.ToLower(msg.Sender)
	if lower == "user" || lower == "system" {
		r.lastUserTs = msg.Timestamp
	}

	var targets []Recipient
	switch {
	case msg.Recipient == "":
		for id, a := range r.agents {
			if id == msg.Sender {
				continue
			}
			targets = append(targets, a)
		}
	default:
		a, ok := r.agents[msg.Recipient]
		if !ok || msg.Recipient == msg.Sender {
			r.mu.Unlock()
			return
		}
		targets = []Recipient{a}
	}
	r.mu.Unlock()

	for _, a := range targets {
		deliverSafely(a, msg)
	}
}

// deliverSafely isolates a panicking or failing recipient from the rest
// of the fan-out, per spec.md §4.6 "failures isolated and logged, never
// aborting fan-out".
func deliverSafely(a Recipient, msg schema.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("chatroom: delivery panicked", "agent", a.ID(), "panic", rec)
		}
	}()
	a.Deliver(msg)
}

// HasFreshUserMessage reports whether a user/system broadcast landed
// within the freshness window.
func (r *Room) HasFreshUserMessage() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastUserTs.IsZero() {
		return false
	}
	return time.Since(r.lastUserTs) < r.freshWindow
}

// Agents returns the currently registered agent ids, for scheduler
// enumeration. Order is unspecified.
func (r *Room) Agents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}
