package schema

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who (or what) produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is an immutable record exchanged between agents and the room.
//
// Exactly one of Broadcast or Recipient is set: Recipient == "" means the
// message fans out to every agent except Sender. Seq is assigned by the
// room and is monotonically increasing per room.
type Message struct {
	Seq        uint64
	Timestamp  time.Time
	Sender     string
	Recipient  string // empty means broadcast
	Role       Role
	Content    string
	ToolCallID string
	ToolName   string
	Reasoning  string
	Read       bool
}

// Broadcast reports whether the message has no single recipient.
func (m Message) Broadcast() bool {
	return m.Recipient == ""
}

// NewID returns a fresh unique id suitable for a message or tool-call id.
func NewID() string {
	return uuid.NewString()
}

// Clone returns a deep copy; Message has no reference fields today but
// Clone exists so callers never need to special-case copy-by-value.
func (m Message) Clone() Message {
	return m
}
