package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors for the routing taxonomy in the turn engine's error
// handling design, matched with errors.Is to decide local-recovery policy.
var (
	ErrLockTimeout       = errors.New("channel lock: timed out waiting for holder")
	ErrGateTimeout       = errors.New("transport gate: timed out waiting for slot")
	ErrStreamIdle        = errors.New("chat transport: idle watchdog fired")
	ErrStreamHardStop    = errors.New("chat transport: hard-stop watchdog fired")
	ErrStreamInterrupted = errors.New("chat transport: interrupted")
	ErrUnknownTool       = errors.New("tool dispatch: unknown tool")
	ErrRoomAgentExists   = errors.New("chat room: agent id already registered")
	ErrRoomAgentUnknown  = errors.New("chat room: recipient unknown")
)

// AgentError wraps a failure that occurred while operating on a specific
// agent, naming the operation so logs don't need string matching.
type AgentError struct {
	AgentID string
	Op      string
	Err     error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %s: %v", e.AgentID, e.Op, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

func NewAgentError(agentID, op string, err error) *AgentError {
	return &AgentError{AgentID: agentID, Op: op, Err: err}
}

// ToolError wraps a tool-execution failure.
type ToolError struct {
	ToolName string
	Op       string
	Err      error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s: %v", e.ToolName, e.Op, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

func NewToolError(toolName, op string, err error) *ToolError {
	return &ToolError{ToolName: toolName, Op: op, Err: err}
}

// TransportError wraps a provider HTTP failure, keeping the degraded
// assistant string policy (spec.md "ProviderTransportError") separate from
// Go's error chain so callers can still produce a user-visible message.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("chat transport: %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func NewTransportError(endpoint string, err error) *TransportError {
	return &TransportError{Endpoint: endpoint, Err: err}
}
