// Package toolexec implements the out-of-process tool adapters described
// in spec.md §6: a shell command executor, a file writer, and a web-fetch
// tool. Grounded on the teacher's tools/bash.go, tools/write.go, and
// tools/builtin/fetch.go.
package toolexec

import (
	"context"

	"github.com/loopwire/turnroom/schema"
)

// Adapter dispatches one named tool call and returns its result.
// Implemented by ShellTool, WriteTool, FetchTool, and any caller-supplied
// tool; the turn engine's multi-hop loop looks adapters up by name and
// returns schema.ErrUnknownTool for anything unregistered.
type Adapter interface {
	Name() string
	Execute(ctx context.Context, call schema.ToolCall) schema.ToolResult
}

// Dispatcher routes a tool call to its registered Adapter by name.
type Dispatcher struct {
	adapters map[string]Adapter
}

// NewDispatcher builds a Dispatcher from a set of adapters.
func NewDispatcher(adapters ...Adapter) *Dispatcher {
	d := &Dispatcher{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		d.adapters[a.Name()] = a
	}
	return d
}

// Execute dispatches call to its adapter, or returns an ErrUnknownTool
// result if no adapter is registered for call.Name.
func (d *Dispatcher) Execute(ctx context.Context, call schema.ToolCall) schema.ToolResult {
	a, ok := d.adapters[call.Name]
	if !ok {
		return schema.ToolResult{ID: call.ID, OK: false, Err: schema.ErrUnknownTool.Error()}
	}
	return a.Execute(ctx, call)
}
