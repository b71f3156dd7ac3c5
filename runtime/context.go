// Package runtime defines the shared Context bundling the process-wide
// channel lock, transport gate and logger, constructed once at init. The
// abort-detector registry is not part of it, and components that need
// concrete lock or gate methods take those types directly.
package runtime

import (
	"context"
	"log/slog"
)

// Locker is the subset of chatlock.Lock that runtime callers depend on.
// Declared here (rather than importing chatlock) to avoid a dependency
// cycle between runtime and the packages runtime is threaded through.
type Locker interface {
	Acquire(ctx context.Context, timeoutMs int, label string) (Release, error)
}

// Release is returned by Locker.Acquire; Touch refreshes the held-since
// timestamp so the background sweeper doesn't force-release a lock whose
// holder is still making progress, and Done releases it.
type Release interface {
	Touch()
	Done()
}

// Gate is the subset of transportgate.Gate that runtime callers depend on.
type Gate interface {
	Acquire(ctx context.Context, label string) (func(), error)
}

// Context is the process-wide environment: the lock and gate singletons
// plus a logger, never mutated after New.
type Context struct {
	Lock    Locker
	Gate    Gate
	Logger  *slog.Logger
	Options map[string]any // free-form runtime knobs read by leaf components
}

// New builds a Context. Lock and Gate are required; a nil logger falls
// back to slog.Default() so callers never need a nil check.
func New(lock Locker, gate Gate, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		Lock:    lock,
		Gate:    gate,
		Logger:  logger,
		Options: make(map[string]any),
	}
}
