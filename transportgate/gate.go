// Package transportgate implements the TransportGate: a strict
// single-flight barrier with cooldown around outbound LLM calls, because
// the upstream provider degrades under concurrent requests.
package transportgate

import (
	"context"
	"sync"
	"time"

	"github.com/loopwire/turnroom/schema"
)

// Gate is the process-wide TransportGate singleton.
type Gate struct {
	mu         sync.Mutex
	barrier    chan struct{} // serializes competing acquirers; buffered 1
	inFlight   int
	cap        int
	coolUntil  time.Time
	cooldown   time.Duration
}

// New creates a Gate. cap defaults to 1 (the simplest correct shape per
// spec.md §4.2); cooldownMs defaults to 150.
func New(capSlots int, cooldownMs int) *Gate {
	if capSlots <= 0 {
		capSlots = 1
	}
	if cooldownMs <= 0 {
		cooldownMs = 150
	}
	g := &Gate{
		barrier:  make(chan struct{}, 1),
		cap:      capSlots,
		cooldown: time.Duration(cooldownMs) * time.Millisecond,
	}
	g.barrier <- struct{}{}
	return g
}

// Cooling reports whether the gate is within its post-release cooldown
// window right now. Used by the scheduler's backpressure check.
func (g *Gate) Cooling() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Now().Before(g.coolUntil)
}

// AtCapacity reports whether every slot is currently in flight.
func (g *Gate) AtCapacity() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight >= g.cap
}

// Acquire serializes competing callers behind the internal barrier, then
// waits until now >= coolUntil and inFlight < cap, then claims a slot.
// The returned release func is safe to call at most once; callers should
// prefer Run, which guarantees release on every exit path.
func (g *Gate) Acquire(ctx context.Context, label string) (func(), error) {
	select {
	case <-g.barrier:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { g.barrier <- struct{}{} }()

	for {
		g.mu.Lock()
		wait := time.Until(g.coolUntil)
		if wait <= 0 && g.inFlight < g.cap {
			g.inFlight++
			g.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() { g.release() })
			}, nil
		}
		g.mu.Unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (g *Gate) release() {
	g.mu.Lock()
	if g.inFlight > 0 {
		g.inFlight--
	}
	g.coolUntil = time.Now().Add(g.cooldown)
	g.mu.Unlock()
}

// Run is the safe wrapper: release is guaranteed on every exit path,
// including panics and errors from fn.
func (g *Gate) Run(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	release, err := g.Acquire(ctx, label)
	if err != nil {
		return schema.ErrGateTimeout
	}
	defer release()
	return fn(ctx)
}
