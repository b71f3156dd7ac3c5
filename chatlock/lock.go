// Package chatlock implements the ChannelLock: a FIFO mutex with timeout
// and lease keep-alive such that at most one turn engine ever holds it.
package chatlock

import (
	"context"
	"sync"
	"time"

	"github.com/loopwire/turnroom/runtime"
	"github.com/loopwire/turnroom/schema"
)

// waiter is one pending Acquire call, woken in FIFO order on release.
type waiter struct {
	ready    chan struct{}
	deadline time.Time
	label    string
}

// Lock is the process-wide ChannelLock singleton.
type Lock struct {
	mu        sync.Mutex
	locked    bool
	holder    string
	heldSince time.Time
	waiters   []*waiter

	maxHoldMs int
	stop      chan struct{}
	onForced  func(holder string, heldFor time.Duration)
}

// New creates a Lock and starts its background sweeper. maxHoldMs is the
// LOCK_MAX_MS threshold (spec.md §4.1); a forced release only ever fires
// when the queue is non-empty, so a lone long-running holder is never
// preempted. onForced, if non-nil, is called when the sweeper forces a
// release, for logging.
func New(maxHoldMs int, onForced func(holder string, heldFor time.Duration)) *Lock {
	if maxHoldMs <= 0 {
		maxHoldMs = 15 * 60 * 1000
	}
	l := &Lock{
		maxHoldMs: maxHoldMs,
		stop:      make(chan struct{}),
		onForced:  onForced,
	}
	go l.sweep()
	return l
}

// sweepInterval is min(500ms, maxHoldMs) per spec.md §4.1.
func (l *Lock) sweepInterval() time.Duration {
	if l.maxHoldMs < 500 {
		return time.Duration(l.maxHoldMs) * time.Millisecond
	}
	return 500 * time.Millisecond
}

func (l *Lock) sweep() {
	ticker := time.NewTicker(l.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.forceReleaseIfStale()
		}
	}
}

func (l *Lock) forceReleaseIfStale() {
	l.mu.Lock()
	if !l.locked || len(l.waiters) == 0 {
		l.mu.Unlock()
		return
	}
	age := time.Since(l.heldSince)
	if age < time.Duration(l.maxHoldMs)*time.Millisecond {
		l.mu.Unlock()
		return
	}
	// Atomically flip locked→false before dequeuing so the single-holder
	// guarantee never lapses: nobody else can observe locked==true and
	// l.holder stale at the same time.
	holder := l.holder
	l.locked = false
	l.holder = ""
	next := l.popWaiter()
	if next != nil {
		l.grantTo(next)
	}
	l.mu.Unlock()

	if l.onForced != nil {
		l.onForced(holder, age)
	}
	if next != nil {
		close(next.ready)
	}
}

// popWaiter removes and returns the oldest still-live waiter, discarding
// any whose deadline has already elapsed. Caller holds l.mu.
func (l *Lock) popWaiter() *waiter {
	for len(l.waiters) > 0 {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		if time.Now().Before(w.deadline) {
			return w
		}
		close(w.ready) // let the waiter's own timeout path observe failure
	}
	return nil
}

// grantTo makes w the holder. Caller holds l.mu and closes w.ready after
// unlocking, so the lock is never observably free during a hand-off.
func (l *Lock) grantTo(w *waiter) {
	l.locked = true
	l.holder = w.label
	l.heldSince = time.Now()
}

// Acquire blocks until the lock is free or timeoutMs elapses, whichever
// comes first. It returns an ErrLockTimeout (schema.ErrLockTimeout) on
// timeout and a runtime.Release otherwise; the release closure supports
// Touch() to refresh heldSince and Done() to release and hand off to the
// oldest waiter.
func (l *Lock) Acquire(ctx context.Context, timeoutMs int, label string) (runtime.Release, error) {
	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.holder = label
		l.heldSince = time.Now()
		l.mu.Unlock()
		return &release{lock: l, label: label}, nil
	}

	w := &waiter{
		ready:    make(chan struct{}),
		deadline: time.Now().Add(time.Duration(timeoutMs) * time.Millisecond),
		label:    label,
	}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-w.ready:
		l.mu.Lock()
		granted := l.locked && l.holder == label
		l.mu.Unlock()
		if !granted {
			return nil, schema.ErrLockTimeout
		}
		return &release{lock: l, label: label}, nil
	case <-timer.C:
		l.removeWaiter(w)
		return nil, schema.ErrLockTimeout
	case <-ctx.Done():
		l.removeWaiter(w)
		return nil, ctx.Err()
	}
}

func (l *Lock) removeWaiter(target *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if w == target {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// release releases on the next scheduling turn, idempotently.
func (l *Lock) release(label string) {
	l.mu.Lock()
	if !l.locked || l.holder != label {
		l.mu.Unlock()
		return
	}
	l.locked = false
	l.holder = ""
	next := l.popWaiter()
	if next != nil {
		l.grantTo(next)
	}
	l.mu.Unlock()

	if next != nil {
		close(next.ready)
	}
}

func (l *Lock) touch(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked && l.holder == label {
		l.heldSince = time.Now()
	}
}

// Stop tears down the background sweeper; called once at process shutdown.
func (l *Lock) Stop() {
	close(l.stop)
}

// release is the closure returned by Acquire. Done is safe to call more
// than once.
type release struct {
	lock *Lock
	label string
	done  bool
	mu    sync.Mutex
}

func (r *release) Touch() {
	r.lock.touch(r.label)
}

func (r *release) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	r.lock.release(r.label)
}
