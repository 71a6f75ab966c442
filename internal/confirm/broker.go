// Package confirm implements the human-in-the-loop confirmation handshake:
// the orchestrator registers a pending confirmation before executing a
// tool call the session's confirmation policy covers, and blocks until the client resolves it or a
// timeout elapses, which is treated as an implicit denial.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by Resolve/Await when id was never registered (or
// its registration has already been garbage-collected).
var ErrNotFound = errors.New("confirm: no pending confirmation")

// ErrAlreadyResolved is returned by Resolve when id's confirmation already
// has a decision — the first decision stands, per spec §4.6/§8.
var ErrAlreadyResolved = errors.New("confirm: confirmation already resolved")

// Decision is the resolved outcome of a confirmation request.
type Decision struct {
	Approved bool
	TimedOut bool
}

type waiter struct {
	resolved chan Decision
	timer    *time.Timer
	once     sync.Once
}

// Broker holds pending confirmations, keyed by an opaque id the caller
// mints (the orchestrator mints a fresh 10-hex id per confirmation). It is a
// process-scoped instance, not a package-level global, so a server with
// several orchestrators never shares confirmation state across them.
type Broker struct {
	mu       sync.Mutex
	waiters  map[string]*waiter
	resolved map[string]Decision
}

// New creates an empty Broker.
func New() *Broker {
	return &Broker{waiters: make(map[string]*waiter), resolved: make(map[string]Decision)}
}

// Register creates a pending confirmation for id with the given timeout. If
// the timeout elapses before Resolve is called, the wait in Await returns
// Decision{Approved: false, TimedOut: true} — an implicit denial. Any stale
// resolved entry for a reused id is cleared, since a fresh registration
// starts a new confirmation lifecycle.
func (b *Broker) Register(id string, timeout time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := &waiter{resolved: make(chan Decision, 1)}
	w.timer = time.AfterFunc(timeout, func() {
		b.resolve(id, Decision{Approved: false, TimedOut: true})
	})
	b.waiters[id] = w
	delete(b.resolved, id)
}

// Resolve delivers the client's decision for a pending confirmation.
// ErrNotFound means id was never registered; ErrAlreadyResolved means a
// prior Resolve (or a timeout) already decided id, and that first decision
// is the one in effect.
func (b *Broker) Resolve(id string, approved bool) error {
	switch b.resolve(id, Decision{Approved: approved}) {
	case outcomeResolvedNow:
		return nil
	case outcomeAlreadyResolved:
		return fmt.Errorf("%w: %q", ErrAlreadyResolved, id)
	default:
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
}

type resolveOutcome int

const (
	outcomeResolvedNow resolveOutcome = iota
	outcomeAlreadyResolved
	outcomeNotFound
)

func (b *Broker) resolve(id string, d Decision) resolveOutcome {
	b.mu.Lock()
	w, ok := b.waiters[id]
	if ok {
		delete(b.waiters, id)
		b.resolved[id] = d
	}
	_, already := b.resolved[id]
	b.mu.Unlock()

	if ok {
		w.once.Do(func() {
			w.timer.Stop()
			w.resolved <- d
			close(w.resolved)
		})
		return outcomeResolvedNow
	}
	if already {
		return outcomeAlreadyResolved
	}
	return outcomeNotFound
}

// Await blocks until id's confirmation is resolved, the context is
// canceled, or the registered timeout elapses. Cancellation counts as a
// denial so callers never hang a tool call indefinitely. If id was already
// resolved before Await was called, the stored decision is returned
// immediately rather than erroring.
func (b *Broker) Await(ctx context.Context, id string) (Decision, error) {
	b.mu.Lock()
	w, ok := b.waiters[id]
	if !ok {
		d, already := b.resolved[id]
		b.mu.Unlock()
		if already {
			return d, nil
		}
		return Decision{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	b.mu.Unlock()

	select {
	case d := <-w.resolved:
		return d, nil
	case <-ctx.Done():
		b.resolve(id, Decision{Approved: false, TimedOut: true})
		return Decision{Approved: false, TimedOut: true}, ctx.Err()
	}
}

// Cancel resolves a pending confirmation as a timed-out denial, waking any
// Await still blocked on it; used when a turn aborts before the client ever
// gets a chance to answer. A later Resolve for id reports ErrAlreadyResolved.
func (b *Broker) Cancel(id string) {
	b.resolve(id, Decision{Approved: false, TimedOut: true})
}
