package orchestrator

import "github.com/lennartpollvogt/mochi-server/internal/events"

// DiscardingSink implements events.Sink by dropping every event. The
// non-streaming chat endpoint (spec §4.8) runs the same algorithm as the
// streaming one but has no client connection to write deltas to; RunTurn's
// returned TurnResult is already the source of truth for the response
// body, so this sink only exists to satisfy the interface.
type DiscardingSink struct{}

func (DiscardingSink) Emit(events.Event) error { return nil }
