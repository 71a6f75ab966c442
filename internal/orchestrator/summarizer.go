package orchestrator

import "context"

// Summarizer runs the Summary Task (spec §4.9) against one session.
// internal/summarize provides the real implementation; RunTurn schedules it
// as a best-effort background job after committing a turn and never
// surfaces its error to the caller.
type Summarizer interface {
	Run(ctx context.Context, sessionID string) error
}
