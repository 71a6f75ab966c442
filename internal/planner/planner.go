// Package planner computes the per-turn Ollama context window (num_ctx)
// from a session's context-window policy, the model's advertised maximum,
// and the previous turn's token usage.
package planner

import "github.com/lennartpollvogt/mochi-server/internal/session"

// Default tuning constants, grounded on the original service's
// DynamicContextWindowService.
const (
	DefaultInitialWindow    = 8192
	SafeLimitPercentage     = 0.9
	UsageThresholdFraction  = 0.5
)

// Usage is the token accounting from the previous upstream response.
type Usage struct {
	PromptTokens int
	EvalTokens   int
}

// Total returns the combined token count the session has consumed so far.
func (u Usage) Total() int {
	return u.PromptTokens + u.EvalTokens
}

// Result is the outcome of one planning decision.
type Result struct {
	Window int
	Reason session.AdjustmentReason
}

// Plan computes the context window to request for the next upstream call,
// applying the priority order spec.md §4.5 lays out: manual override, then
// dynamic-disabled, then no-messages-yet, then usage threshold, then model
// change, then no adjustment.
//
// modelMaxContext is the model's advertised maximum context length, or 0
// if unknown (in which case DefaultInitialWindow stands in for the safe
// limit). modelChanged reports whether the session's model differs from
// the model used on the previous turn.
func Plan(modelMaxContext int, cfg session.ContextWindowConfig, usage Usage, modelChanged bool) Result {
	if cfg.ManualOverride {
		return Result{Window: cfg.CurrentWindow, Reason: session.ReasonManualOverride}
	}
	if !cfg.DynamicEnabled {
		return Result{Window: cfg.CurrentWindow, Reason: session.ReasonNoAdjustment}
	}

	safeLimit := DefaultInitialWindow
	if modelMaxContext > 0 {
		safeLimit = int(float64(modelMaxContext) * SafeLimitPercentage)
	}

	total := usage.Total()

	if total == 0 {
		window := min(safeLimit, DefaultInitialWindow)
		if cfg.CurrentWindow != window {
			return Result{Window: window, Reason: session.ReasonInitialSetup}
		}
		return Result{Window: cfg.CurrentWindow, Reason: session.ReasonNoAdjustment}
	}

	if float64(total) > UsageThresholdFraction*float64(cfg.CurrentWindow) {
		required := int(1.5*float64(total) + 0.999999)
		window := min(required, safeLimit)
		return Result{Window: window, Reason: session.ReasonUsageThreshold}
	}

	if modelChanged {
		window := min(safeLimit, DefaultInitialWindow)
		return Result{Window: window, Reason: session.ReasonModelChange}
	}

	return Result{Window: cfg.CurrentWindow, Reason: session.ReasonNoAdjustment}
}

// NumCtxOption returns the `num_ctx` value to send with the chat request,
// or ok=false when neither dynamic sizing nor a manual override applies
// and the daemon's own default should be used instead.
func NumCtxOption(window int, cfg session.ContextWindowConfig) (value int, ok bool) {
	if cfg.DynamicEnabled || cfg.ManualOverride {
		return window, true
	}
	return 0, false
}
