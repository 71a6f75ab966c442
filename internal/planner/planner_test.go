package planner

import (
	"testing"

	"github.com/lennartpollvogt/mochi-server/internal/session"
)

func TestPlanManualOverrideKeepsWindow(t *testing.T) {
	cfg := session.ContextWindowConfig{CurrentWindow: 4096, ManualOverride: true, DynamicEnabled: true}
	r := Plan(32768, cfg, Usage{}, false)
	if r.Window != 4096 || r.Reason != session.ReasonManualOverride {
		t.Fatalf("got %+v", r)
	}
}

func TestPlanDynamicDisabledKeepsWindow(t *testing.T) {
	cfg := session.ContextWindowConfig{CurrentWindow: 2048, DynamicEnabled: false}
	r := Plan(32768, cfg, Usage{PromptTokens: 9000}, false)
	if r.Window != 2048 || r.Reason != session.ReasonNoAdjustment {
		t.Fatalf("got %+v", r)
	}
}

func TestPlanInitialSetupUsesDefaultOrSafeLimit(t *testing.T) {
	cfg := session.ContextWindowConfig{CurrentWindow: 0, DynamicEnabled: true}
	r := Plan(4096, cfg, Usage{}, false)
	if r.Reason != session.ReasonInitialSetup {
		t.Fatalf("expected initial_setup, got %+v", r)
	}
	// safe limit = 4096*0.9 = 3686, less than the 8192 default.
	if r.Window != 3686 {
		t.Fatalf("expected safe-limited window 3686, got %d", r.Window)
	}
}

func TestPlanInitialSetupNoOpWhenAlreadyAtInitial(t *testing.T) {
	cfg := session.ContextWindowConfig{CurrentWindow: DefaultInitialWindow, DynamicEnabled: true}
	r := Plan(0, cfg, Usage{}, false)
	if r.Reason != session.ReasonNoAdjustment || r.Window != DefaultInitialWindow {
		t.Fatalf("got %+v", r)
	}
}

func TestPlanUsageThresholdGrowsWindow(t *testing.T) {
	cfg := session.ContextWindowConfig{CurrentWindow: 8192, DynamicEnabled: true}
	r := Plan(131072, cfg, Usage{PromptTokens: 6000, EvalTokens: 1000}, false)
	if r.Reason != session.ReasonUsageThreshold {
		t.Fatalf("expected usage_threshold, got %+v", r)
	}
	// usage 7000 > 0.5*8192, so window = ceil(1.5*7000) = 10500, under the safe limit.
	if r.Window != 10500 {
		t.Fatalf("expected window 10500, got %d", r.Window)
	}
}

func TestPlanUsageThresholdClampsToSafeLimit(t *testing.T) {
	cfg := session.ContextWindowConfig{CurrentWindow: 8192, DynamicEnabled: true}
	r := Plan(4096, cfg, Usage{PromptTokens: 50000}, false)
	modelMaxContext := 4096
	safeLimit := int(float64(modelMaxContext) * SafeLimitPercentage)
	if r.Window != safeLimit {
		t.Fatalf("expected window clamped to safe limit %d, got %d", safeLimit, r.Window)
	}
}

func TestPlanNoAdjustmentWhenUsageUnderThreshold(t *testing.T) {
	cfg := session.ContextWindowConfig{CurrentWindow: 8192, DynamicEnabled: true}
	r := Plan(32768, cfg, Usage{PromptTokens: 1000, EvalTokens: 500}, false)
	if r.Reason != session.ReasonNoAdjustment {
		t.Fatalf("expected no_adjustment, got %+v", r)
	}
}

func TestPlanModelChangeResetsWindow(t *testing.T) {
	// Usage below the threshold fraction so usage_threshold doesn't preempt
	// model_change, and non-zero so initial_setup doesn't either.
	cfg := session.ContextWindowConfig{CurrentWindow: 20000, DynamicEnabled: true}
	r := Plan(32768, cfg, Usage{PromptTokens: 1000}, true)
	if r.Reason != session.ReasonModelChange {
		t.Fatalf("expected model_change, got %+v", r)
	}
	if r.Window != DefaultInitialWindow {
		t.Fatalf("expected window reset to default %d, got %d", DefaultInitialWindow, r.Window)
	}
}

func TestPlanUsageThresholdTakesPriorityOverModelChange(t *testing.T) {
	cfg := session.ContextWindowConfig{CurrentWindow: 8192, DynamicEnabled: true}
	r := Plan(131072, cfg, Usage{PromptTokens: 6000, EvalTokens: 1000}, true)
	if r.Reason != session.ReasonUsageThreshold {
		t.Fatalf("expected usage_threshold to take priority over model_change, got %+v", r)
	}
}

func TestNumCtxOption(t *testing.T) {
	if _, ok := NumCtxOption(4096, session.ContextWindowConfig{}); ok {
		t.Fatal("expected no num_ctx option when dynamic disabled and no override")
	}
	if v, ok := NumCtxOption(4096, session.ContextWindowConfig{DynamicEnabled: true}); !ok || v != 4096 {
		t.Fatalf("expected num_ctx 4096, got %d ok=%v", v, ok)
	}
	if v, ok := NumCtxOption(2048, session.ContextWindowConfig{ManualOverride: true}); !ok || v != 2048 {
		t.Fatalf("expected num_ctx 2048 via override, got %d ok=%v", v, ok)
	}
}
