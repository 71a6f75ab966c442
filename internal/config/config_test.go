package config

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadUsesDefaultsWithNoFlagsOrEnv(t *testing.T) {
	resetViper(t)
	cmd := &cobra.Command{Use: "test"}
	if err := BindFlags(cmd); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Defaults()
	if cfg.Host != want.Host || cfg.Port != want.Port || cfg.UpstreamBaseURL != want.UpstreamBaseURL {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.Addr() != "127.0.0.1:11535" {
		t.Fatalf("unexpected Addr(): %s", cfg.Addr())
	}
}

func TestLoadEnvOverridesFlagDefault(t *testing.T) {
	resetViper(t)
	cmd := &cobra.Command{Use: "test"}
	if err := BindFlags(cmd); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	t.Setenv("MOCHI_UPSTREAM_BASE_URL", "http://example.internal:9999")
	t.Setenv("MOCHI_PORT", "9090")
	os.Unsetenv("MOCHI_TOOL_WORKERS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UpstreamBaseURL != "http://example.internal:9999" {
		t.Fatalf("expected env override, got %q", cfg.UpstreamBaseURL)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected env-overridden port 9090, got %d", cfg.Port)
	}
	if cfg.ToolWorkers != Defaults().ToolWorkers {
		t.Fatalf("expected unset env var to fall back to the flag default, got %d", cfg.ToolWorkers)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	resetViper(t)
	cmd := &cobra.Command{Use: "test"}
	if err := BindFlags(cmd); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	t.Setenv("MOCHI_PORT", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for port 0")
	}
}
