package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != "dev" {
		t.Fatalf("expected default mode dev, got %q", cfg.Mode)
	}
	if cfg.Capture.MITMProxy.Port != 8765 {
		t.Fatalf("expected default mitmproxy port 8765, got %d", cfg.Capture.MITMProxy.Port)
	}
	if cfg.Analysis.MaxConcurrentAnalyses != 16 {
		t.Fatalf("expected default max_concurrent_analyses 16, got %d", cfg.Analysis.MaxConcurrentAnalyses)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte("mode: production\ncapture:\n  mitmproxy:\n    port: 9999\nanalysis:\n  max_concurrent_analyses: 4\n")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != "production" {
		t.Fatalf("expected mode production, got %q", cfg.Mode)
	}
	if cfg.Capture.MITMProxy.Port != 9999 {
		t.Fatalf("expected overridden port 9999, got %d", cfg.Capture.MITMProxy.Port)
	}
	if cfg.Analysis.MaxConcurrentAnalyses != 4 {
		t.Fatalf("expected overridden max_concurrent_analyses 4, got %d", cfg.Analysis.MaxConcurrentAnalyses)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Mode = "staging"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for unknown mode")
	}
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Analysis.MaxConcurrentAnalyses = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for zero max_concurrent_analyses")
	}
}
