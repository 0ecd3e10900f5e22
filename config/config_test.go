package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Provider != "claude" {
		t.Errorf("Provider = %q, want claude", cfg.Provider)
	}
	if cfg.DetectionThreshold != 0.5 {
		t.Errorf("DetectionThreshold = %v, want 0.5", cfg.DetectionThreshold)
	}
	if cfg.Language != "en" {
		t.Errorf("Language = %q, want en", cfg.Language)
	}
	if !cfg.SkipExternalValidation {
		t.Error("SkipExternalValidation = false, want true by default")
	}
}

func TestLoad_LocalFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, ".medflow.yaml")
	content := "provider: azure\ndetectionThreshold: 0.7\nlanguage: de\n"
	if err := os.WriteFile(local, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != "azure" {
		t.Errorf("Provider = %q, want azure", cfg.Provider)
	}
	if cfg.DetectionThreshold != 0.7 {
		t.Errorf("DetectionThreshold = %v, want 0.7", cfg.DetectionThreshold)
	}
	// Unset keys keep defaults.
	if cfg.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want default 30", cfg.RetentionDays)
	}
}

func TestLoad_FindsLocalFileInParent(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".medflow.yaml"), []byte("provider: local\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(sub)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != "local" {
		t.Errorf("Provider = %q, want local", cfg.Provider)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".medflow.yaml"), []byte("provider: fromfile\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvPrefix+"PROVIDER", "fromenv")
	t.Setenv(EnvPrefix+"DETECTION_THRESHOLD", "0.25")
	t.Setenv(EnvPrefix+"SKIP_EXTERNAL_VALIDATION", "false")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != "fromenv" {
		t.Errorf("Provider = %q, want fromenv", cfg.Provider)
	}
	if cfg.DetectionThreshold != 0.25 {
		t.Errorf("DetectionThreshold = %v, want 0.25", cfg.DetectionThreshold)
	}
	if cfg.SkipExternalValidation {
		t.Error("SkipExternalValidation = true, env should disable it")
	}
}

func TestLoad_ThresholdOutOfRange(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPrefix+"DETECTION_THRESHOLD", "1.5")

	if _, err := Load(dir); err == nil {
		t.Error("Load() accepted threshold 1.5, want error")
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := Default()
	cfg.Provider = "saved"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var reloaded Config
	if err := mergeFile(&reloaded, path); err != nil {
		t.Fatalf("mergeFile() error = %v", err)
	}
	if reloaded.Provider != "saved" {
		t.Errorf("Provider = %q, want saved", reloaded.Provider)
	}
}
