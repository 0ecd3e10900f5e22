package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to key names for environment variable overrides,
// e.g. MEDFLOW_DETECTION_THRESHOLD.
const EnvPrefix = "MEDFLOW_"

// Config holds engine settings. Resolution order: defaults, then the global
// file (~/.config/medflow/config.yaml), then a local .medflow.yaml, then
// environment variables. Later sources win.
type Config struct {
	// Provider is the AI provider the run is pinned to.
	Provider string `yaml:"provider"`

	// Model overrides the task-tier model selection when non-empty.
	Model string `yaml:"model"`

	// DetectionThreshold gates dispatch: below it, a document without the
	// is-medical flag is rejected.
	DetectionThreshold float64 `yaml:"detectionThreshold"`

	// Language is the fallback language when detection reports none.
	Language string `yaml:"language"`

	// RecordingsDir is where run recordings persist.
	RecordingsDir string `yaml:"recordingsDir"`

	// RetentionDays / ArchiveAfterDays control recording lifecycle.
	RetentionDays    int `yaml:"retentionDays"`
	ArchiveAfterDays int `yaml:"archiveAfterDays"`

	// WebhookURL receives run-completion notifications when set.
	WebhookURL string `yaml:"webhookUrl"`

	// SkipExternalValidation disables the optional external validation
	// stage.
	SkipExternalValidation bool `yaml:"skipExternalValidation"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Provider:               "claude",
		DetectionThreshold:     0.5,
		Language:               "en",
		RecordingsDir:          ".medflow/recordings",
		RetentionDays:          30,
		ArchiveAfterDays:       7,
		SkipExternalValidation: true,
	}
}

// Load resolves configuration from all sources. startDir anchors the local
// config lookup; pass "." for the working directory.
func Load(startDir string) (Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		globalPath := filepath.Join(home, ".config", "medflow", "config.yaml")
		if err := mergeFile(&cfg, globalPath); err != nil {
			return cfg, fmt.Errorf("global config: %w", err)
		}
	}

	if localPath := findLocal(startDir); localPath != "" {
		if err := mergeFile(&cfg, localPath); err != nil {
			return cfg, fmt.Errorf("local config: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.DetectionThreshold < 0 || cfg.DetectionThreshold > 1 {
		return cfg, fmt.Errorf("detectionThreshold %v out of range [0,1]", cfg.DetectionThreshold)
	}
	return cfg, nil
}

// mergeFile overlays one yaml file onto cfg. A missing file is not an error.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// findLocal walks up from startDir looking for .medflow.yaml.
func findLocal(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".medflow.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func applyEnv(cfg *Config) {
	if v := envValue("PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := envValue("MODEL"); v != "" {
		cfg.Model = v
	}
	if v := envValue("DETECTION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DetectionThreshold = f
		}
	}
	if v := envValue("LANGUAGE"); v != "" {
		cfg.Language = v
	}
	if v := envValue("RECORDINGS_DIR"); v != "" {
		cfg.RecordingsDir = v
	}
	if v := envValue("RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = n
		}
	}
	if v := envValue("ARCHIVE_AFTER_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ArchiveAfterDays = n
		}
	}
	if v := envValue("WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}
	if v := envValue("SKIP_EXTERNAL_VALIDATION"); v != "" {
		cfg.SkipExternalValidation = strings.EqualFold(v, "true") || v == "1"
	}
}

func envValue(key string) string {
	return os.Getenv(EnvPrefix + key)
}

// Save writes the config as yaml, creating parent directories.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
