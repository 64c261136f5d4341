package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Concurrency != 10 {
		t.Errorf("Concurrency = %d, want default 10", cfg.Concurrency)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want ./data", cfg.DataDir)
	}
	if cfg.RetryAttempts != 5 || cfg.RetryMultiplier != 2 {
		t.Errorf("retry defaults = %d/%v", cfg.RetryAttempts, cfg.RetryMultiplier)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	content := `{"concurrency": 3, "data_dir": "/tmp/scrape", "retry_attempts": 2}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Concurrency != 3 || cfg.DataDir != "/tmp/scrape" || cfg.RetryAttempts != 2 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	// Untouched fields still defaulted.
	if cfg.RequestTimeoutMs != 30000 {
		t.Errorf("RequestTimeoutMs = %d, want default 30000", cfg.RequestTimeoutMs)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative concurrency", `{"concurrency": -1}`},
		{"timeout too small", `{"request_timeout_ms": 10}`},
		{"multiplier below one", `{"retry_multiplier": 0.5}`},
		{"malformed json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Errorf("LoadConfig() accepted %q", tt.content)
			}
		})
	}
}
