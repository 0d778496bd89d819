package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":8082" {
		t.Fatalf("unexpected default http addr: %s", cfg.App.HTTPAddr)
	}
	if cfg.Tracking.FreeInterval != time.Hour {
		t.Fatalf("unexpected default free interval: %s", cfg.Tracking.FreeInterval)
	}
	if cfg.Tracking.PremiumInterval != 15*time.Minute {
		t.Fatalf("unexpected default premium interval: %s", cfg.Tracking.PremiumInterval)
	}
	if cfg.Batch.RunAtHour != 3 || cfg.Batch.RunAtMinute != 0 {
		t.Fatalf("unexpected default batch time: %d:%d", cfg.Batch.RunAtHour, cfg.Batch.RunAtMinute)
	}
	if cfg.Entitlement.Tier != "free" {
		t.Fatalf("unexpected default tier: %s", cfg.Entitlement.Tier)
	}
}

func TestLoad_ParsesDurationsAndAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"app": {"log_level": "debug"},
		"tracking": {"free_interval": "30m", "drop_threshold_pct": 15},
		"intelligence": {"timeout": "10s", "api_key": "k"}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.App.LogLevel)
	}
	if cfg.Tracking.FreeInterval != 30*time.Minute {
		t.Fatalf("unexpected free interval: %s", cfg.Tracking.FreeInterval)
	}
	if cfg.Tracking.DropThresholdPct != 15 {
		t.Fatalf("unexpected drop threshold: %v", cfg.Tracking.DropThresholdPct)
	}
	if cfg.Intelligence.Timeout != 10*time.Second {
		t.Fatalf("unexpected intel timeout: %s", cfg.Intelligence.Timeout)
	}
	// 未设置的字段回填默认值
	if cfg.Tracking.PremiumInterval != 15*time.Minute {
		t.Fatalf("expected premium interval default, got %s", cfg.Tracking.PremiumInterval)
	}
	if cfg.App.HTTPAddr != ":8082" {
		t.Fatalf("expected default http addr, got %s", cfg.App.HTTPAddr)
	}
}

func TestLoad_InvalidDurationRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"tracking": {"free_interval": "soon"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestSaveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := getDefaultConfig()
	cfg.Tracking.FreeInterval = 45 * time.Minute
	cfg.Entitlement.Tier = "premium"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Tracking.FreeInterval != 45*time.Minute {
		t.Fatalf("unexpected free interval after roundtrip: %s", loaded.Tracking.FreeInterval)
	}
	if loaded.Entitlement.Tier != "premium" {
		t.Fatalf("unexpected tier after roundtrip: %s", loaded.Entitlement.Tier)
	}
}
