package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Analysis.Outliers.MinSampleSize != 10 {
		t.Errorf("expected min sample size 10, got %d", cfg.Analysis.Outliers.MinSampleSize)
	}
	if cfg.Cache.LocalTTL != 10*time.Minute {
		t.Errorf("expected local TTL 10m, got %v", cfg.Cache.LocalTTL)
	}
	if cfg.Report.OutputDir != "./reports" {
		t.Errorf("expected output dir ./reports, got %s", cfg.Report.OutputDir)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
cache:
  local_ttl: 30m
analysis:
  outliers:
    min_sample_size: 25
  custom_rules:
    - name: flag-big
      expression: "amount > 500.0"
report:
  output_dir: ./out
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Cache.LocalTTL != 30*time.Minute {
		t.Errorf("expected local TTL 30m, got %v", cfg.Cache.LocalTTL)
	}
	if cfg.Analysis.Outliers.MinSampleSize != 25 {
		t.Errorf("expected min sample size 25, got %d", cfg.Analysis.Outliers.MinSampleSize)
	}
	if len(cfg.Analysis.CustomRules) != 1 || cfg.Analysis.CustomRules[0].Name != "flag-big" {
		t.Errorf("expected one custom rule flag-big, got %+v", cfg.Analysis.CustomRules)
	}
	if cfg.Report.OutputDir != "./out" {
		t.Errorf("expected output dir ./out, got %s", cfg.Report.OutputDir)
	}

	// Values absent from the file keep their defaults.
	if cfg.Server.WriteTimeout != 60 {
		t.Errorf("expected default write timeout 60, got %d", cfg.Server.WriteTimeout)
	}
	if cfg.Analysis.Outliers.IQRMultiplier != 1.5 {
		t.Errorf("expected default IQR multiplier 1.5, got %f", cfg.Analysis.Outliers.IQRMultiplier)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("KESTREL_SERVER_PORT", "7070")
	t.Setenv("KESTREL_ANALYSIS_OUTLIERS_Z_SCORE_THRESHOLD", "4.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("expected env port 7070 to win, got %d", cfg.Server.Port)
	}
	if cfg.Analysis.Outliers.ZScoreThreshold != 4.5 {
		t.Errorf("expected z-score threshold 4.5, got %f", cfg.Analysis.Outliers.ZScoreThreshold)
	}
}

func TestLoadRejectsInvalidThresholds(t *testing.T) {
	path := writeConfig(t, `
analysis:
  alerts:
    low_risk_threshold: 0.9
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Key != "analysis.alerts" {
		t.Errorf("expected key analysis.alerts, got %s", cfgErr.Key)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("expected read failure, got %v", err)
	}
}
