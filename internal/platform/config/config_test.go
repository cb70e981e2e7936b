package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"biomon/internal/platform/config"
	apperrors "biomon/internal/platform/errors"
)

func TestNewUsesDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.New(dir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if cfg.Serial.Baud != 9600 || cfg.Session.Baseline != 5*time.Second || cfg.Session.Reading != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Session.PollInterval != 100*time.Millisecond || cfg.Classifier != "deviation" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DBPath != filepath.Join(dir, "biomon.db") || cfg.ExportDir != filepath.Join(dir, "exports") {
		t.Fatalf("unexpected paths: %+v", cfg)
	}
}

func TestNewLayersFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	yamlBody := "serial:\n  baud: 115200\nsession:\n  baseline: 3s\n  reading: 20s\nclassifier: absolute\n"
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BIOMON_HTTP_ADDR=127.0.0.1:9999\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("BIOMON_READING", "30s")
	t.Cleanup(func() { _ = os.Unsetenv("BIOMON_HTTP_ADDR") })

	cfg, err := config.New(dir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if cfg.Serial.Baud != 115200 || cfg.Session.Baseline != 3*time.Second {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Session.Reading != 30*time.Second {
		t.Fatalf("env override not applied, got %s", cfg.Session.Reading)
	}
	if cfg.Classifier != "absolute" || cfg.HTTP.Addr != "127.0.0.1:9999" {
		t.Fatalf("unexpected classifier/addr: %+v", cfg)
	}
	if cfg.Serial.ReadTimeout != time.Second {
		t.Fatalf("unset yaml keys must keep defaults, got %s", cfg.Serial.ReadTimeout)
	}
}

func TestNewRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte("session:\n  baseline: -1s\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	if _, err := config.New(dir); !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if _, err := config.New(""); !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Fatalf("expected invalid config for empty dir, got %v", err)
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	path, err := config.WriteDefault(dir)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if _, err := config.WriteDefault(dir); err == nil {
		t.Fatalf("expected error when config exists")
	}
	cfg, err := config.New(dir)
	if err != nil {
		t.Fatalf("reload %s: %v", path, err)
	}
	if cfg.Session.Reading != 10*time.Second || cfg.HTTP.Addr != ":8080" {
		t.Fatalf("unexpected reloaded config: %+v", cfg)
	}
}
