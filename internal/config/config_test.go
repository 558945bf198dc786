package config

import (
	"os"
	"path/filepath"
	"testing"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	t.Setenv(EnvConfigFile, "")
	for _, key := range []string{EnvPort, EnvLogLevel, EnvFFmpeg, EnvHeadless, EnvNotify, EnvGIFWidth, EnvGIFHeight} {
		t.Setenv(key, "")
	}
	return dir
}

func TestNew_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.DBPath() != filepath.Join(dir, DBFilename) {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
	if cfg.ExportsDir() != filepath.Join(dir, "exports") {
		t.Errorf("ExportsDir() = %q", cfg.ExportsDir())
	}
	if !cfg.DesktopNotify() {
		t.Error("DesktopNotify() should default to true")
	}
	if cfg.GIFWidth() != DefaultGIFWidth || cfg.GIFHeight() != DefaultGIFHeight {
		t.Errorf("GIF size = %dx%d, want %dx%d", cfg.GIFWidth(), cfg.GIFHeight(), DefaultGIFWidth, DefaultGIFHeight)
	}
}

func TestNew_PortFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv(EnvPort, "9001")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9001 {
		t.Errorf("Port() = %d, want 9001", cfg.Port())
	}
}

func TestNew_InvalidPort(t *testing.T) {
	isolate(t)

	for _, v := range []string{"abc", "0", "70000"} {
		t.Setenv(EnvPort, v)
		if _, err := New(); err == nil {
			t.Errorf("New() with %s=%q should fail", EnvPort, v)
		}
	}
}

func TestNew_YAMLFile(t *testing.T) {
	dir := isolate(t)

	yamlBody := "port: 9100\nlog_level: debug\nheadless: true\ndesktop_notify: false\ngif:\n  width: 320\n  height: 240\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFilename), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9100 {
		t.Errorf("Port() = %d, want 9100", cfg.Port())
	}
	if cfg.LogLevel() != "debug" {
		t.Errorf("LogLevel() = %q, want debug", cfg.LogLevel())
	}
	if !cfg.Headless() {
		t.Error("Headless() = false, want true")
	}
	if cfg.DesktopNotify() {
		t.Error("DesktopNotify() = true, want false")
	}
	if cfg.GIFWidth() != 320 || cfg.GIFHeight() != 240 {
		t.Errorf("GIF size = %dx%d, want 320x240", cfg.GIFWidth(), cfg.GIFHeight())
	}
}

func TestNew_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)

	if err := os.WriteFile(filepath.Join(dir, ConfigFilename), []byte("port: 9100\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvPort, "9200")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9200 {
		t.Errorf("Port() = %d, want 9200", cfg.Port())
	}
}

func TestNew_ExplicitConfigMissing(t *testing.T) {
	dir := isolate(t)
	t.Setenv(EnvConfigFile, filepath.Join(dir, "missing.yaml"))

	if _, err := New(); err == nil {
		t.Fatal("New() should fail when the explicit config file is missing")
	}
}

func TestNew_InvalidBool(t *testing.T) {
	isolate(t)
	t.Setenv(EnvHeadless, "sometimes")

	if _, err := New(); err == nil {
		t.Fatal("New() should fail for a non-boolean headless value")
	}
}
