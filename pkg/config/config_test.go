package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsApplyWithoutFile(t *testing.T) {
	v := New()
	if err := Load(v, ""); err != nil {
		t.Fatalf("unexpected error with no config file present: %v", err)
	}
	cfg, err := Unmarshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("got http_addr %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.UploadMaxBytes != 512<<20 {
		t.Fatalf("got upload_max_bytes %d", cfg.UploadMaxBytes)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	content := "http_addr: \":9090\"\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	v := New()
	if err := Load(v, path); err != nil {
		t.Fatal(err)
	}
	cfg, err := Unmarshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("got %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("got %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_MissingExplicitFileErrors(t *testing.T) {
	v := New()
	if err := Load(v, "/nonexistent/path.yaml"); err == nil {
		t.Fatal("expected error for explicit missing file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DOCBACKBONE_HTTP_ADDR", ":7777")
	v := New()
	if err := Load(v, ""); err != nil {
		t.Fatal(err)
	}
	cfg, err := Unmarshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":7777" {
		t.Fatalf("got %q, want :7777 from env", cfg.HTTPAddr)
	}
}

func TestDiffHotReloadable(t *testing.T) {
	a := Config{LogLevel: "info", ProgressMinInterval: 500 * time.Millisecond}
	b := Config{LogLevel: "debug", ProgressMinInterval: 500 * time.Millisecond}
	changed := diffHotReloadable(a, b)
	if len(changed) != 1 || changed[0] != "log_level" {
		t.Fatalf("got %v", changed)
	}
}
