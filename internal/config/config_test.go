package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != Default().Addr {
		t.Errorf("Addr = %q, want default %q", cfg.Addr, Default().Addr)
	}
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsh.yaml")
	if err := Save(path, Config{Addr: ":9999", Name: "custom", ScrollbackLimit: 5000}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Name != "custom" || cfg.ScrollbackLimit != 5000 {
		t.Errorf("cfg = %+v, want overridden values", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsh.yaml")
	if err := Save(path, Config{Addr: ":1111"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	t.Setenv("WSH_ADDR", ":2222")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":2222" {
		t.Errorf("Addr = %q, want env override :2222", cfg.Addr)
	}
}

func TestConfigPathPrefersEnv(t *testing.T) {
	t.Setenv("WSH_CONFIG", "/from/env.yaml")
	if got := ConfigPath("/from/flag.yaml"); got != "/from/env.yaml" {
		t.Errorf("ConfigPath = %q, want env value", got)
	}
}
