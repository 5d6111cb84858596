package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	cfg := m.GetConfig()
	if cfg.Transcription.Provider != "google" {
		t.Errorf("Provider = %q, want google", cfg.Transcription.Provider)
	}
}

func TestNewManager_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[transcription]\nprovider = \"acme\"\n")

	if _, err := NewManager(path); err == nil {
		t.Error("NewManager() should reject an invalid config file")
	}
}

func TestManager_GetConfigReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	cfg := m.GetConfig()
	cfg.Transcription.Language = "mutated"

	if m.GetConfig().Transcription.Language == "mutated" {
		t.Error("mutating the returned config must not affect the manager")
	}
}

func TestManager_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var seen []*Config
	m.OnChange(func(c *Config) { seen = append(seen, c) })

	writeConfig(t, path, "[transcription]\nprovider = \"deepgram\"\napi_key = \"k\"\n")
	m.reload()

	if m.GetConfig().Transcription.Provider != "deepgram" {
		t.Errorf("Provider = %q, want deepgram after reload", m.GetConfig().Transcription.Provider)
	}
	if len(seen) != 1 {
		t.Errorf("OnChange fired %d times, want 1", len(seen))
	}
}

func TestManager_ReloadKeepsPreviousOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var fired int
	m.OnChange(func(c *Config) { fired++ })

	writeConfig(t, path, "not [valid toml")
	m.reload()

	if m.GetConfig().Transcription.Provider != "google" {
		t.Error("a broken reload must keep the previous config")
	}

	writeConfig(t, path, "[audio]\nsample_rate = -1\n")
	m.reload()

	if m.GetConfig().Audio.SampleRate != 16000 {
		t.Error("an invalid reload must keep the previous config")
	}
	if fired != 0 {
		t.Errorf("OnChange fired %d times for failed reloads, want 0", fired)
	}
}
