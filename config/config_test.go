package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

const minimalConfig = `creditflow:
  name: "TestApp"
  version: "1.0"
backend:
  base_url: "http://localhost:8000"
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Creditflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Creditflow.Name)
	}
	if cfg.Session.CheckInterval != 60*time.Second {
		t.Errorf("unexpected session check interval: %v", cfg.Session.CheckInterval)
	}
	if cfg.Session.RefreshThreshold != 5*time.Minute {
		t.Errorf("unexpected refresh threshold: %v", cfg.Session.RefreshThreshold)
	}
	if cfg.Stream.HeartbeatInterval != 25*time.Second {
		t.Errorf("unexpected heartbeat interval: %v", cfg.Stream.HeartbeatInterval)
	}
	if cfg.Stream.ReconnectMaxDelay != 30*time.Second {
		t.Errorf("unexpected reconnect max delay: %v", cfg.Stream.ReconnectMaxDelay)
	}
	if cfg.Backend.WebsocketURL != "ws://localhost:8000/ws" {
		t.Errorf("websocket url not derived: %s", cfg.Backend.WebsocketURL)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	path := writeTempConfig(t, `creditflow:
  version: "1.0"
backend:
  base_url: "http://localhost:8000"
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for missing name")
	}
}

func TestLoadConfigMissingBackend(t *testing.T) {
	path := writeTempConfig(t, `creditflow:
  name: "TestApp"
  version: "1.0"
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for missing backend url")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BACKEND_BASE_URL", "https://scoring.example.com")
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Backend.BaseURL != "https://scoring.example.com" {
		t.Errorf("env override ignored: %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.WebsocketURL != "wss://scoring.example.com/ws" {
		t.Errorf("websocket url not derived from override: %s", cfg.Backend.WebsocketURL)
	}
}

func TestLoadConfigArchiveValidation(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`archive:
  enabled: true
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for archive without directory")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	if !isValidS3Bucket("creditflow-archive") {
		t.Errorf("expected bucket name to be valid")
	}
	if isValidS3Bucket("..bad") || isValidS3Bucket("ab") {
		t.Errorf("expected bucket names to be invalid")
	}
}
