package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
openai:
  api_key: sk-test-key
  model: gpt-4o-mini
  timeout_seconds: 30
agent:
  max_iterations: 4
kb:
  path: /srv/kb.yaml
storage:
  type: sql
  driver: postgres
  url: postgres://router@localhost/router?sslmode=disable
api:
  host: 0.0.0.0
  port: 9000
scheduler:
  followup_sweep: "*/5 * * * *"
log:
  level: debug
`

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	os.WriteFile(path, []byte(validYAML), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" || cfg.OpenAI.TimeoutSeconds != 30 {
		t.Errorf("openai = %+v", cfg.OpenAI)
	}
	if cfg.Agent.MaxIterations != 4 {
		t.Errorf("max_iterations = %d, want 4", cfg.Agent.MaxIterations)
	}
	if cfg.Storage.DSN() != "postgres://router@localhost/router?sslmode=disable" {
		t.Errorf("DSN = %q", cfg.Storage.DSN())
	}
	if cfg.API.Addr() != "0.0.0.0:9000" {
		t.Errorf("Addr = %q", cfg.API.Addr())
	}
}

func TestLoadJSONKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.json")
	os.WriteFile(path, []byte(`{"openai": {"api_key": "sk-x"}, "storage": {"type": "sqlite", "path": "/tmp/r.db"}}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Errorf("model = %q, want default gpt-4o", cfg.OpenAI.Model)
	}
	if cfg.Agent.MaxIterations != 6 {
		t.Errorf("max_iterations = %d, want 6", cfg.Agent.MaxIterations)
	}
	if cfg.Storage.Type != StorageSQL || cfg.Storage.Driver != "sqlite" {
		t.Errorf("storage = %+v, want sql/sqlite", cfg.Storage)
	}
	if cfg.Storage.DSN() != "/tmp/r.db" {
		t.Errorf("DSN = %q", cfg.Storage.DSN())
	}
	if cfg.API.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.API.Port)
	}
}

func TestLoadAPIKeyFallsBackToEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	path := filepath.Join(t.TempDir(), "router.json")
	os.WriteFile(path, []byte(`{}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q", cfg.OpenAI.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/router.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.json")
	os.WriteFile(path, []byte(`{broken`), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.OpenAI.TimeoutSeconds = 0
	cfg.Agent.MaxIterations = -1
	cfg.Storage.Type = "redis"
	cfg.API.Port = 70000
	cfg.Scheduler.FollowupSweep = "every now and then"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"timeout_seconds", "max_iterations", "storage.type", "api.port", "followup_sweep", "log.level",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
}

func TestValidateStorage(t *testing.T) {
	tests := []struct {
		name    string
		storage StorageConfig
		ok      bool
	}{
		{"memory", StorageConfig{Type: StorageMemory}, true},
		{"file", StorageConfig{Type: StorageFile, File: "s.json"}, true},
		{"file without path", StorageConfig{Type: StorageFile}, false},
		{"sqlite", StorageConfig{Type: StorageSQL, Driver: "sqlite", Path: "r.db"}, true},
		{"postgres without url", StorageConfig{Type: StorageSQL, Driver: "postgres"}, false},
		{"mysql", StorageConfig{Type: StorageSQL, Driver: "mysql", URL: "u:p@tcp(db)/r"}, true},
		{"unknown driver", StorageConfig{Type: StorageSQL, Driver: "oracle", URL: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Storage = tt.storage
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidateAllowsMissingAPIKey(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.HasAPIKey() {
		t.Error("HasAPIKey should be false")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_MODEL", "gpt-4.1")
	t.Setenv("AGENT_MAX_ITERATIONS", "3")
	t.Setenv("KB_PATH", "/data/kb.json")
	t.Setenv("STORAGE_TYPE", "FILE")
	t.Setenv("STORAGE_FILE", "/data/state.json")
	t.Setenv("API_PORT", "8081")
	t.Setenv("FOLLOWUP_SWEEP", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-env" || cfg.OpenAI.Model != "gpt-4.1" {
		t.Errorf("openai = %+v", cfg.OpenAI)
	}
	if cfg.Agent.MaxIterations != 3 {
		t.Errorf("max_iterations = %d", cfg.Agent.MaxIterations)
	}
	if cfg.KB.Path != "/data/kb.json" {
		t.Errorf("kb.path = %q", cfg.KB.Path)
	}
	if cfg.Storage.Type != StorageFile || cfg.Storage.File != "/data/state.json" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.API.Port != 8081 {
		t.Errorf("port = %d", cfg.API.Port)
	}
	if cfg.Scheduler.FollowupSweep != "" {
		t.Errorf("followup_sweep = %q, want disabled", cfg.Scheduler.FollowupSweep)
	}
}

func TestGetenvInt(t *testing.T) {
	t.Setenv("ROUTER_TEST_INT", "not-a-number")
	if got := getenvInt("ROUTER_TEST_INT", 7); got != 7 {
		t.Errorf("getenvInt = %d, want fallback 7", got)
	}
	t.Setenv("ROUTER_TEST_INT", "12")
	if got := getenvInt("ROUTER_TEST_INT", 7); got != 12 {
		t.Errorf("getenvInt = %d, want 12", got)
	}
}
