package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/h1v3-io/agentrouter/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testKB = `[
  {"id": "kb-001", "title": "Refund Policy", "content": "Refunds are available within 30 days of purchase.", "tags": ["billing"], "audience": "customer", "last_updated": "2025-01-10"},
  {"id": "kb-002", "title": "Password Reset", "content": "Use the forgot password link on the login page.", "tags": ["account"], "audience": "customer", "last_updated": "2025-02-01"}
]`

// fakeOpenAI answers the first call with a search_kb tool call and every
// later call with a final text answer.
func fakeOpenAI(t *testing.T, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"search_kb","arguments":"{\"query\":\"refund policy\"}"}}
			]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":50,"completion_tokens":10}}`)
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Refunds are available within 30 days."},"finish_reason":"stop"}],"usage":{"prompt_tokens":80,"completion_tokens":12}}`)
	}))
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	kbPath := filepath.Join(dir, "kb.json")
	if err := os.WriteFile(kbPath, []byte(testKB), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.KB.Path = kbPath
	cfg.Storage.Type = config.StorageFile
	cfg.Storage.File = filepath.Join(dir, "state.json")
	cfg.Scheduler.FollowupSweep = "@every 1m"
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestAppEndToEnd(t *testing.T) {
	var calls atomic.Int32
	llm := fakeOpenAI(t, &calls)
	defer llm.Close()

	cfg := testConfig(t)
	cfg.OpenAI.APIKey = "sk-test"
	cfg.OpenAI.BaseURL = llm.URL

	a, err := newApp(context.Background(), cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	req := httptest.NewRequest("POST", "/v1/agent/run", strings.NewReader(`{"task": "What is your refund policy?"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		FinalAnswer string `json:"final_answer"`
		ToolCalls   []struct {
			Name   string         `json:"name"`
			Result map[string]any `json:"result"`
		} `json:"tool_calls"`
		Metrics struct {
			OpenAICalls int `json:"openai_calls"`
		} `json:"metrics"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.FinalAnswer != "Refunds are available within 30 days." {
		t.Errorf("final_answer = %q", resp.FinalAnswer)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "search_kb" {
		t.Fatalf("tool_calls = %+v", resp.ToolCalls)
	}
	results, _ := resp.ToolCalls[0].Result["results"].([]any)
	if len(results) == 0 {
		t.Fatalf("search_kb returned no results: %v", resp.ToolCalls[0].Result)
	}
	if first, _ := results[0].(map[string]any); first["id"] != "kb-001" {
		t.Errorf("top result = %v, want kb-001", first)
	}
	if resp.Metrics.OpenAICalls != 2 {
		t.Errorf("openai_calls = %d, want 2", resp.Metrics.OpenAICalls)
	}
}

func TestAppWithoutAPIKeyRefusesRuns(t *testing.T) {
	cfg := testConfig(t)

	a, err := newApp(context.Background(), cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	if a.runner != nil {
		t.Error("runner should be nil without an API key")
	}

	req := httptest.NewRequest("POST", "/v1/agent/run", strings.NewReader(`{"task": "hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}

	w = httptest.NewRecorder()
	a.server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health = %d", w.Code)
	}
}

func TestAppSQLiteStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = config.StorageSQL
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "router.db")

	a, err := newApp(context.Background(), cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	if got := string(a.store.Kind()); got != "sql" {
		t.Errorf("store kind = %q, want sql", got)
	}
}

func TestAppInvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.FollowupSweep = "whenever"

	if _, err := newApp(context.Background(), cfg, discardLogger(), nil); err == nil {
		t.Error("expected error for invalid sweep schedule")
	}
}
