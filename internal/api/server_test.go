package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/h1v3-io/agentrouter/internal/agent"
	"github.com/h1v3-io/agentrouter/internal/logbuf"
	"github.com/h1v3-io/agentrouter/internal/provider"
	"github.com/h1v3-io/agentrouter/internal/tool"
	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockRunner implements Runner for testing.
type mockRunner struct {
	result *agent.Result
	err    error
	got    agent.Request
	ctx    context.Context
}

func (m *mockRunner) Run(ctx context.Context, req agent.Request) (*agent.Result, error) {
	m.got = req
	m.ctx = ctx
	if m.err != nil {
		return nil, m.err
	}
	res := *m.result
	res.TraceID = req.TraceID
	return &res, nil
}

type mockRecords struct {
	tickets   []protocol.Ticket
	followups []protocol.Followup
}

func (m *mockRecords) Tickets() []protocol.Ticket     { return m.tickets }
func (m *mockRecords) Followups() []protocol.Followup { return m.followups }

func newTestServer(runner Runner, records Records, logs LogQuerier) *Server {
	if records == nil {
		records = &mockRecords{}
	}
	return NewServer(runner, records, Config{Host: "127.0.0.1", Port: 0}, nil, logs)
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := do(newTestServer(nil, nil, nil), "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestRootAndUsage(t *testing.T) {
	srv := newTestServer(nil, nil, nil)

	w := do(srv, "GET", "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/v1/agent/run") {
		t.Errorf("root = %d %s", w.Code, w.Body.String())
	}

	w = do(srv, "GET", "/v1/agent/run", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "requires POST") {
		t.Errorf("usage = %d %s", w.Code, w.Body.String())
	}
}

func TestRunSuccess(t *testing.T) {
	failed := tool.Record{
		Name:      "create_ticket",
		Arguments: map[string]any{"title": "x"},
		Error:     "tool execution failed: invalid priority",
		Err:       tool.ErrToolFailed,
	}
	runner := &mockRunner{result: &agent.Result{
		FinalAnswer: "Refunds are available within 30 days.",
		Invocations: []tool.Record{
			{Name: "search_kb", Arguments: map[string]any{"query": "refund"}, Result: map[string]any{"results": []any{}}},
			failed,
		},
		InferenceCalls: 3,
		Model:          "gpt-4o",
	}}
	srv := newTestServer(runner, nil, nil)

	w := do(srv, "POST", "/v1/agent/run", `{"task": "  What is the refund policy?  ", "customer_id": "cust-9", "language": "en"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp RunResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TraceID == "" {
		t.Error("trace_id should be set")
	}
	if resp.FinalAnswer != "Refunds are available within 30 days." {
		t.Errorf("final_answer = %q", resp.FinalAnswer)
	}
	if resp.Metrics.OpenAICalls != 3 || resp.Metrics.Model != "gpt-4o" {
		t.Errorf("metrics = %+v", resp.Metrics)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("tool_calls = %d, want 2", len(resp.ToolCalls))
	}
	errResult, ok := resp.ToolCalls[1].Result.(map[string]any)
	if !ok || errResult["error"] == nil {
		t.Errorf("failed tool result = %v, want {error: ...}", resp.ToolCalls[1].Result)
	}

	if runner.got.Task != "What is the refund policy?" {
		t.Errorf("task = %q, want trimmed", runner.got.Task)
	}
	if runner.got.CallerID != "cust-9" || runner.got.Language != "en" {
		t.Errorf("request = %+v", runner.got)
	}
	if runner.got.TraceID != resp.TraceID {
		t.Errorf("trace id mismatch: %q vs %q", runner.got.TraceID, resp.TraceID)
	}
	if runner.ctx.Done() != nil {
		t.Error("run context should not be cancellable by the client")
	}
}

func TestRunValidation(t *testing.T) {
	runner := &mockRunner{result: &agent.Result{}}
	srv := newTestServer(runner, nil, nil)

	cases := map[string]string{
		"invalid json":      `{broken`,
		"missing task":      `{"language": "en"}`,
		"blank task":        `{"task": "   "}`,
		"task too long":     fmt.Sprintf(`{"task": %q}`, strings.Repeat("a", 5001)),
		"language too long": `{"task": "hi", "language": "klingon-dialect"}`,
		"customer too long": fmt.Sprintf(`{"task": "hi", "customer_id": %q}`, strings.Repeat("c", 101)),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(srv, "POST", "/v1/agent/run", body)
			if w.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", w.Code)
			}
		})
	}
}

func TestRunWithoutRunner(t *testing.T) {
	w := do(newTestServer(nil, nil, nil), "POST", "/v1/agent/run", `{"task": "hi"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestRunErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"timeout", &agent.RunError{TraceID: "t", Err: fmt.Errorf("provider: chat: %w", provider.ErrTimeout)}, http.StatusGatewayTimeout},
		{"protocol", &agent.RunError{TraceID: "t", Err: fmt.Errorf("provider: status 500: %w", provider.ErrProtocol)}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&mockRunner{err: tt.err}, nil, nil)
			w := do(srv, "POST", "/v1/agent/run", `{"task": "hi"}`)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}

			var body struct {
				Detail ErrorDetail `json:"detail"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Detail.TraceID == "" || body.Detail.Error == "" {
				t.Errorf("detail = %+v", body.Detail)
			}
		})
	}
}

func TestTimeoutMessage(t *testing.T) {
	srv := newTestServer(&mockRunner{err: &agent.RunError{Err: provider.ErrTimeout}}, nil, nil)
	w := do(srv, "POST", "/v1/agent/run", `{"task": "hi"}`)
	if !strings.Contains(w.Body.String(), "Request timeout") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListRecords(t *testing.T) {
	records := &mockRecords{
		tickets:   []protocol.Ticket{{ID: "TICK-000001", Title: "Login", Priority: protocol.PriorityHigh, Status: protocol.TicketStatusCreated}},
		followups: []protocol.Followup{{ID: "FUP-000001", DatetimeISO: "2025-12-15", Channel: protocol.ChannelEmail, Scheduled: true}},
	}
	srv := newTestServer(nil, records, nil)

	w := do(srv, "GET", "/v1/tickets", "")
	var tickets []protocol.Ticket
	json.NewDecoder(w.Body).Decode(&tickets)
	if len(tickets) != 1 || tickets[0].ID != "TICK-000001" {
		t.Errorf("tickets = %+v", tickets)
	}

	w = do(srv, "GET", "/v1/followups", "")
	var followups []protocol.Followup
	json.NewDecoder(w.Body).Decode(&followups)
	if len(followups) != 1 || followups[0].ID != "FUP-000001" {
		t.Errorf("followups = %+v", followups)
	}
}

func TestListRecordsEmptyIsArray(t *testing.T) {
	w := do(newTestServer(nil, nil, nil), "GET", "/v1/tickets", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %s, want []", w.Body.String())
	}
}

func TestLogs(t *testing.T) {
	buf := logbuf.New(50)
	logger := slog.New(logbuf.NewHandler(slog.NewJSONHandler(&strings.Builder{}, nil), buf))
	logger.Info("run one", logbuf.TraceKey, "trace-a")
	logger.Warn("run two", logbuf.TraceKey, "trace-b")
	logger.Debug("noise")

	srv := newTestServer(nil, nil, buf)

	w := do(srv, "GET", "/v1/logs", "")
	var entries []logbuf.Entry
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 3 {
		t.Errorf("entries = %d, want 3", len(entries))
	}

	w = do(srv, "GET", "/v1/logs?trace_id=trace-b", "")
	entries = nil
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].Message != "run two" {
		t.Errorf("entries = %+v", entries)
	}

	w = do(srv, "GET", "/v1/logs?level=warn&limit=10", "")
	entries = nil
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}

	future := time.Now().Add(time.Hour).UnixMilli()
	w = do(srv, "GET", fmt.Sprintf("/v1/logs?since=%d", future), "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %s, want []", w.Body.String())
	}
}

func TestLogsWithoutBuffer(t *testing.T) {
	w := do(newTestServer(nil, nil, nil), "GET", "/v1/logs", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("logs = %d %s", w.Code, w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	w := do(newTestServer(nil, nil, nil), "OPTIONS", "/v1/agent/run", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
