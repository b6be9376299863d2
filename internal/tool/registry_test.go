package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

// stubTool is a minimal Tool for testing.
type stubTool struct {
	name   string
	result any
	err    error
	got    map[string]any
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return "stub tool" }
func (s *stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) Execute(_ context.Context, params map[string]any) (any, error) {
	s.got = params
	return s.result, s.err
}

type degradedResult struct{}

func (degradedResult) Degraded() bool { return true }

func TestRegistry_RegisterAndDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "echo", result: map[string]string{"said": "hello"}})

	if !reg.Has("echo") {
		t.Fatal("expected registry to have 'echo'")
	}
	if reg.Has("missing") {
		t.Fatal("expected registry to not have 'missing'")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected len 1, got %d", reg.Len())
	}

	rec := reg.Dispatch(context.Background(), protocol.ToolCall{ID: "c1", Name: "echo", Arguments: `{"x": 1}`})
	if rec.Failed() {
		t.Fatalf("unexpected error: %v", rec.Err)
	}
	if rec.CallID != "c1" || rec.Name != "echo" {
		t.Errorf("record identity wrong: %+v", rec)
	}
	if rec.Arguments["x"] != float64(1) {
		t.Errorf("expected parsed arguments, got %v", rec.Arguments)
	}
	if rec.Content() != `{"said":"hello"}` {
		t.Errorf("unexpected content %q", rec.Content())
	}
	turn := rec.Turn()
	if turn.CallID != "c1" || turn.Name != "echo" {
		t.Errorf("unexpected turn %+v", turn)
	}
}

func TestRegistry_DispatchUnknown(t *testing.T) {
	reg := NewRegistry()
	rec := reg.Dispatch(context.Background(), protocol.ToolCall{ID: "c1", Name: "nope", Arguments: `{"a": "b"}`})
	if !errors.Is(rec.Err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", rec.Err)
	}
	if rec.Arguments["a"] != "b" {
		t.Errorf("arguments should still be recorded, got %v", rec.Arguments)
	}
	if rec.Content() != `{"error":"unknown tool: nope"}` {
		t.Errorf("unexpected content %q", rec.Content())
	}
}

func TestRegistry_DispatchMalformed(t *testing.T) {
	reg := NewRegistry()
	stub := &stubTool{name: "echo"}
	reg.Register(stub)

	for _, raw := range []string{`{not json`, `[1, 2]`, `"text"`, `null`} {
		rec := reg.Dispatch(context.Background(), protocol.ToolCall{ID: "c1", Name: "echo", Arguments: raw})
		if !errors.Is(rec.Err, ErrMalformedArguments) {
			t.Errorf("%s: expected ErrMalformedArguments, got %v", raw, rec.Err)
		}
		if len(rec.Arguments) != 0 {
			t.Errorf("%s: expected empty arguments, got %v", raw, rec.Arguments)
		}
	}
	if stub.got != nil {
		t.Error("tool should not run on malformed arguments")
	}
}

func TestRegistry_DispatchEmptyArguments(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "echo", result: "ok"})

	rec := reg.Dispatch(context.Background(), protocol.ToolCall{ID: "c1", Name: "echo", Arguments: ""})
	if rec.Failed() {
		t.Fatalf("unexpected error: %v", rec.Err)
	}
}

func TestRegistry_DispatchToolError(t *testing.T) {
	reg := NewRegistry()
	cause := errors.New("boom")
	reg.Register(&stubTool{name: "echo", err: cause})

	rec := reg.Dispatch(context.Background(), protocol.ToolCall{ID: "c1", Name: "echo", Arguments: `{}`})
	if !errors.Is(rec.Err, ErrToolFailed) || !errors.Is(rec.Err, cause) {
		t.Fatalf("expected ErrToolFailed wrapping cause, got %v", rec.Err)
	}
	if errors.Is(rec.Err, ErrUnknownTool) || errors.Is(rec.Err, ErrMalformedArguments) {
		t.Error("failure causes must stay distinct")
	}
	out, ok := rec.Output().(map[string]string)
	if !ok || out["error"] == "" {
		t.Errorf("expected error output, got %v", rec.Output())
	}
}

func TestRegistry_DispatchDegraded(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "save", result: degradedResult{}})

	rec := reg.Dispatch(context.Background(), protocol.ToolCall{ID: "c1", Name: "save", Arguments: `{}`})
	if !rec.Degraded {
		t.Error("expected degraded flag")
	}
}

func TestRegistry_DefinitionsOrdered(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		reg.Register(&stubTool{name: name})
	}
	reg.Register(&stubTool{name: "a"})

	defs := reg.Definitions()
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	want := []string{"c", "a", "b"}
	for i, d := range defs {
		if d.Type != "function" {
			t.Errorf("expected type 'function', got %q", d.Type)
		}
		if d.Name() != want[i] {
			t.Errorf("definition %d: expected %q, got %q", i, want[i], d.Name())
		}
	}
	if got := reg.List(); len(got) != 3 || got[0] != "c" {
		t.Errorf("unexpected list %v", got)
	}
}

func TestCallerIDContext(t *testing.T) {
	ctx := context.Background()
	if CallerIDFromContext(ctx) != "" {
		t.Error("expected empty caller id")
	}
	ctx = WithCallerID(ctx, "cust-1")
	if CallerIDFromContext(ctx) != "cust-1" {
		t.Errorf("expected cust-1, got %q", CallerIDFromContext(ctx))
	}
}
