package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

// Registry holds registered tools and dispatches execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry. Re-registering a name replaces the
// tool but keeps its original position.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the names of all registered tools in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions returns all tools in OpenAI function-calling format, in
// registration order.
func (r *Registry) Definitions() []protocol.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]protocol.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, protocol.NewToolDefinition(
			t.Name(),
			t.Description(),
			t.Parameters(),
		))
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Record is the trace of one dispatched tool call.
type Record struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Err       error          `json:"-"`
	Duration  time.Duration  `json:"-"`
	Degraded  bool           `json:"degraded,omitempty"`
}

// Failed reports whether the call produced an error instead of a result.
func (r Record) Failed() bool { return r.Err != nil }

// Output is what the caller sees: the result, or {"error": msg}.
func (r Record) Output() any {
	if r.Failed() {
		return map[string]string{"error": r.Error}
	}
	return r.Result
}

// Content renders Output as the tool-result turn content.
func (r Record) Content() string {
	data, err := json.Marshal(r.Output())
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return string(data)
}

// Turn builds the tool-result turn answering this call.
func (r Record) Turn() protocol.ToolResultTurn {
	return protocol.ToolResultTurn{CallID: r.CallID, Name: r.Name, Content: r.Content()}
}

type degradable interface {
	Degraded() bool
}

// Dispatch parses call's arguments, runs the named tool and records the
// outcome. Failures never escape as errors; they are carried in the
// record so the model can see them.
func (r *Registry) Dispatch(ctx context.Context, call protocol.ToolCall) Record {
	start := time.Now()
	rec := Record{CallID: call.ID, Name: call.Name, Arguments: map[string]any{}}
	fail := func(err error) Record {
		rec.Err = err
		rec.Error = err.Error()
		rec.Duration = time.Since(start)
		return rec
	}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		return fail(err)
	}
	rec.Arguments = args

	t, ok := r.Get(call.Name)
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrUnknownTool, call.Name))
	}

	if inj, ok := t.(CallerInjector); ok {
		if caller := CallerIDFromContext(ctx); caller != "" {
			inj.InjectCaller(args, caller)
		}
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrToolFailed, err))
	}
	if d, ok := result.(degradable); ok {
		rec.Degraded = d.Degraded()
	}
	rec.Result = result
	rec.Duration = time.Since(start)
	return rec
}

// parseArguments decodes the raw payload, which must be a JSON object. An
// empty payload is treated as no arguments.
func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	if args == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedArguments)
	}
	return args, nil
}
