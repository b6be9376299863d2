package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/h1v3-io/agentrouter/internal/provider"
	"github.com/h1v3-io/agentrouter/internal/tool"
	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

const defaultMaxIterations = 6

const (
	// EmptyAnswerFallback replaces a final model turn with no content.
	// TODO: find out which upstream condition yields an empty final turn
	// and surface it instead of papering over it.
	EmptyAnswerFallback = "I apologize, but I couldn't generate a response."

	// MaxIterationsAnswer is returned when the iteration bound runs out
	// while the model is still calling tools.
	MaxIterationsAnswer = "I apologize, but I reached the maximum number of tool call iterations. " +
		"Please try rephrasing your request or contact support."
)

// ErrEmptyTask is returned when the task is blank after trimming.
var ErrEmptyTask = errors.New("agent: task is empty")

// Dispatcher exposes the tool set to the loop. Implemented by *tool.Registry.
type Dispatcher interface {
	Definitions() []protocol.ToolDefinition
	Dispatch(ctx context.Context, call protocol.ToolCall) tool.Record
}

// Orchestrator runs bounded tool-using conversations against a provider.
type Orchestrator struct {
	Provider      provider.Provider
	Tools         Dispatcher
	Logger        *slog.Logger
	MaxIterations int
	// Model overrides the provider's default model when set.
	Model string
	// Now is the clock used for the date in the system prompt.
	Now func() time.Time
}

// New creates an Orchestrator with sensible defaults.
func New(prov provider.Provider, tools Dispatcher) *Orchestrator {
	return &Orchestrator{
		Provider:      prov,
		Tools:         tools,
		Logger:        slog.Default(),
		MaxIterations: defaultMaxIterations,
		Now:           time.Now,
	}
}

// Request is one run's input.
type Request struct {
	Task     string
	Language string
	// CallerID is attributed to tickets created during the run.
	CallerID string
	// TraceID correlates logs; one is generated when empty.
	TraceID string
	// MaxIterations overrides the orchestrator bound when positive.
	MaxIterations int
}

// Result is a completed run.
type Result struct {
	TraceID     string
	FinalAnswer string
	// Invocations holds one record per dispatched tool call, in call order.
	Invocations []tool.Record
	// InferenceCalls counts provider calls made.
	InferenceCalls int
	Conversation   protocol.Conversation
	Model          string
	Elapsed        time.Duration
}

// RunError is returned when a provider call fails. It unwraps to
// provider.ErrTimeout or provider.ErrProtocol.
type RunError struct {
	TraceID        string
	Elapsed        time.Duration
	InferenceCalls int
	Err            error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("agent: run %s: %v", e.TraceID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Timeout reports whether the run failed on the inference deadline.
func (e *RunError) Timeout() bool { return errors.Is(e.Err, provider.ErrTimeout) }
