package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/agentrouter/internal/tool"
	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

// Loop states, logged at debug level.
const (
	stateAwaitingModel    = "awaiting_model"
	stateDispatchingTools = "dispatching_tools"
	stateDone             = "done"
)

// Run executes the tool loop: send the conversation to the model, dispatch
// any requested tool calls, and repeat until the model answers without
// tools or the iteration bound is reached.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	task := strings.TrimSpace(req.Task)
	if task == "" {
		return nil, ErrEmptyTask
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = o.MaxIterations
	}
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	now := time.Now
	if o.Now != nil {
		now = o.Now
	}

	model := o.Model
	if model == "" {
		model = o.Provider.Model()
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("trace_id", traceID)
	if req.CallerID != "" {
		ctx = tool.WithCallerID(ctx, req.CallerID)
	}

	res := &Result{
		TraceID: traceID,
		Model:   model,
		Conversation: protocol.Conversation{
			protocol.SystemTurn{Content: SystemPrompt(req.Language, now())},
			protocol.UserTurn{Content: task},
		},
	}
	toolDefs := o.Tools.Definitions()

	finish := func(answer string) *Result {
		res.FinalAnswer = answer
		res.Elapsed = time.Since(start)
		logger.Debug("agent state", "state", stateDone, "iterations", res.InferenceCalls)
		return res
	}

	for i := 0; i < maxIter; i++ {
		logger.Debug("agent state",
			"state", stateAwaitingModel,
			"iteration", i+1,
			"turns", len(res.Conversation),
		)

		res.InferenceCalls++
		resp, err := o.Provider.Chat(ctx, protocol.ChatRequest{
			Model:      model,
			Messages:   res.Conversation.Messages(),
			Tools:      toolDefs,
			ToolChoice: protocol.ToolChoiceAuto,
		})
		if err != nil {
			return nil, &RunError{
				TraceID:        traceID,
				Elapsed:        time.Since(start),
				InferenceCalls: res.InferenceCalls,
				Err:            err,
			}
		}

		res.Conversation = append(res.Conversation, protocol.AssistantTurn{
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if !resp.HasToolCalls() {
			if resp.Content == "" {
				logger.Warn("model returned an empty answer", "iteration", i+1)
				return finish(EmptyAnswerFallback), nil
			}
			return finish(resp.Content), nil
		}

		logger.Debug("agent state",
			"state", stateDispatchingTools,
			"iteration", i+1,
			"tool_calls", len(resp.ToolCalls),
		)

		for _, tc := range resp.ToolCalls {
			rec := o.Tools.Dispatch(ctx, tc)
			res.Invocations = append(res.Invocations, rec)
			res.Conversation = append(res.Conversation, rec.Turn())

			if rec.Failed() {
				logger.Warn(fmt.Sprintf("tool error: %s", tc.Name),
					"call_id", tc.ID,
					"arguments", rec.Arguments,
					"duration_ms", rec.Duration.Milliseconds(),
					"error", rec.Error,
				)
				continue
			}
			logger.Info(fmt.Sprintf("tool call: %s", tc.Name),
				"call_id", tc.ID,
				"arguments", rec.Arguments,
				"duration_ms", rec.Duration.Milliseconds(),
				"degraded", rec.Degraded,
			)
		}
	}

	logger.Warn("agent exceeded max iterations", "max_iterations", maxIter)
	return finish(MaxIterationsAnswer), nil
}
