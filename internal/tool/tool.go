package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Tool is the interface every agent tool must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// CallerInjector is implemented by tools that attribute their work to the
// caller. InjectCaller runs before Execute and may add keys to params.
type CallerInjector interface {
	InjectCaller(params map[string]any, callerID string)
}

var (
	// ErrUnknownTool means the model named a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMalformedArguments means the raw argument payload is not a JSON object.
	ErrMalformedArguments = errors.New("malformed arguments")
	// ErrToolFailed wraps every error returned by a tool's Execute.
	ErrToolFailed = errors.New("tool execution failed")
	// ErrInvalidArguments means the arguments parsed but do not fit the
	// tool's signature.
	ErrInvalidArguments = errors.New("invalid arguments")
)

type contextKey string

const callerIDKey = contextKey("caller_id")

// WithCallerID returns a context carrying the caller's identity.
func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey, callerID)
}

// CallerIDFromContext returns the caller identity, if any.
func CallerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerIDKey).(string); ok {
		return v
	}
	return ""
}

// decodeArgs checks required keys and decodes params into dst, rejecting
// keys the tool does not declare.
func decodeArgs(params map[string]any, dst any, required ...string) error {
	for _, key := range required {
		if _, ok := params[key]; !ok {
			return fmt.Errorf("%w: missing required argument %q", ErrInvalidArguments, key)
		}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func getString(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func getStringSlice(params map[string]any, key string) []string {
	raw, ok := params[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}
