package provider

import (
	"context"
	"errors"

	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

// Provider is the abstraction over the inference endpoint.
type Provider interface {
	Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error)
	Name() string
	Model() string
}

var (
	// ErrTimeout means the endpoint did not answer within the deadline.
	ErrTimeout = errors.New("inference timeout")
	// ErrProtocol covers transport failures, non-2xx answers and malformed bodies.
	ErrProtocol = errors.New("inference protocol error")
)
