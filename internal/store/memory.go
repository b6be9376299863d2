package store

import (
	"context"

	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

// MemoryStore keeps everything in process memory. Counters restart at zero
// with the process.
type MemoryStore struct {
	mirror
}

// NewMemory creates an empty volatile store.
func NewMemory(opts Options) *MemoryStore {
	return &MemoryStore{mirror: newMirror(opts)}
}

func (s *MemoryStore) CreateTicket(ctx context.Context, t NewTicket) (TicketReceipt, error) {
	return s.createTicket(ctx, t, func(context.Context, protocol.Ticket) (Durability, error) {
		return DurabilityVolatile, nil
	})
}

func (s *MemoryStore) ScheduleFollowup(ctx context.Context, f NewFollowup) (FollowupReceipt, error) {
	return s.scheduleFollowup(ctx, f, func(context.Context, protocol.Followup) (Durability, error) {
		return DurabilityVolatile, nil
	})
}

func (s *MemoryStore) Kind() Kind   { return KindMemory }
func (s *MemoryStore) Close() error { return nil }
