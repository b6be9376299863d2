package tool

import (
	"context"

	"github.com/h1v3-io/agentrouter/internal/store"
	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

// TicketCreator persists tickets. Implemented by every store backend.
type TicketCreator interface {
	CreateTicket(ctx context.Context, t store.NewTicket) (store.TicketReceipt, error)
}

// FollowupScheduler persists follow-ups. Implemented by every store backend.
type FollowupScheduler interface {
	ScheduleFollowup(ctx context.Context, f store.NewFollowup) (store.FollowupReceipt, error)
}

// --- CreateTicketTool ---

type CreateTicketTool struct {
	Store TicketCreator
}

type createTicketArgs struct {
	Title    string  `json:"title"`
	Body     string  `json:"body"`
	Priority string  `json:"priority"`
	Author   *string `json:"author"`
}

func (t *CreateTicketTool) Name() string { return "create_ticket" }
func (t *CreateTicketTool) Description() string {
	return "Create a support ticket for operations or technical issues. Use this when the user explicitly asks to create a ticket, or when an issue requires escalation."
}
func (t *CreateTicketTool) Parameters() map[string]any {
	priorities := make([]string, len(protocol.Priorities))
	for i, p := range protocol.Priorities {
		priorities[i] = string(p)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":    map[string]any{"type": "string", "description": "A clear, concise title for the ticket"},
			"body":     map[string]any{"type": "string", "description": "Detailed description of the issue or request"},
			"priority": map[string]any{"type": "string", "description": "Priority level of the ticket", "enum": priorities},
			"author":   map[string]any{"type": "string", "description": "Optional author/customer identifier who created the ticket"},
		},
		"required": []string{"title", "body", "priority"},
	}
}

// InjectCaller attributes the ticket to the caller unless the model named
// an author itself.
func (t *CreateTicketTool) InjectCaller(params map[string]any, callerID string) {
	if _, ok := params["author"]; !ok {
		params["author"] = callerID
	}
}

func (t *CreateTicketTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	var args createTicketArgs
	if err := decodeArgs(params, &args, "title", "body", "priority"); err != nil {
		return nil, err
	}
	return t.Store.CreateTicket(ctx, store.NewTicket{
		Title:    args.Title,
		Body:     args.Body,
		Priority: protocol.Priority(args.Priority),
		Author:   args.Author,
	})
}

// --- ScheduleFollowupTool ---

type ScheduleFollowupTool struct {
	Store FollowupScheduler
}

type scheduleFollowupArgs struct {
	DatetimeISO string `json:"datetime_iso"`
	Contact     string `json:"contact"`
	Channel     string `json:"channel"`
}

func (t *ScheduleFollowupTool) Name() string { return "schedule_followup" }
func (t *ScheduleFollowupTool) Description() string {
	return "Schedule a follow-up call, meeting, or contact. Use this when the user explicitly asks to schedule something or set a reminder."
}
func (t *ScheduleFollowupTool) Parameters() map[string]any {
	channels := make([]string, len(protocol.Channels))
	for i, c := range protocol.Channels {
		channels[i] = string(c)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"datetime_iso": map[string]any{
				"type":        "string",
				"description": "ISO 8601 datetime string for when the follow-up should occur (e.g., '2025-12-15T10:30:00+01:00' for 10:30 CET)",
			},
			"contact": map[string]any{"type": "string", "description": "Contact information: email address, phone number, or name"},
			"channel": map[string]any{"type": "string", "description": "Communication channel for the follow-up", "enum": channels},
		},
		"required": []string{"datetime_iso", "contact", "channel"},
	}
}

func (t *ScheduleFollowupTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	var args scheduleFollowupArgs
	if err := decodeArgs(params, &args, "datetime_iso", "contact", "channel"); err != nil {
		return nil, err
	}
	return t.Store.ScheduleFollowup(ctx, store.NewFollowup{
		DatetimeISO: args.DatetimeISO,
		Contact:     args.Contact,
		Channel:     protocol.Channel(args.Channel),
	})
}
