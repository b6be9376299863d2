package protocol

import (
	"slices"
	"time"
)

// Priority is the urgency of a ticket.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Priorities lists the accepted priorities in schema order.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// Valid reports whether p is one of the accepted priorities.
func (p Priority) Valid() bool {
	return slices.Contains(Priorities, p)
}

// TicketStatusCreated is the only status a ticket ever has.
const TicketStatusCreated = "created"

// Ticket is a support ticket opened on behalf of a caller.
type Ticket struct {
	ID        string    `json:"ticket_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Priority  Priority  `json:"priority"`
	Status    string    `json:"status"`
	Author    *string   `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Channel is how a follow-up contact happens.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelPhone    Channel = "phone"
	ChannelWhatsApp Channel = "whatsapp"
)

// Channels lists the accepted channels in schema order.
var Channels = []Channel{ChannelEmail, ChannelPhone, ChannelWhatsApp}

// Valid reports whether c is one of the accepted channels.
func (c Channel) Valid() bool {
	return slices.Contains(Channels, c)
}

// Followup is a scheduled contact. DatetimeISO is kept exactly as supplied.
type Followup struct {
	ID          string    `json:"followup_id"`
	DatetimeISO string    `json:"datetime_iso"`
	Contact     string    `json:"contact"`
	Channel     Channel   `json:"channel"`
	Scheduled   bool      `json:"scheduled"`
	CreatedAt   time.Time `json:"created_at"`
}
