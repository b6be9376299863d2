// Package store persists tickets and follow-ups over one of three
// interchangeable backends: volatile memory, a JSON file snapshot, or a
// relational database.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

// Store is the persistence interface shared by every backend.
type Store interface {
	// CreateTicket validates and records a new ticket.
	CreateTicket(ctx context.Context, t NewTicket) (TicketReceipt, error)
	// ScheduleFollowup validates and records a new follow-up.
	ScheduleFollowup(ctx context.Context, f NewFollowup) (FollowupReceipt, error)
	// Tickets returns every ticket in ID order.
	Tickets() []protocol.Ticket
	// Followups returns every follow-up in ID order.
	Followups() []protocol.Followup
	// Kind reports the backend variant.
	Kind() Kind
	// Close releases backend resources.
	Close() error
}

// Kind names a backend variant.
type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
	KindSQL    Kind = "sql"
)

// Durability describes how far a write got.
type Durability string

const (
	// DurabilityVolatile means the record lives only in process memory.
	DurabilityVolatile Durability = "volatile"
	// DurabilityPersisted means the backend confirmed the write.
	DurabilityPersisted Durability = "persisted"
	// DurabilityDegraded means the record was accepted in memory but the
	// durable write failed.
	DurabilityDegraded Durability = "degraded"
)

var (
	// ErrRejected matches every validation failure.
	ErrRejected = errors.New("input rejected")

	ErrInvalidPriority = fmt.Errorf("%w: invalid priority", ErrRejected)
	ErrInvalidChannel  = fmt.Errorf("%w: invalid channel", ErrRejected)
	ErrInvalidDatetime = fmt.Errorf("%w: invalid datetime", ErrRejected)
)

// NewTicket is the input to CreateTicket.
type NewTicket struct {
	Title    string
	Body     string
	Priority protocol.Priority
	Author   *string
}

// NewFollowup is the input to ScheduleFollowup.
type NewFollowup struct {
	DatetimeISO string
	Contact     string
	Channel     protocol.Channel
}

// TicketReceipt is returned to the model after a ticket is created.
type TicketReceipt struct {
	TicketID   string     `json:"ticket_id"`
	Status     string     `json:"status"`
	Durability Durability `json:"-"`
}

// FollowupReceipt is returned to the model after a follow-up is scheduled.
type FollowupReceipt struct {
	Scheduled  bool       `json:"scheduled"`
	FollowupID string     `json:"followup_id"`
	Durability Durability `json:"-"`
}

// Degraded reports whether the durable write failed.
func (r TicketReceipt) Degraded() bool { return r.Durability == DurabilityDegraded }

// Degraded reports whether the durable write failed.
func (r FollowupReceipt) Degraded() bool { return r.Durability == DurabilityDegraded }

// Options selects and configures a backend.
type Options struct {
	Kind Kind
	// File is the snapshot path for KindFile.
	File string
	// Driver is one of sqlite, postgres or mysql for KindSQL.
	Driver string
	// DSN is the data source name for KindSQL. For sqlite it is a file path.
	DSN    string
	Logger *slog.Logger
	// Now overrides the clock used for created_at.
	Now func() time.Time
}

// Open builds the backend named by opts.Kind. An empty kind selects memory.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case KindMemory, "":
		return NewMemory(opts), nil
	case KindFile:
		return OpenFile(opts)
	case KindSQL:
		return OpenSQL(ctx, opts)
	default:
		return nil, fmt.Errorf("store: unknown kind %q", opts.Kind)
	}
}

// datetimeLayouts are the ISO-8601 forms accepted for follow-ups.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02 15:04Z0700",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02T15Z07:00",
	"2006-01-02 15Z07:00",
	"2006-01-02T15",
	"2006-01-02 15",
	"2006-01-02",
}

// ParseDatetime parses an ISO-8601 timestamp in any accepted form. Values
// without a zone are interpreted as UTC.
func ParseDatetime(s string) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not ISO 8601", ErrInvalidDatetime, s)
}

func validateTicket(t NewTicket) error {
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: %q, must be one of: low, medium, high", ErrInvalidPriority, t.Priority)
	}
	return nil
}

func validateFollowup(f NewFollowup) error {
	if !f.Channel.Valid() {
		return fmt.Errorf("%w: %q, must be one of: email, phone, whatsapp", ErrInvalidChannel, f.Channel)
	}
	if _, err := ParseDatetime(f.DatetimeISO); err != nil {
		return err
	}
	return nil
}

func ticketID(n int) string   { return fmt.Sprintf("TICK-%06d", n) }
func followupID(n int) string { return fmt.Sprintf("FUP-%06d", n) }

// idNumber extracts the sequence number from a TICK-/FUP- identifier.
func idNumber(id string) int {
	n, err := strconv.Atoi(id[strings.LastIndexByte(id, '-')+1:])
	if err != nil {
		return 0
	}
	return n
}
