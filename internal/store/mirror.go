package store

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

// mirror is the in-memory state every backend keeps. Writers hold mu
// across validation, ID allocation, insertion and the backend write so IDs
// come out strictly increasing and the mirror never disagrees with a
// successful write.
type mirror struct {
	mu          sync.Mutex
	tickets     []protocol.Ticket
	followups   []protocol.Followup
	ticketSeq   int
	followupSeq int
	now         func() time.Time
	logger      *slog.Logger
}

func newMirror(opts Options) mirror {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return mirror{now: now, logger: logger.With("component", "store")}
}

// persistFunc writes a freshly inserted record to the backend. A non-nil
// error makes the mirror roll the insert back.
type persistFunc[T any] func(ctx context.Context, rec T) (Durability, error)

func (m *mirror) createTicket(ctx context.Context, in NewTicket, persist persistFunc[protocol.Ticket]) (TicketReceipt, error) {
	if err := validateTicket(in); err != nil {
		return TicketReceipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ticketSeq++
	t := protocol.Ticket{
		ID:        ticketID(m.ticketSeq),
		Title:     in.Title,
		Body:      in.Body,
		Priority:  in.Priority,
		Status:    protocol.TicketStatusCreated,
		Author:    in.Author,
		CreatedAt: m.now().UTC(),
	}
	m.tickets = append(m.tickets, t)

	d, err := persist(ctx, t)
	if err != nil {
		m.tickets = m.tickets[:len(m.tickets)-1]
		m.ticketSeq--
		return TicketReceipt{}, err
	}
	return TicketReceipt{TicketID: t.ID, Status: t.Status, Durability: d}, nil
}

func (m *mirror) scheduleFollowup(ctx context.Context, in NewFollowup, persist persistFunc[protocol.Followup]) (FollowupReceipt, error) {
	if err := validateFollowup(in); err != nil {
		return FollowupReceipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.followupSeq++
	f := protocol.Followup{
		ID:          followupID(m.followupSeq),
		DatetimeISO: in.DatetimeISO,
		Contact:     in.Contact,
		Channel:     in.Channel,
		Scheduled:   true,
		CreatedAt:   m.now().UTC(),
	}
	m.followups = append(m.followups, f)

	d, err := persist(ctx, f)
	if err != nil {
		m.followups = m.followups[:len(m.followups)-1]
		m.followupSeq--
		return FollowupReceipt{}, err
	}
	return FollowupReceipt{Scheduled: true, FollowupID: f.ID, Durability: d}, nil
}

func (m *mirror) Tickets() []protocol.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tickets)
}

func (m *mirror) Followups() []protocol.Followup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.followups)
}

// restore replaces the mirror with loaded records and reconciles the
// counters so the next ID is past every stored one.
func (m *mirror) restore(tickets []protocol.Ticket, followups []protocol.Followup, ticketSeq, followupSeq int) {
	slices.SortFunc(tickets, func(a, b protocol.Ticket) int { return cmp.Compare(idNumber(a.ID), idNumber(b.ID)) })
	slices.SortFunc(followups, func(a, b protocol.Followup) int { return cmp.Compare(idNumber(a.ID), idNumber(b.ID)) })

	for _, t := range tickets {
		ticketSeq = max(ticketSeq, idNumber(t.ID))
	}
	for _, f := range followups {
		followupSeq = max(followupSeq, idNumber(f.ID))
	}

	m.tickets = tickets
	m.followups = followups
	m.ticketSeq = ticketSeq
	m.followupSeq = followupSeq
}

// counters returns the current sequence values. Callers hold mu.
func (m *mirror) counters() (int, int) {
	return m.ticketSeq, m.followupSeq
}
