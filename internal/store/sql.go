package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

const (
	ticketCounterName   = "ticket_counter"
	followupCounterName = "followup_counter"
)

// SQLStore mirrors a relational database. Entity rows are upserted in a
// transaction; counters are written in a separate step afterwards.
type SQLStore struct {
	mirror
	db      *sql.DB
	dialect dialect
}

// OpenSQL connects to the database, creates the schema if needed and
// rebuilds the in-memory mirror from the stored rows.
func OpenSQL(ctx context.Context, opts Options) (*SQLStore, error) {
	d, err := lookupDialect(opts.Driver)
	if err != nil {
		return nil, err
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("store: sql: dsn is required")
	}

	db, err := sql.Open(d.driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: sql: open: %w", err)
	}

	if d.driver == "sqlite" {
		// WAL lets the read endpoints proceed while a write is in flight.
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: sql: wal: %w", err)
		}
	}

	s := &SQLStore{mirror: newMirror(opts), db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts, err := s.dialect.statements()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: sql: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) load(ctx context.Context) error {
	tickets, err := s.loadTickets(ctx)
	if err != nil {
		return err
	}
	followups, err := s.loadFollowups(ctx)
	if err != nil {
		return err
	}

	counters := map[string]int{}
	rows, err := s.db.QueryContext(ctx, `SELECT counter_name, counter_value FROM storage_counters`)
	if err != nil {
		return fmt.Errorf("store: sql: load counters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var value int
		if err := rows.Scan(&name, &value); err != nil {
			return fmt.Errorf("store: sql: scan counter: %w", err)
		}
		counters[name] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: sql: load counters: %w", err)
	}

	s.restore(tickets, followups, counters[ticketCounterName], counters[followupCounterName])
	return nil
}

func (s *SQLStore) loadTickets(ctx context.Context) ([]protocol.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ticket_id, title, body, priority, status, author, created_at FROM tickets ORDER BY ticket_id`)
	if err != nil {
		return nil, fmt.Errorf("store: sql: load tickets: %w", err)
	}
	defer rows.Close()

	var out []protocol.Ticket
	for rows.Next() {
		var (
			t         protocol.Ticket
			priority  string
			author    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Body, &priority, &t.Status, &author, &createdAt); err != nil {
			return nil, fmt.Errorf("store: sql: scan ticket: %w", err)
		}
		t.Priority = protocol.Priority(priority)
		if author.Valid {
			a := author.String
			t.Author = &a
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) loadFollowups(ctx context.Context) ([]protocol.Followup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT followup_id, datetime_iso, contact, channel, scheduled, created_at FROM followups ORDER BY followup_id`)
	if err != nil {
		return nil, fmt.Errorf("store: sql: load followups: %w", err)
	}
	defer rows.Close()

	var out []protocol.Followup
	for rows.Next() {
		var (
			f         protocol.Followup
			channel   string
			scheduled int
			createdAt string
		)
		if err := rows.Scan(&f.ID, &f.DatetimeISO, &f.Contact, &channel, &scheduled, &createdAt); err != nil {
			return nil, fmt.Errorf("store: sql: scan followup: %w", err)
		}
		f.Channel = protocol.Channel(channel)
		f.Scheduled = scheduled != 0
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateTicket(ctx context.Context, t NewTicket) (TicketReceipt, error) {
	return s.createTicket(ctx, t, func(ctx context.Context, t protocol.Ticket) (Durability, error) {
		var author any
		if t.Author != nil {
			author = *t.Author
		}
		err := s.upsert(ctx, "tickets",
			t.ID, t.Title, t.Body, string(t.Priority), t.Status, author, t.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return "", err
		}
		return s.saveCounters(ctx), nil
	})
}

func (s *SQLStore) ScheduleFollowup(ctx context.Context, f NewFollowup) (FollowupReceipt, error) {
	return s.scheduleFollowup(ctx, f, func(ctx context.Context, f protocol.Followup) (Durability, error) {
		scheduled := 0
		if f.Scheduled {
			scheduled = 1
		}
		err := s.upsert(ctx, "followups",
			f.ID, f.DatetimeISO, f.Contact, string(f.Channel), scheduled, f.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return "", err
		}
		return s.saveCounters(ctx), nil
	})
}

func (s *SQLStore) Kind() Kind { return KindSQL }

// Driver returns the database driver name.
func (s *SQLStore) Driver() string { return s.dialect.driver }

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// upsert writes one entity row inside a transaction.
func (s *SQLStore) upsert(ctx context.Context, table string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: sql: begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(s.dialect.upsertSQL[table]), args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: sql: upsert %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: sql: commit %s: %w", table, err)
	}
	return nil
}

// saveCounters persists both sequences. A failure leaves the entity row in
// place, so it is logged and reported as degraded rather than returned.
// Callers hold mu.
func (s *SQLStore) saveCounters(ctx context.Context) Durability {
	ticketSeq, followupSeq := s.counters()
	if err := s.writeCounters(ctx, ticketSeq, followupSeq); err != nil {
		s.logger.Warn("persistence degraded", "backend", KindSQL, "driver", s.dialect.driver, "step", "counters", "error", err)
		return DurabilityDegraded
	}
	return DurabilityPersisted
}

func (s *SQLStore) writeCounters(ctx context.Context, ticketSeq, followupSeq int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt := s.dialect.rebind(`UPDATE storage_counters SET counter_value = ? WHERE counter_name = ?`)
	for name, value := range map[string]int{ticketCounterName: ticketSeq, followupCounterName: followupSeq} {
		if _, err := tx.ExecContext(ctx, stmt, value, name); err != nil {
			tx.Rollback()
			return fmt.Errorf("update %s: %w", name, err)
		}
	}
	return tx.Commit()
}
