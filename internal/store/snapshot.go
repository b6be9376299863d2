package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

// snapshotFile is the on-disk layout of a FileStore.
type snapshotFile struct {
	Tickets         map[string]protocol.Ticket   `json:"tickets"`
	Followups       map[string]protocol.Followup `json:"followups"`
	TicketCounter   int                          `json:"ticket_counter"`
	FollowupCounter int                          `json:"followup_counter"`
}

// FileStore rewrites a full JSON snapshot of its state after every write.
// A failed rewrite keeps the record in memory and reports degraded
// durability.
type FileStore struct {
	mirror
	path string
}

// OpenFile loads the snapshot at opts.File if it exists. A missing file
// starts empty; an unreadable or corrupt one is an error.
func OpenFile(opts Options) (*FileStore, error) {
	if opts.File == "" {
		return nil, fmt.Errorf("store: file: path is required")
	}
	s := &FileStore{mirror: newMirror(opts), path: opts.File}

	data, err := os.ReadFile(opts.File)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: file: read %s: %w", opts.File, err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: file: parse %s: %w", opts.File, err)
	}

	tickets := make([]protocol.Ticket, 0, len(snap.Tickets))
	for _, t := range snap.Tickets {
		tickets = append(tickets, t)
	}
	followups := make([]protocol.Followup, 0, len(snap.Followups))
	for _, f := range snap.Followups {
		followups = append(followups, f)
	}
	s.restore(tickets, followups, snap.TicketCounter, snap.FollowupCounter)
	return s, nil
}

func (s *FileStore) CreateTicket(ctx context.Context, t NewTicket) (TicketReceipt, error) {
	return s.createTicket(ctx, t, func(context.Context, protocol.Ticket) (Durability, error) {
		return s.save(), nil
	})
}

func (s *FileStore) ScheduleFollowup(ctx context.Context, f NewFollowup) (FollowupReceipt, error) {
	return s.scheduleFollowup(ctx, f, func(context.Context, protocol.Followup) (Durability, error) {
		return s.save(), nil
	})
}

func (s *FileStore) Kind() Kind   { return KindFile }
func (s *FileStore) Close() error { return nil }

// Path returns the snapshot location.
func (s *FileStore) Path() string { return s.path }

// save writes the snapshot. Callers hold mu.
func (s *FileStore) save() Durability {
	if err := s.write(); err != nil {
		s.logger.Warn("persistence degraded", "backend", KindFile, "path", s.path, "error", err)
		return DurabilityDegraded
	}
	return DurabilityPersisted
}

func (s *FileStore) write() error {
	snap := snapshotFile{
		Tickets:   make(map[string]protocol.Ticket, len(s.tickets)),
		Followups: make(map[string]protocol.Followup, len(s.followups)),
	}
	for _, t := range s.tickets {
		snap.Tickets[t.ID] = t
	}
	for _, f := range s.followups {
		snap.Followups[f.ID] = f
	}
	snap.TicketCounter, snap.FollowupCounter = s.counters()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
