package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/h1v3-io/agentrouter/internal/store"
	"github.com/h1v3-io/agentrouter/pkg/protocol"
)

// FollowupLister is the read side of the store the sweep needs.
type FollowupLister interface {
	Followups() []protocol.Followup
}

// Scheduler runs the periodic follow-up due sweep on a cron schedule.
type Scheduler struct {
	mu        sync.Mutex
	cron      *cron.Cron
	entry     cron.EntryID
	source    FollowupLister
	announced map[string]bool // followup_id → already logged as due
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a scheduler over the given follow-up source.
func New(source FollowupLister, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:      cron.New(),
		source:    source,
		announced: make(map[string]bool),
		now:       time.Now,
		logger:    logger.With("component", "scheduler"),
	}
}

// Schedule registers the sweep. The schedule is a standard 5-field cron
// expression or a descriptor like @every 1m.
func (s *Scheduler) Schedule(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	id, err := s.cron.AddFunc(schedule, func() { s.Sweep() })
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}
	s.entry = id
	s.logger.Info("followup sweep registered", "schedule", schedule)
	return nil
}

// Start begins the cron scheduler. Blocks until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// Sweep logs every follow-up whose time has passed and that has not been
// announced yet. It returns the IDs announced by this call.
func (s *Scheduler) Sweep() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []string
	for _, f := range s.source.Followups() {
		if s.announced[f.ID] {
			continue
		}
		at, err := store.ParseDatetime(f.DatetimeISO)
		if err != nil {
			s.logger.Warn("followup has unparseable datetime", "followup_id", f.ID, "datetime_iso", f.DatetimeISO)
			s.announced[f.ID] = true
			continue
		}
		if at.After(now) {
			continue
		}
		s.announced[f.ID] = true
		due = append(due, f.ID)
		s.logger.Info("followup due",
			"followup_id", f.ID,
			"contact", f.Contact,
			"channel", f.Channel,
			"datetime_iso", f.DatetimeISO,
		)
	}
	return due
}

// Announced returns how many follow-ups have been logged as due.
func (s *Scheduler) Announced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.announced)
}
