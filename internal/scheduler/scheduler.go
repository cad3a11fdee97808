package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sigmoyd/flowcraft/internal/backend"
	"github.com/sigmoyd/flowcraft/internal/store"
	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// DefaultSchedule refreshes the workflow list every five minutes.
const DefaultSchedule = "*/5 * * * *"

// Source lists the workflows the server knows about.
// Satisfied by *backend.Client.
type Source interface {
	SidebarWorkflows(ctx context.Context) ([]backend.SidebarEntry, error)
}

// Sink replaces the local workflow cache. Satisfied by store.Store.
type Sink interface {
	ReplaceWorkflows(ctx context.Context, wfs []*store.StoredWorkflow) (store.SyncResult, error)
}

// Status describes the most recent sync.
type Status struct {
	LastRunAt *time.Time       `json:"last_run_at,omitempty"`
	NextRunAt *time.Time       `json:"next_run_at,omitempty"`
	Result    store.SyncResult `json:"result"`
	Error     string           `json:"error,omitempty"`
}

// Scheduler mirrors the server workflow list into the local store on a
// cron schedule.
type Scheduler struct {
	source   Source
	sink     Sink
	parser   cron.Parser
	schedule cron.Schedule
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	running  atomic.Bool
	statusMu sync.Mutex
	status   Status
}

// NewScheduler creates a Scheduler for a five-field cron spec. An empty
// spec selects DefaultSchedule.
func NewScheduler(src Source, sink Sink, spec string, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		source: src,
		sink:   sink,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger: logger,
	}
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse sync schedule %q: %s", spec, err.Error()).WithCause(err)
	}
	s.schedule = schedule
	return s, nil
}

// Start launches the background loop. The first sync runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("workflow sync started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.tick(ctx)

	for {
		next := s.schedule.Next(time.Now())
		s.setNext(next)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.Sync(ctx)
	switch {
	case schema.IsCode(err, schema.ErrCodeBusy):
		s.logger.Debug("skipping workflow sync, previous run still active")
	case err != nil:
		s.logger.Error("workflow sync failed", slog.String("error", err.Error()))
	default:
		s.logger.Info("workflow sync complete",
			slog.Int("upserted", res.Upserted),
			slog.Int("removed", res.Removed),
		)
	}
}

// Sync pulls the server list once and replaces the local cache. A sync
// already in progress makes it fail with BUSY.
func (s *Scheduler) Sync(ctx context.Context) (store.SyncResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return store.SyncResult{}, schema.NewError(schema.ErrCodeBusy, "workflow sync already running")
	}
	defer s.running.Store(false)

	res, err := s.sync(ctx)
	s.record(res, err)
	return res, err
}

func (s *Scheduler) sync(ctx context.Context) (store.SyncResult, error) {
	entries, err := s.source.SidebarWorkflows(ctx)
	if err != nil {
		return store.SyncResult{}, err
	}

	wfs := make([]*store.StoredWorkflow, 0, len(entries))
	for _, e := range entries {
		doc, err := e.Workflow()
		if err != nil {
			// The id still counts as known; only the cached document is lost.
			s.logger.Warn("sidebar entry has an unreadable document",
				slog.String("workflow_id", e.ID.String()),
				slog.String("error", err.Error()),
			)
			doc = &schema.Workflow{WorkflowID: e.ID, WorkflowName: e.Name}
		}
		wfs = append(wfs, &store.StoredWorkflow{
			ID:       e.ID.String(),
			Name:     e.Name,
			Prompt:   e.Prompt,
			Document: doc,
			Active:   e.Active,
			Public:   e.Public,
		})
	}
	return s.sink.ReplaceWorkflows(ctx, wfs)
}

func (s *Scheduler) record(res store.SyncResult, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	now := time.Now().UTC()
	s.status.LastRunAt = &now
	s.status.Result = res
	s.status.Error = ""
	if err != nil {
		s.status.Error = err.Error()
	}
}

func (s *Scheduler) setNext(next time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	next = next.UTC()
	s.status.NextRunAt = &next
}

// Status returns a snapshot of the last sync.
func (s *Scheduler) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("workflow sync stopped")
	return nil
}
