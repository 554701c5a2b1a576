// Package scheduler restarts the workflow on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/cascade/pkg/schema"
)

const defaultPollInterval = 15 * time.Second

// Runner is the engine surface the scheduler drives. Satisfied by
// *engine.Engine.
type Runner interface {
	State() schema.ExecutionState
	Reset(ctx context.Context) error
	StartWorkflow(ctx context.Context, stageID string) error
}

// Config configures a Scheduler.
type Config struct {
	// Cron is a five-field expression (minute hour dom month dow) or a
	// descriptor such as "@hourly".
	Cron string
	// StageID is where each scheduled run starts; empty means the first stage.
	StageID string
	// PollInterval is how often the schedule is checked. Default 15s.
	PollInterval time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Scheduler starts a fresh run whenever the schedule comes due and the
// engine is idle or finished. Runs still in flight are never interrupted;
// the firing is skipped.
type Scheduler struct {
	runner   Runner
	stageID  string
	expr     string
	schedule cron.Schedule
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	next   time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// New parses the schedule and creates a Scheduler.
func New(runner Runner, cfg Config) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.Cron)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse cron expression %q", cfg.Cron).WithCause(err)
	}

	s := &Scheduler{
		runner:   runner,
		stageID:  cfg.StageID,
		expr:     cfg.Cron,
		schedule: schedule,
		interval: cfg.PollInterval,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
	if s.interval <= 0 {
		s.interval = defaultPollInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "scheduler"))
	s.next = s.schedule.Next(s.now())
	return s, nil
}

// NextRun returns when the schedule next comes due.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Start launches the background polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	next := s.next
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started",
		slog.String("cron", s.expr),
		slog.Time("next_run", next))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires the schedule if it is due. It reports whether a run was
// started.
func (s *Scheduler) Tick(ctx context.Context) bool {
	now := s.now()
	s.mu.Lock()
	if now.Before(s.next) {
		s.mu.Unlock()
		return false
	}
	s.next = s.schedule.Next(now)
	next := s.next
	s.mu.Unlock()

	started, err := s.fire(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled run failed to start",
			slog.String("error", err.Error()),
			slog.Time("next_run", next))
		return false
	}
	return started
}

func (s *Scheduler) fire(ctx context.Context) (bool, error) {
	state := s.runner.State()
	switch {
	case state == schema.StateIdle:
	case state.IsTerminal():
		if err := s.runner.Reset(ctx); err != nil {
			return false, fmt.Errorf("reset before scheduled run: %w", err)
		}
	default:
		s.logger.InfoContext(ctx, "skipping scheduled run; workflow busy",
			slog.String("state", string(state)))
		return false, nil
	}

	if err := s.runner.StartWorkflow(ctx, s.stageID); err != nil {
		return false, err
	}
	s.logger.InfoContext(ctx, "scheduled run started",
		slog.String("stage_id", s.stageID),
		slog.String("previous_state", string(state)))
	return true, nil
}

// Stop shuts down the polling loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
	return nil
}
