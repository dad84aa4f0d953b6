// Package scheduler fires the daily "scrape all" plan on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-event-crawler/internal/planner"
)

// DefaultSpec runs the plan every day at 06:00.
const DefaultSpec = "0 6 * * *"

// Planner is the plan entry point triggered by the schedule.
type Planner interface {
	Plan(ctx context.Context, trigger crawler.Trigger) (planner.Outcome, error)
}

// Config controls the schedule.
type Config struct {
	Spec     string
	Timezone string
	// PlanTimeout bounds a single scheduled plan call.
	PlanTimeout time.Duration
}

// Scheduler wraps a cron runner with a single plan job.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	planner Planner
	timeout time.Duration
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// New validates the schedule and registers the plan job. The schedule does
// not fire until Start.
func New(cfg Config, p Planner, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.PlanTimeout <= 0 {
		cfg.PlanTimeout = time.Minute
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule timezone %q: %w", cfg.Timezone, err)
	}
	cl := cronLogger{logger: logger.Named("cron")}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    c,
		planner: p,
		timeout: cfg.PlanTimeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	entry, err := c.AddFunc(cfg.Spec, s.fire)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("schedule spec %q: %w", cfg.Spec, err)
	}
	s.entry = entry
	return s, nil
}

// Start begins firing the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scrape schedule started", zap.Time("next_run", s.Next()))
}

// Next returns the next scheduled fire time; zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop halts the schedule and waits for a running plan to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	out, err := s.planner.Plan(ctx, crawler.TriggerSchedule)
	if err != nil {
		s.logger.Error("scheduled scrape failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled scrape dispatched", zap.Int("count", out.Count), zap.String("message", out.Message))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
