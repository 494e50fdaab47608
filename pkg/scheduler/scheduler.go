// Package scheduler resumes delay nodes once their resume time has passed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowrun/pkg/engine"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/robfig/cron/v3"
)

// DefaultPollInterval is used when no interval is configured. cron rounds
// anything shorter than a second up to one second.
const DefaultPollInterval = 5 * time.Second

// WorkflowLister lists stored workflows.
type WorkflowLister interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
}

// TimerFirer completes a due delay node.
type TimerFirer interface {
	FireTimer(ctx context.Context, workflowID, nodeID string) (*models.Workflow, error)
}

// DelayScheduler polls active workflows on a cron schedule and fires every
// delay node that is due. Several schedulers may poll the same store; a timer
// already fired elsewhere is skipped.
type DelayScheduler struct {
	workflows WorkflowLister
	timers    TimerFirer
	logger    *slog.Logger
	interval  time.Duration
	clock     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewDelayScheduler(workflows WorkflowLister, timers TimerFirer, logger *slog.Logger, interval time.Duration) *DelayScheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &DelayScheduler{
		workflows: workflows,
		timers:    timers,
		logger:    logger.With("module", "delay_scheduler"),
		interval:  interval,
		clock:     time.Now,
	}
}

// Start schedules Poll every interval until ctx is done or Stop is called.
func (s *DelayScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("delay scheduler already started")
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	spec := "@every " + s.interval.String()

	_, err := c.AddFunc(spec, func() {
		if _, err := s.Poll(ctx); err != nil {
			s.logger.ErrorContext(ctx, "delay poll failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule delay poll %q: %w", spec, err)
	}

	s.cron = c
	c.Start()

	s.logger.InfoContext(ctx, "delay scheduler started", "interval", s.interval)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop halts the schedule and waits for a running poll to return.
func (s *DelayScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}

	<-c.Stop().Done()
	s.logger.Info("delay scheduler stopped")
}

// Poll fires every due delay node once and reports how many it fired.
func (s *DelayScheduler) Poll(ctx context.Context) (int, error) {
	workflows, err := s.workflows.Workflows(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list workflows: %w", err)
	}

	now := s.clock().UTC()
	fired := 0

	var errs []error

	for _, wf := range workflows {
		if wf.Status != models.WorkflowStatusActive {
			continue
		}

		for _, node := range engine.DueTimers(wf, now) {
			if ctx.Err() != nil {
				return fired, ctx.Err()
			}

			_, err := s.timers.FireTimer(ctx, wf.ID, node.ID)

			switch {
			case err == nil:
				fired++
			case errors.Is(err, engine.ErrNodeNotResumable), errors.Is(err, engine.ErrNodeAlreadyCompleted):
				s.logger.DebugContext(ctx, "timer already handled", "workflow_id", wf.ID, "node_id", node.ID)
			default:
				s.logger.ErrorContext(ctx, "failed to fire timer", "workflow_id", wf.ID, "node_id", node.ID, "error", err)
				errs = append(errs, err)
			}
		}
	}

	return fired, errors.Join(errs...)
}
