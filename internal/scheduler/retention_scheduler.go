package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/X-ChenD-Hai/xclogger-server/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs retention daily at 3am.
const DefaultSchedule = "0 3 * * *"

// Pruner deletes records created before a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionScheduler deletes records older than MaxAge on a cron schedule.
type RetentionScheduler struct {
	pruner   Pruner
	schedule string
	maxAge   time.Duration
	cron     *cron.Cron
	running  bool
	lastRun  time.Time
	lastErr  error
	deleted  int64
	mu       sync.Mutex
	runMu    sync.Mutex
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// RetentionSchedulerConfig holds configuration for the retention scheduler
type RetentionSchedulerConfig struct {
	Pruner   Pruner
	Schedule string        // Cron schedule string (e.g., "0 3 * * *")
	MaxAge   time.Duration // records older than this are deleted
	Logger   zerolog.Logger
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewRetentionScheduler validates the schedule and creates a stopped
// scheduler.
func NewRetentionScheduler(cfg *RetentionSchedulerConfig) (*RetentionScheduler, error) {
	if cfg.Pruner == nil {
		return nil, errors.New("retention scheduler: pruner is required")
	}
	if cfg.MaxAge <= 0 {
		return nil, errors.New("retention scheduler: max age must be positive")
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := parser.Parse(schedule); err != nil {
		return nil, err
	}

	s := &RetentionScheduler{
		pruner:   cfg.Pruner,
		schedule: schedule,
		maxAge:   cfg.MaxAge,
		now:      time.Now,
		metrics:  metrics.Get(),
		logger:   cfg.Logger.With().Str("component", "retention-scheduler").Logger(),
	}

	s.logger.Info().
		Str("schedule", schedule).
		Dur("max_age", cfg.MaxAge).
		Msg("Retention scheduler initialized")

	return s, nil
}

// Start starts the retention scheduler
func (s *RetentionScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Retention scheduler already running")
		return nil
	}

	s.cron = cron.New(cron.WithParser(parser))
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		s.RunNow(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.nextRun()).
		Msg("Retention scheduler started")

	return nil
}

// Stop stops the scheduler and waits for a running job to complete.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}

	s.running = false
	s.logger.Info().Msg("Retention scheduler stopped")
}

// Close implements shutdown.Closer.
func (s *RetentionScheduler) Close() error {
	s.Stop()
	return nil
}

// RunNow deletes every record older than MaxAge and returns how many rows
// were removed. Concurrent runs are serialized.
func (s *RetentionScheduler) RunNow(ctx context.Context) (int64, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := s.now()
	cutoff := start.Add(-s.maxAge)
	deleted, err := s.pruner.DeleteBefore(ctx, cutoff)
	s.metrics.RecordRetentionRun(deleted, err)

	s.mu.Lock()
	s.lastRun = start
	s.lastErr = err
	if err == nil {
		s.deleted += deleted
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("Retention run failed")
		return 0, err
	}

	s.logger.Info().
		Time("cutoff", cutoff).
		Int64("deleted_count", deleted).
		Dur("duration", time.Since(start)).
		Msg("Retention run completed")
	return deleted, nil
}

func (s *RetentionScheduler) nextRun() time.Time {
	schedule, err := parser.Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(s.now())
}

// Status returns scheduler status
func (s *RetentionScheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"running":       s.running,
		"schedule":      s.schedule,
		"max_age":       s.maxAge.String(),
		"total_deleted": s.deleted,
	}

	if s.running {
		status["next_run"] = s.nextRun().Format(time.RFC3339)
	}
	if !s.lastRun.IsZero() {
		status["last_run"] = s.lastRun.Format(time.RFC3339)
	}
	if s.lastErr != nil {
		status["last_error"] = s.lastErr.Error()
	}

	return status
}

// IsRunning returns whether the scheduler is running
func (s *RetentionScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetSchedule returns the cron schedule string
func (s *RetentionScheduler) GetSchedule() string {
	return s.schedule
}
