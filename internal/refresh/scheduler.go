package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/codefordc/housing-insights-loader/internal/telemetry"
)

const notifyTimeout = 30 * time.Second

// Scheduler fires the daily refresh at a fixed wall-clock time
type Scheduler struct {
	orch     *Orchestrator
	notifier Notifier
	metrics  *telemetry.RefreshMetrics

	hour     int
	minute   int
	location *time.Location
	tables   []string
	now      func() time.Time

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
	nextFire   time.Time
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithFireTime sets the daily fire time. The default is midnight.
func WithFireTime(hour, minute int) SchedulerOption {
	return func(s *Scheduler) {
		s.hour = hour
		s.minute = minute
	}
}

// WithLocation sets the time zone the fire time is interpreted in
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// WithTables overrides the ordered daily table list
func WithTables(tables []string) SchedulerOption {
	return func(s *Scheduler) {
		s.tables = slices.Clone(tables)
	}
}

// WithSchedulerMetrics sets the metrics used to count notification failures
func WithSchedulerMetrics(m *telemetry.RefreshMetrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithSchedulerClock overrides the time source
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler that runs the daily tables through orch and
// mails the report through notifier
func NewScheduler(orch *Orchestrator, notifier Notifier, opts ...SchedulerOption) (*Scheduler, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}

	s := &Scheduler{
		orch:     orch,
		notifier: notifier,
		location: time.Local,
		tables:   slices.Clone(DailyTables),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.hour < 0 || s.hour > 23 {
		return nil, fmt.Errorf("fire hour must be between 0 and 23, got %d", s.hour)
	}
	if s.minute < 0 || s.minute > 59 {
		return nil, fmt.Errorf("fire minute must be between 0 and 59, got %d", s.minute)
	}
	if s.location == nil {
		return nil, fmt.Errorf("location is required")
	}
	if len(s.tables) == 0 {
		return nil, fmt.Errorf("at least one daily table is required")
	}
	for _, table := range s.tables {
		if _, err := orch.Registry().lookup(table); err != nil {
			return nil, fmt.Errorf("invalid daily table list: %w", err)
		}
	}

	return s, nil
}

// Start runs the daily loop. It blocks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	schedCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	if s.cancelFunc != nil {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("scheduler already started")
	}
	s.cancelFunc = cancel
	s.done = done
	s.mu.Unlock()

	defer func() {
		cancel()
		close(done)
		slog.Info("Refresh scheduler shutting down")
	}()

	slog.Info("Starting refresh scheduler",
		"hour", s.hour,
		"minute", s.minute,
		"location", s.location.String(),
		"tables", len(s.tables),
	)

	var next time.Time
	for {
		next = s.followingFire(s.now(), next)
		s.setNextFire(next)
		slog.Info("Next scheduled refresh", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-timer.C:
			s.RunOnce(schedCtx)
		case <-schedCtx.Done():
			timer.Stop()
			slog.Info("Refresh scheduler stopping")
			return nil
		}
	}
}

// Stop cancels the loop and waits for an in-flight fire to return
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancelFunc, s.done
	s.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping refresh scheduler")
		cancel()
		<-done
	}
	return nil
}

// NextFire returns the time of the next scheduled run, zero before Start
func (s *Scheduler) NextFire() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFire
}

// Tables returns the ordered daily table list
func (s *Scheduler) Tables() []string {
	return slices.Clone(s.tables)
}

// RunOnce performs one scheduled fire: it waits for the run lock, refreshes the
// daily tables and sends the report. An interrupted run sends nothing.
func (s *Scheduler) RunOnce(ctx context.Context) {
	results, err := s.orch.Run(ctx, OriginScheduled, s.tables)
	if err != nil {
		if errors.Is(err, ErrRunInterrupted) {
			slog.Warn("Scheduled refresh interrupted, no report sent",
				"attempted", len(results),
				"error", err,
			)
			return
		}
		slog.Error("Scheduled refresh failed", "error", err)
		return
	}

	send(ctx, s.notifier, s.metrics, s.orch.Registry().Report(results))
}

func (s *Scheduler) setNextFire(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFire = t
}

// followingFire returns the fire after prev, the previous fire time, and after
// now. The timer runs on the monotonic clock, so a wall clock lagging at wake-up
// must not select prev again.
func (s *Scheduler) followingFire(now, prev time.Time) time.Time {
	if now.Before(prev) {
		now = prev
	}
	return s.nextFireAfter(now)
}

// nextFireAfter returns the first fire time strictly after now
func (s *Scheduler) nextFireAfter(now time.Time) time.Time {
	now = now.In(s.location)
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, s.location)
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, s.hour, s.minute, 0, 0, s.location)
	}
	return next
}

// send delivers a report. Delivery failures are logged and counted, never returned.
func send(ctx context.Context, notifier Notifier, metrics *telemetry.RefreshMetrics, report string) {
	// Delivered even when the caller is shutting down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := notifier.Send(ctx, report); err != nil {
		slog.Error("Failed to send refresh report", "error", err)
		metrics.RecordNotifyFailure(ctx)
	}
}
