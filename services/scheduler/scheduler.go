package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	redisstore "github.com/AlxanderArt/HumanOS/internal/redis"
	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

const (
	// LeaderKey is the Redis key scheduler instances compete for.
	LeaderKey = "humanos:scheduler:leader"
	// LeaderTTL is how long a lease survives without renewal.
	LeaderTTL = 30 * time.Second

	defaultCheckInterval = 10 * time.Second
	defaultJobTimeout    = 2 * time.Minute
)

// Job is a named unit of periodic work.
type Job struct {
	Name string
	// Spec is a standard five-field cron expression.
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler fires cron jobs on the instance that holds the leader lease.
// Every instance keeps a cron running; non-leaders skip each firing.
type Scheduler struct {
	lease         redisstore.LeaderLease
	cron          *cron.Cron
	checkInterval time.Duration
	jobTimeout    time.Duration
	logger        *slog.Logger

	leader atomic.Bool
	ctx    context.Context
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithCheckInterval(d time.Duration) Option { return func(s *Scheduler) { s.checkInterval = d } }
func WithJobTimeout(d time.Duration) Option    { return func(s *Scheduler) { s.jobTimeout = d } }
func WithLogger(l *slog.Logger) Option         { return func(s *Scheduler) { s.logger = l } }

// NewScheduler returns a Scheduler gated by lease.
func NewScheduler(lease redisstore.LeaderLease, opts ...Option) *Scheduler {
	s := &Scheduler{
		lease:         lease,
		cron:          cron.New(),
		checkInterval: defaultCheckInterval,
		jobTimeout:    defaultJobTimeout,
		logger:        slog.Default(),
		ctx:           context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. It fails on an invalid cron expression.
func (s *Scheduler) Add(job Job) error {
	if _, err := s.cron.AddFunc(job.Spec, func() { s.fire(job) }); err != nil {
		return fmt.Errorf("schedule job %q (%q): %w", job.Name, job.Spec, err)
	}
	return nil
}

// IsLeader reports whether this instance held the lease at the last check.
func (s *Scheduler) IsLeader() bool { return s.leader.Load() }

// Run renews the lease and runs the cron until ctx is cancelled. On return
// running jobs have finished and the lease is released.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.checkLeadership(ctx)
	s.cron.Start()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.wg.Wait()
			s.release()
			return
		case <-ticker.C:
			s.checkLeadership(ctx)
		}
	}
}

func (s *Scheduler) checkLeadership(ctx context.Context) {
	ok, err := s.lease.AcquireOrRenew(ctx)
	if err != nil {
		s.logger.Error("leader election", slog.String("error", err.Error()))
		ok = false
	}
	if was := s.leader.Swap(ok); was != ok {
		if ok {
			s.logger.Info("acquired scheduler leadership")
		} else {
			s.logger.Info("lost scheduler leadership")
		}
	}
}

func (s *Scheduler) release() {
	if !s.leader.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.lease.Release(ctx); err != nil {
		s.logger.Warn("release leadership", slog.String("error", err.Error()))
	}
	s.leader.Store(false)
}

// fire runs one job execution if this instance leads.
func (s *Scheduler) fire(job Job) {
	if !s.leader.Load() {
		telemetry.SchedulerJobRunsTotal.WithLabelValues(job.Name, "skipped").Inc()
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.jobTimeout)
	defer cancel()

	start := time.Now()
	log := s.logger.With(slog.String("job", job.Name))
	if err := job.Run(ctx); err != nil {
		telemetry.SchedulerJobRunsTotal.WithLabelValues(job.Name, "error").Inc()
		log.Error("scheduled job failed", slog.String("error", err.Error()))
		return
	}
	telemetry.SchedulerJobRunsTotal.WithLabelValues(job.Name, "ok").Inc()
	log.Debug("scheduled job done", slog.Int64("duration_ms", time.Since(start).Milliseconds()))
}
