package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"graph-memory/backend/internal/metrics"
	"graph-memory/backend/pkg/config"
	apperrors "graph-memory/backend/pkg/errors"
	"graph-memory/backend/pkg/logger"
)

// OwnerLister discovers owners when every owner is processed
type OwnerLister interface {
	ListOwners(ctx context.Context) ([]string, error)
}

// JobStatus is the read-only view of one scheduled job
type JobStatus struct {
	Name            string     `json:"name"`
	Enabled         bool       `json:"enabled"`
	Schedule        string     `json:"schedule"`
	Running         bool       `json:"running"`
	Runs            int        `json:"runs"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	LastOutcome     string     `json:"last_outcome,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastDurationSec float64    `json:"last_duration_seconds,omitempty"`
	LastAffected    int        `json:"last_affected,omitempty"`
	NextRun         *time.Time `json:"next_run,omitempty"`
}

type scheduledJob struct {
	job      Job
	schedule string
	enabled  bool
	entry    cron.EntryID
	status   JobStatus
}

// Scheduler runs the maintenance jobs on their cron schedules. Failures
// are retried, logged and recorded; they never stop the scheduler.
type Scheduler struct {
	cfg     config.JobsConfig
	owners  OwnerLister
	retry   RetryPolicy
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	cron *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	order   []string
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler builds the deduplication and archival jobs from cfg
func NewScheduler(cfg config.JobsConfig, o Options) *Scheduler {
	if o.Logger == nil {
		o.Logger = logger.Named("jobs")
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	s := &Scheduler{
		cfg:    cfg,
		owners: o.Store,
		retry: RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			Base:        cfg.RetryBackoffBase,
			Max:         cfg.RetryBackoffMax,
		},
		metrics: o.Metrics,
		logger:  o.Logger.Named("scheduler"),
		now:     o.Now,
		jobs:    make(map[string]*scheduledJob),
	}
	cl := cronLogger{s.logger.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s.add(NewDeduplicationJob(cfg, o), cfg.DedupCron, cfg.DedupEnabled)
	s.add(NewArchivalJob(cfg, o), cfg.ArchiveCron, cfg.ArchiveEnabled)
	return s
}

func (s *Scheduler) add(job Job, schedule string, enabled bool) {
	name := job.Name()
	s.jobs[name] = &scheduledJob{
		job:      job,
		schedule: schedule,
		enabled:  enabled,
		status:   JobStatus{Name: name, Enabled: enabled, Schedule: schedule},
	}
	s.order = append(s.order, name)
}

// Start registers the enabled jobs with cron. It is a no-op when
// JOBS_ENABLED is false.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("Background jobs disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	for _, name := range s.order {
		sj := s.jobs[name]
		if !sj.enabled {
			continue
		}
		id, err := s.cron.AddFunc(sj.schedule, func() {
			_, _ = s.execute(runCtx, name)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("schedule %s (%q): %w", name, sj.schedule, err)
		}
		sj.entry = id
		s.logger.Info("Scheduled job", zap.String("job", name), zap.String("cron", sj.schedule))
	}

	s.cancel = cancel
	s.started = true
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()

	var cronDone <-chan struct{}
	if started {
		cronDone = s.cron.Stop().Done()
	} else {
		closed := make(chan struct{})
		close(closed)
		cronDone = closed
	}

	done := make(chan struct{})
	go func() {
		<-cronDone
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		return nil
	case <-ctx.Done():
		// Abandon in-flight jobs; their locks expire on their own
		if cancel != nil {
			cancel()
		}
		return ctx.Err()
	}
}

// RunNow runs a job immediately, whether or not it is scheduled
func (s *Scheduler) RunNow(ctx context.Context, name string) (*Report, error) {
	s.mu.Lock()
	_, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, apperrors.NewValidation("job", fmt.Sprintf("unknown job %q", name))
	}
	return s.execute(ctx, name)
}

// RunAll runs every job concurrently and returns their reports by name.
// One job failing does not cancel the others.
func (s *Scheduler) RunAll(ctx context.Context) (map[string]*Report, error) {
	var mu sync.Mutex
	reports := make(map[string]*Report, len(s.order))

	var g errgroup.Group
	for _, name := range s.order {
		g.Go(func() error {
			r, err := s.execute(ctx, name)
			mu.Lock()
			reports[name] = r
			mu.Unlock()
			return err
		})
	}
	return reports, g.Wait()
}

// Status returns a snapshot of every job, ordered by name
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, sj := range s.jobs {
		st := sj.status
		if st.LastRun != nil {
			t := *st.LastRun
			st.LastRun = &t
		}
		st.NextRun = nil
		if s.started && sj.entry != 0 {
			if e := s.cron.Entry(sj.entry); e.Valid() && !e.Next.IsZero() {
				next := e.Next
				st.NextRun = &next
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// execute runs one invocation of a job with retry and records the result.
// A job already running in this process is reported as busy.
func (s *Scheduler) execute(ctx context.Context, name string) (*Report, error) {
	s.mu.Lock()
	sj := s.jobs[name]
	if sj.status.Running {
		s.mu.Unlock()
		return nil, apperrors.NewLockBusy(name)
	}
	sj.status.Running = true
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	log := s.logger.With(zap.String("job", name))
	start := s.now()
	log.Info("Job started")

	report, err := withRetry(ctx, s.retry, log, func(ctx context.Context) (*Report, error) {
		owners, err := s.ownerIDs(ctx)
		if err != nil {
			return nil, err
		}
		r := sj.job.Run(ctx, owners)
		return r, r.Err()
	})
	elapsed := s.now().Sub(start)

	outcome := OutcomeFailure
	if err == nil && report != nil {
		outcome = report.Outcome()
	}
	s.metrics.JobFinished(name, outcome, elapsed)

	s.mu.Lock()
	sj.status.Running = false
	sj.status.Runs++
	sj.status.LastRun = &start
	sj.status.LastOutcome = outcome
	sj.status.LastDurationSec = elapsed.Seconds()
	sj.status.LastError = ""
	sj.status.LastAffected = 0
	if report != nil {
		sj.status.LastAffected = report.Affected
	}
	if err != nil {
		sj.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		log.Error("Job failed", zap.Duration("duration", elapsed), zap.Error(err))
		return report, err
	}
	affected := 0
	if report != nil {
		affected = report.Affected
	}
	log.Info("Job finished",
		zap.String("outcome", outcome),
		zap.Int("affected", affected),
		zap.Duration("duration", elapsed))
	return report, nil
}

func (s *Scheduler) ownerIDs(ctx context.Context) ([]string, error) {
	if !s.cfg.ProcessAllOwners {
		return s.cfg.OwnerIDs, nil
	}
	if s.owners == nil {
		return nil, fmt.Errorf("owner discovery needs a store")
	}
	owners, err := s.owners.ListOwners(ctx)
	if err != nil {
		return nil, apperrors.NewService("list_owners", err)
	}
	return owners, nil
}

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
