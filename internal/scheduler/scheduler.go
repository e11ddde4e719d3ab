// Package scheduler runs the periodic jobs: client cache warm-up with
// directory reindexing, and the nightly installment lapse audit.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"brokerdesk/api/internal/clients"
	"brokerdesk/api/internal/logging"
	"brokerdesk/api/internal/metrics"
	"brokerdesk/api/internal/reports"

	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = 2 * time.Minute

type Warmer interface {
	ResolveAll(ctx context.Context, forceRefresh bool) ([]clients.ClientProfile, error)
}

type Reindexer interface {
	ReindexFromResolver(ctx context.Context) error
}

type Auditor interface {
	Lapsed(ctx context.Context) (reports.InstallmentsReport, error)
}

type Config struct {
	RefreshSpec string
	AuditSpec   string
	JobTimeout  time.Duration
	Location    *time.Location
}

type Scheduler struct {
	cron      *cron.Cron
	warmer    Warmer
	reindexer Reindexer
	auditor   Auditor
	logger    logging.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration
	base      context.Context
}

// ValidateSpec reports whether spec is a standard five-field cron expression
// or a descriptor such as "@every 5m".
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

func New(cfg Config, warmer Warmer, reindexer Reindexer, auditor Auditor, logger logging.Logger, m *metrics.Metrics) (*Scheduler, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	logger = logger.With("component", "scheduler")
	adapter := cronLogger{logger}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		warmer:    warmer,
		reindexer: reindexer,
		auditor:   auditor,
		logger:    logger,
		metrics:   m,
		timeout:   cfg.JobTimeout,
		base:      context.Background(),
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"refresh", cfg.RefreshSpec, s.RunRefresh},
		{"lapse-audit", cfg.AuditSpec, func(ctx context.Context) error {
			_, err := s.RunAudit(ctx)
			return err
		}},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if err := ValidateSpec(job.spec); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.name, err)
		}
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.name, err)
		}
		logger.Info("job scheduled", "job", job.name, "spec", job.spec)
	}
	return s, nil
}

// Start runs the cron loop. Jobs derive their context from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.base = ctx
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs reports how many jobs are registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.base, s.timeout)
		defer cancel()
		start := time.Now()
		if err := run(ctx); err != nil {
			s.logger.Error("job failed", "job", name, "error", err)
			return
		}
		s.logger.Debug("job finished", "job", name, "took", time.Since(start))
	}
}

// RunRefresh forces a resolution pass, which republishes the client cache,
// then pushes the result to the search directory.
func (s *Scheduler) RunRefresh(ctx context.Context) error {
	profiles, err := s.warmer.ResolveAll(ctx, true)
	if err != nil {
		return fmt.Errorf("warm client cache: %w", err)
	}
	if s.reindexer != nil {
		if err := s.reindexer.ReindexFromResolver(ctx); err != nil {
			return fmt.Errorf("reindex directory: %w", err)
		}
	}
	s.logger.Info("client cache warmed", "clients", len(profiles))
	return nil
}

// RunAudit counts lapsed installment schedules and logs each one.
func (s *Scheduler) RunAudit(ctx context.Context) (int, error) {
	report, err := s.auditor.Lapsed(ctx)
	if err != nil {
		return 0, fmt.Errorf("lapse audit: %w", err)
	}
	for _, row := range report.Rows {
		s.logger.Warn("installment lapsed",
			"collection", row.Collection,
			"id", row.RecordID,
			"client", row.ClientName,
			"installment", row.CurrentIndex,
			"due", row.DueDate.String(),
		)
	}
	s.metrics.SetLapsed(len(report.Rows))
	s.logger.Info("lapse audit finished", "lapsed", len(report.Rows))
	return len(report.Rows), nil
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	logger logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error(msg, append(keysAndValues, "error", err)...)
}
