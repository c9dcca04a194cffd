package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/swimreg/internal/clock"
	"github.com/smallbiznis/swimreg/internal/config"
	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/swimreg/internal/observability/metrics"
	"github.com/smallbiznis/swimreg/internal/ratelimit"
	receiptdomain "github.com/smallbiznis/swimreg/internal/receipt/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobReconcileStale  = "reconcile_stale"
	JobDispatchReceipt = "dispatch_receipts"
	JobMarkOverdue     = "mark_overdue"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	LedgerSvc  ledgerdomain.Service
	ReceiptSvc receiptdomain.Service
	Config     Config                           `optional:"true"`
	Policy     *config.RegistrationPolicyHolder `optional:"true"`
	Locker     *ratelimit.Locker                `optional:"true"`
	Clock      clock.Clock                      `optional:"true"`
	Metrics    *obsmetrics.SchedulerMetrics     `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	ledgerSvc  ledgerdomain.Service
	receiptSvc receiptdomain.Service
	policy     *config.RegistrationPolicyHolder
	locker     *ratelimit.Locker
	metrics    *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.LedgerSvc == nil || p.ReceiptSvc == nil {
		return nil, ErrInvalidConfig
	}
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	m := p.Metrics
	if m == nil {
		m = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      c,
		ledgerSvc:  p.LedgerSvc,
		receiptSvc: p.ReceiptSvc,
		policy:     p.Policy,
		locker:     p.Locker,
		metrics:    m,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, s.cfg.BatchSize)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)

	var err error
	held := s.withJobLock(ctx, name, func(ctx context.Context) error {
		s.metrics.IncJobRun(name)
		if owner {
			s.logJobStart(ctx, run)
		}
		err = fn(ctx)
		s.metrics.ObserveJobDuration(name, time.Since(start))
		if owner {
			if err != nil && run.errorCount == 0 {
				run.IncError()
			}
			s.logJobFinish(ctx, run)
		}
		return nil
	})
	if held != nil {
		if errors.Is(held, ratelimit.ErrLockHeld) {
			s.metrics.IncLockSkipped(name)
			log.Debug("job skipped, lock held elsewhere")
			return nil
		}
		// lock backend failures do not stop the job; conditional updates
		// keep the work safe to repeat
		log.Warn("job lock unavailable, running unlocked", zap.Error(held))
		s.metrics.IncJobRun(name)
		err = fn(ctx)
		s.metrics.ObserveJobDuration(name, time.Since(start))
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobReconcileStale, s.ReconcileStaleJob},
		{JobDispatchReceipt, s.DispatchReceiptsJob},
		{JobMarkOverdue, s.MarkOverdueJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
