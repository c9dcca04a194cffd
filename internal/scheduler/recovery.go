package scheduler

import (
	"context"
	"errors"

	ledgerdomain "github.com/smallbiznis/swimreg/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/swimreg/internal/payment/domain"
	"github.com/smallbiznis/swimreg/internal/scheduler/guard"
	"go.uber.org/zap"
)

// ReconcileStaleJob asks the provider about pending payments whose
// notification never arrived and settles the ones that have a final state.
func (s *Scheduler) ReconcileStaleJob(ctx context.Context) error {
	_, run, _ := s.ensureJobRun(ctx, JobReconcileStale, s.cfg.BatchSize)
	policy := s.policy.Get()

	payments, err := s.ledgerSvc.ListStalePending(ctx, policy.StaleAfter, policy.GiveUpAfter, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.payments.list.failed", JobReconcileStale, err)
		return err
	}

	var jobErr error
	settled := 0
	for _, payment := range payments {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if err := guard.EnsureSweepable(payment); err != nil {
			s.logger(ctx).Debug("scheduler.payment.skipped",
				zap.String("reference", payment.Reference),
				zap.String("reason", err.Error()),
			)
			continue
		}

		result, err := s.ledgerSvc.Verify(ctx, payment.Reference)
		switch {
		case err == nil:
			if !result.AlreadyReconciled {
				settled++
				s.logPaymentSettled(ctx, payment, result)
			}
		case errors.Is(err, paymentdomain.ErrOutcomePending):
		case errors.Is(err, ledgerdomain.ErrAmountMismatch):
			// flagged and audited by the ledger; the sweep skips it from now on
			s.logger(ctx).Warn("scheduler.payment.amount_mismatch", zap.String("reference", payment.Reference))
		default:
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.payment.verify.failed", JobReconcileStale, err,
				zap.String("reference", payment.Reference),
				zap.String("provider", payment.Provider),
			)
		}
	}

	run.AddProcessed(settled)
	s.metrics.AddBatchProcessed(JobReconcileStale, "payments", settled)
	return jobErr
}

func (s *Scheduler) DispatchReceiptsJob(ctx context.Context) error {
	_, run, _ := s.ensureJobRun(ctx, JobDispatchReceipt, s.cfg.BatchSize)

	result, err := s.receiptSvc.DispatchPending(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.receipts.dispatch.failed", JobDispatchReceipt, err)
		return err
	}
	run.AddProcessed(result.Dispatched)
	s.metrics.AddBatchProcessed(JobDispatchReceipt, "receipt_events", result.Dispatched)
	if result.Failed > 0 {
		s.logger(ctx).Warn("scheduler.receipts.dispatch.partial",
			zap.Int("dispatched", result.Dispatched),
			zap.Int("failed", result.Failed),
		)
	}
	return nil
}

func (s *Scheduler) MarkOverdueJob(ctx context.Context) error {
	_, run, _ := s.ensureJobRun(ctx, JobMarkOverdue, s.cfg.BatchSize)

	count, err := s.ledgerSvc.MarkOverdue(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.invoices.overdue.failed", JobMarkOverdue, err)
		return err
	}
	run.AddProcessed(int(count))
	s.metrics.AddBatchProcessed(JobMarkOverdue, "invoices", int(count))
	return nil
}
