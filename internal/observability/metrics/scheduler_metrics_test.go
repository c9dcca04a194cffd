package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded},
		{"wrapped_cancel", fmt.Errorf("job: %w", context.Canceled), SchedulerJobReasonDeadlineExceeded},
		{"db_lock_timeout", &pgconn.PgError{Code: "55P03"}, SchedulerJobReasonDBLockTimeout},
		{"serialization_failure", &pgconn.PgError{Code: "40001"}, SchedulerJobReasonSerializationFailure},
		{"unique_violation", gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation},
		{"other_pg", &pgconn.PgError{Code: "XX000"}, SchedulerJobReasonDB},
		{"unknown", errors.New("boom"), SchedulerJobReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestSchedulerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSchedulerMetrics(registry, Config{ServiceName: "swimreg", Environment: "test"})

	m.IncJobRun("reconcile_stale")
	m.IncJobRun("reconcile_stale")
	m.IncJobError("reconcile_stale", context.DeadlineExceeded)
	m.AddBatchProcessed("reconcile_stale", "payments", 3)
	m.ObserveJobDuration("reconcile_stale", 150*time.Millisecond)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("reconcile_stale")); got != 2 {
		t.Fatalf("expected 2 runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("reconcile_stale", SchedulerJobReasonDeadlineExceeded)); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("reconcile_stale", "payments")); got != 3 {
		t.Fatalf("expected 3 processed, got %v", got)
	}
}
