package scheduler

import (
	"context"
	"fmt"
)

const jobLockPrefix = "swimreg:scheduler:job:%s"

// withJobLock runs fn under the cross-replica lock for job. Without a
// locker fn always runs.
func (s *Scheduler) withJobLock(ctx context.Context, job string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, fmt.Sprintf(jobLockPrefix, job), s.cfg.LockTTL, fn)
}
