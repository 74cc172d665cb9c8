package confirm

import (
	"context"
	"time"

	"muse/internal/logging"
)

// Janitor periodically sweeps the controller: stale suggestions expire and
// old terminal states are garbage-collected.
type Janitor struct {
	Controller *Controller
	Interval   time.Duration
	Retention  time.Duration
	Logger     logging.Logger
}

// Run sweeps until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	retention := j.Retention
	if retention <= 0 {
		retention = time.Hour
	}
	logger := logging.OrNop(j.Logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept := j.Controller.Sweep(retention); swept > 0 {
				logger.Debug("confirmation janitor swept %d states", swept)
			}
		}
	}
}
