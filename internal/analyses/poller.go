package analyses

import (
	"context"
	"time"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollMaxWait  = 5 * time.Minute
)

// Poller waits for a job to reach a terminal state by re-reading it on an
// interval. It never alters the job.
type Poller struct {
	Fetch    func(ctx context.Context, jobID string) (Job, error)
	Interval time.Duration
	MaxWait  time.Duration
}

// Wait blocks until the job is terminal, MaxWait elapses or ctx is
// canceled. On timeout it returns the last observed job along with
// ErrPollTimeout so callers can report the in-flight status.
func (p *Poller) Wait(ctx context.Context, jobID string) (Job, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxWait := p.MaxWait
	if maxWait <= 0 {
		maxWait = defaultPollMaxWait
	}

	job, err := p.Fetch(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if job.Terminal() {
		return job, nil
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-deadline.C:
			return job, ErrPollTimeout
		case <-ticker.C:
			job, err = p.Fetch(ctx, jobID)
			if err != nil {
				return Job{}, err
			}
			if job.Terminal() {
				return job, nil
			}
		}
	}
}
