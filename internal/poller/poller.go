// Package poller drives long-running server-side jobs: submit once, then
// poll the status endpoint until a terminal state or the attempt budget runs
// out.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"taskpilot-client/internal/apierr"
	"taskpilot-client/internal/models"
	"taskpilot-client/internal/telemetry"
)

// SubmitFunc obtains a job id from the server.
type SubmitFunc func(ctx context.Context) (string, error)

// StatusFunc fetches one status observation for a job.
type StatusFunc func(ctx context.Context, jobID string) (models.Job, error)

// Options bound the polling loop.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
}

// Poller is constructed once and shared; it holds no per-job state.
type Poller struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{log: log.With("component", "poller")}
}

// SubmitAndPoll submits the job and polls at opts.Interval spacing.
//
// Outcomes:
//   - completed: the job (with its result payload) is returned.
//   - failed: a validation-kind error carrying the server-reported message.
//   - budget exhausted while pending/running: a timeout-kind error, distinct
//     from failure — the outcome is unknown, the job may still finish.
//
// Status observations that error transiently do not consume extra budget
// beyond their attempt; terminal transport errors abort the loop.
func (p *Poller) SubmitAndPoll(ctx context.Context, submit SubmitFunc, status StatusFunc, opts Options) (models.Job, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	jobID, err := submit(ctx)
	if err != nil {
		return models.Job{}, err
	}
	p.log.Debug("job submitted", "job_id", jobID)

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if opts.Interval > 0 {
			timer := time.NewTimer(opts.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return models.Job{}, apierr.FromTransport("poller.wait", ctx.Err())
			case <-timer.C:
			}
		}

		job, err := status(ctx, jobID)
		if err != nil {
			if apierr.Retryable(err) && attempt < opts.MaxAttempts {
				p.log.Debug("status check failed, will poll again", "job_id", jobID, "attempt", attempt, "error", err)
				continue
			}
			return models.Job{}, err
		}

		switch job.Status {
		case models.StatusCompleted:
			p.log.Debug("job completed", "job_id", jobID, "polls", attempt)
			return job, nil
		case models.StatusFailed:
			p.log.Debug("job failed", "job_id", jobID, "error", job.Error)
			return job, apierr.New(apierr.KindValidation, "poller.status", errors.New(job.Error))
		}
		// pending or running: keep polling while budget remains.
	}

	telemetry.PollTimeouts.Inc()
	return models.Job{}, apierr.PollTimeout("poller.status", opts.MaxAttempts)
}
