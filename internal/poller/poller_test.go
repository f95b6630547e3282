package poller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot-client/internal/apierr"
	"taskpilot-client/internal/logging"
	"taskpilot-client/internal/models"
)

func scripted(t *testing.T, statuses []models.Job) (StatusFunc, *int) {
	t.Helper()
	polls := 0
	return func(ctx context.Context, jobID string) (models.Job, error) {
		require.Equal(t, "job-1", jobID)
		require.Less(t, polls, len(statuses), "polled past the script")
		job := statuses[polls]
		polls++
		return job, nil
	}, &polls
}

func submitOK(ctx context.Context) (string, error) { return "job-1", nil }

func TestCompletesAfterExactPolls(t *testing.T) {
	result := []models.Task{{ID: "t1", Title: "from parser"}}
	status, polls := scripted(t, []models.Job{
		{ID: "job-1", Status: models.StatusPending},
		{ID: "job-1", Status: models.StatusRunning},
		{ID: "job-1", Status: models.StatusCompleted, Result: result},
	})

	p := New(logging.Discard())
	job, err := p.SubmitAndPoll(context.Background(), submitOK, status, Options{MaxAttempts: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, *polls)
	assert.Equal(t, result, job.Result)
}

func TestBudgetExhaustionIsTimeoutNotFailure(t *testing.T) {
	always := func(ctx context.Context, jobID string) (models.Job, error) {
		return models.Job{ID: jobID, Status: models.StatusRunning}, nil
	}

	p := New(logging.Discard())
	_, err := p.SubmitAndPoll(context.Background(), submitOK, always, Options{MaxAttempts: 4})
	require.Error(t, err)
	assert.Equal(t, apierr.KindTimeout, apierr.KindOf(err))
	assert.NotEqual(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestServerReportedFailure(t *testing.T) {
	status, _ := scripted(t, []models.Job{
		{ID: "job-1", Status: models.StatusPending},
		{ID: "job-1", Status: models.StatusFailed, Error: "could not parse input"},
	})

	p := New(logging.Discard())
	_, err := p.SubmitAndPoll(context.Background(), submitOK, status, Options{MaxAttempts: 10})
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	assert.Contains(t, err.Error(), "could not parse input")
}

func TestSubmitErrorPropagates(t *testing.T) {
	submit := func(ctx context.Context) (string, error) {
		return "", apierr.FromStatus("submit_parse", 503, "down")
	}
	p := New(logging.Discard())
	_, err := p.SubmitAndPoll(context.Background(), submit, nil, Options{MaxAttempts: 3})
	require.Error(t, err)
	assert.Equal(t, apierr.KindTransient, apierr.KindOf(err))
}

func TestTransientStatusErrorConsumesAttempt(t *testing.T) {
	polls := 0
	status := func(ctx context.Context, jobID string) (models.Job, error) {
		polls++
		if polls == 1 {
			return models.Job{}, apierr.FromStatus("job_status", 500, "blip")
		}
		return models.Job{ID: jobID, Status: models.StatusCompleted}, nil
	}

	p := New(logging.Discard())
	job, err := p.SubmitAndPoll(context.Background(), submitOK, status, Options{MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 2, polls)
}

func TestContextCancelAbortsInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	p := New(logging.Discard())
	_, err := p.SubmitAndPoll(ctx, submitOK, func(ctx context.Context, jobID string) (models.Job, error) {
		return models.Job{Status: models.StatusRunning}, nil
	}, Options{Interval: 10 * time.Second, MaxAttempts: 5})
	require.Error(t, err)
	assert.Equal(t, apierr.KindCancelled, apierr.KindOf(err))
}
