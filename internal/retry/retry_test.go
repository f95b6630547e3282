package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot-client/internal/apierr"
)

func TestRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apierr.FromStatus("list_tasks", 503, "unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestTerminalFailureNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 5, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return apierr.FromStatus("create_task", 422, "bad payload")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestBudgetExhaustion(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 2, Delay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return apierr.FromStatus("list_tasks", 500, "boom")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.Equal(t, apierr.KindTransient, apierr.KindOf(err))
}

func TestZeroRetriesPolicy(t *testing.T) {
	calls := 0
	err := Do(context.Background(), None(), func(ctx context.Context) error {
		calls++
		return apierr.FromStatus("delete_task", 500, "boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestContextCancelAbortsDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, Policy{MaxRetries: 10, Delay: 10 * time.Second}, func(ctx context.Context) error {
		calls++
		return apierr.FromStatus("list_tasks", 500, "boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, apierr.KindCancelled, apierr.KindOf(err))
}

func TestCustomClassifier(t *testing.T) {
	calls := 0
	never := func(error) bool { return false }
	err := Do(context.Background(), Policy{MaxRetries: 5, Classify: never}, func(ctx context.Context) error {
		calls++
		return apierr.FromStatus("op", 500, "boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
