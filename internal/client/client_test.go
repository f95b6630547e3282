package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot-client/internal/apierr"
	"taskpilot-client/internal/auth"
	"taskpilot-client/internal/cache"
	"taskpilot-client/internal/logging"
	"taskpilot-client/internal/models"
	"taskpilot-client/internal/stub"
)

func newClient(t *testing.T) (*Client, *cache.Memory) {
	t.Helper()
	srv := stub.New("test-secret", nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	token, err := srv.MintToken("tester", time.Hour)
	require.NoError(t, err)
	session := auth.NewSession(nil)
	require.NoError(t, session.SetToken(token))

	mem := cache.NewMemory(0)
	t.Cleanup(func() { _ = mem.Close() })

	return New(ts.URL, 5*time.Second, session, mem, time.Minute, logging.Discard()), mem
}

func TestCreateListUpdateDelete(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	created, err := c.CreateTask(ctx, models.TaskCreate{Title: "ship release", Start: time.Now().UTC()}, "")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	tasks, err := c.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	title := "ship release v2"
	updated, err := c.UpdateTask(ctx, created.ID, models.TaskPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)

	require.NoError(t, c.DeleteTask(ctx, created.ID))
	tasks, err = c.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestListServedFromCacheUntilMutation(t *testing.T) {
	c, mem := newClient(t)
	ctx := context.Background()

	created, err := c.CreateTask(ctx, models.TaskCreate{Title: "cached", Start: time.Now().UTC()}, "")
	require.NoError(t, err)

	_, err = c.ListTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Len(), "list response cached")

	// Poison the cached entry to prove the next read is a cache hit.
	require.NoError(t, mem.Set(ctx, ListKey, []byte(`{"tasks":[],"total":0}`), time.Minute))
	tasks, err := c.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks, "served from cache, not from the server")

	// Any mutation invalidates; the next list reflects server truth.
	_, err = c.UpdateTask(ctx, created.ID, models.TaskPatch{})
	require.NoError(t, err)
	tasks, err = c.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestErrorClassification(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	_, err := c.UpdateTask(ctx, "does-not-exist", models.TaskPatch{})
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	_, err = c.CreateTask(ctx, models.TaskCreate{Start: time.Now()}, "")
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err), "missing title is 422")
}

func TestUnauthenticatedRequestIs401(t *testing.T) {
	srv := stub.New("test-secret", nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	c := New(ts.URL, time.Second, auth.NewSession(nil), nil, 0, logging.Discard())
	_, err := c.ListTasks(context.Background())
	require.Error(t, err)
	assert.Equal(t, apierr.KindAuth, apierr.KindOf(err))
}

func TestConnectivityEvents(t *testing.T) {
	srv := stub.New("test-secret", nil)
	ts := httptest.NewServer(srv.Router())

	token, err := srv.MintToken("tester", time.Hour)
	require.NoError(t, err)
	session := auth.NewSession(nil)
	require.NoError(t, session.SetToken(token))

	hub := auth.NewHub()
	var events []string
	hub.Subscribe(auth.EventOffline, func(auth.Event) { events = append(events, "offline") })
	hub.Subscribe(auth.EventOnline, func(auth.Event) { events = append(events, "online") })

	c := New(ts.URL, time.Second, session, nil, 0, logging.Discard())
	c.SetEventHub(hub)

	_, err = c.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events, "reachable from the start, no transition")

	ts.Close()
	_, err = c.ListTasks(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"offline"}, events)

	// Still down: no duplicate event.
	_, _ = c.ListTasks(context.Background())
	assert.Equal(t, []string{"offline"}, events)
}

func TestParseJobRoundTrip(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	jobID, err := c.SubmitParse(ctx, "water the plants")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := c.JobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, jobID, job.ID)
}

func TestParseCompletionInvalidatesListCache(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	// Prime the cache with the pre-parse (empty) list.
	tasks, err := c.ListTasks(ctx)
	require.NoError(t, err)
	require.Empty(t, tasks)

	jobID, err := c.SubmitParse(ctx, "buy milk")
	require.NoError(t, err)

	var job models.Job
	for i := 0; i < 3; i++ {
		job, err = c.JobStatus(ctx, jobID)
		require.NoError(t, err)
	}
	require.Equal(t, models.StatusCompleted, job.Status)

	// The completed job created a task server-side; the next list must not
	// be served from the stale cached entry.
	tasks, err = c.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "buy milk", tasks[0].Title)
}

func TestScheduleEndpoints(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	analysis, err := c.AnalyzeSchedule(ctx, "deep work on design doc")
	require.NoError(t, err)
	require.NotEmpty(t, analysis.Recommendations)

	task, err := c.ConfirmSchedule(ctx, analysis.WorkInfo, analysis.Recommendations[0])
	require.NoError(t, err)
	assert.Equal(t, analysis.WorkInfo.Title, task.Title)

	_, err = c.AnalyzeSchedule(ctx, "")
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}
