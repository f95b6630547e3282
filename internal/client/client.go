// Package client is the typed HTTP client for the task-planner API. It
// attaches the bearer credential, classifies failures into the closed error
// taxonomy, and memoizes the idempotent task-list read.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"taskpilot-client/internal/apierr"
	"taskpilot-client/internal/auth"
	"taskpilot-client/internal/cache"
	"taskpilot-client/internal/models"
)

// ListKey is the cache key for GET /tasks, the only cached endpoint.
var ListKey = cache.Key("/tasks", nil)

// Client talks to one API base URL.
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   auth.TokenSource
	cache    cache.Cache
	cacheTTL time.Duration
	log      *slog.Logger

	hub     *auth.Hub
	offline atomic.Bool
}

// New builds a client. respCache may be nil to disable caching.
func New(baseURL string, timeout time.Duration, tokens auth.TokenSource, respCache cache.Cache, cacheTTL time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		tokens:   tokens,
		cache:    respCache,
		cacheTTL: cacheTTL,
		log:      log.With("component", "api_client"),
	}
}

// SetEventHub makes the client broadcast online/offline transitions: offline
// on a transport-level failure, online on the next response of any status.
func (c *Client) SetEventHub(h *auth.Hub) {
	c.hub = h
}

func (c *Client) markConnectivity(reachable bool) {
	if c.hub == nil {
		return
	}
	if reachable {
		if c.offline.CompareAndSwap(true, false) {
			c.hub.Publish(auth.Event{Kind: auth.EventOnline})
		}
		return
	}
	if c.offline.CompareAndSwap(false, true) {
		c.hub.Publish(auth.Event{Kind: auth.EventOffline})
	}
}

// Response envelopes as served by the backend.
type taskListResponse struct {
	Tasks []models.Task `json:"tasks"`
	Total int           `json:"total"`
}

type taskResponse struct {
	Task models.Task `json:"task"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type parseSubmitRequest struct {
	Text string `json:"text"`
}

type parseSubmitResponse struct {
	JobID string `json:"job_id"`
}

type analyzeRequest struct {
	Description string `json:"description"`
}

type analyzeResponse struct {
	Success         bool              `json:"success"`
	WorkInfo        models.WorkInfo   `json:"work_info"`
	Recommendations []models.TimeSlot `json:"recommendations"`
	Error           string            `json:"error,omitempty"`
}

type confirmRequest struct {
	WorkInfo     models.WorkInfo `json:"work_info"`
	SelectedSlot models.TimeSlot `json:"selected_slot"`
}

type confirmResponse struct {
	Success bool        `json:"success"`
	Task    models.Task `json:"task"`
	Error   string      `json:"error,omitempty"`
}

// ListTasks returns the task collection, serving from cache within the TTL.
func (c *Client) ListTasks(ctx context.Context) ([]models.Task, error) {
	if c.cache != nil {
		if raw, ok, err := c.cache.Get(ctx, ListKey); err == nil && ok {
			var cached taskListResponse
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached.Tasks, nil
			}
			// A corrupt entry is dropped, not served.
			_ = c.cache.Invalidate(ctx, ListKey)
		}
	}

	var out taskListResponse
	if err := c.do(ctx, "list_tasks", http.MethodGet, "/tasks", nil, nil, &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		if raw, err := json.Marshal(out); err == nil {
			_ = c.cache.Set(ctx, ListKey, raw, c.cacheTTL)
		}
	}
	return out.Tasks, nil
}

// CreateTask posts a new task. idempotencyKey rides along so a retried
// create after a client-side timeout cannot double-insert on servers that
// honor it.
func (c *Client) CreateTask(ctx context.Context, payload models.TaskCreate, idempotencyKey string) (models.Task, error) {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	var out taskResponse
	if err := c.do(ctx, "create_task", http.MethodPost, "/tasks", headers, payload, &out); err != nil {
		return models.Task{}, err
	}
	c.invalidateList(ctx)
	return out.Task, nil
}

// UpdateTask applies a partial patch.
func (c *Client) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error) {
	var out taskResponse
	if err := c.do(ctx, "update_task", http.MethodPut, "/tasks/"+id, nil, patch, &out); err != nil {
		return models.Task{}, err
	}
	c.invalidateList(ctx)
	return out.Task, nil
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	var out deleteResponse
	if err := c.do(ctx, "delete_task", http.MethodDelete, "/tasks/"+id, nil, nil, &out); err != nil {
		return err
	}
	c.invalidateList(ctx)
	return nil
}

// SubmitParse hands free text to the async natural-language parser and
// returns the job id to poll.
func (c *Client) SubmitParse(ctx context.Context, text string) (string, error) {
	var out parseSubmitResponse
	if err := c.do(ctx, "submit_parse", http.MethodPost, "/tasks/parse/async", nil, parseSubmitRequest{Text: text}, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// JobStatus fetches one observation of an async parse job. A completed job
// has created tasks server-side, so it counts as a mutation and drops the
// cached list.
func (c *Client) JobStatus(ctx context.Context, jobID string) (models.Job, error) {
	var out models.Job
	if err := c.do(ctx, "job_status", http.MethodGet, "/tasks/async/"+jobID+"/status", nil, nil, &out); err != nil {
		return models.Job{}, err
	}
	if out.ID == "" {
		out.ID = jobID
	}
	if out.Status == models.StatusCompleted {
		c.invalidateList(ctx)
	}
	return out, nil
}

// AnalyzeSchedule asks the AI endpoint for recommended time slots.
func (c *Client) AnalyzeSchedule(ctx context.Context, description string) (models.ScheduleAnalysis, error) {
	var out analyzeResponse
	if err := c.do(ctx, "analyze_schedule", http.MethodPost, "/schedule/analyze", nil, analyzeRequest{Description: description}, &out); err != nil {
		return models.ScheduleAnalysis{}, err
	}
	if !out.Success {
		return models.ScheduleAnalysis{}, apierr.New(apierr.KindValidation, "analyze_schedule", fmt.Errorf("analysis rejected: %s", out.Error))
	}
	return models.ScheduleAnalysis{WorkInfo: out.WorkInfo, Recommendations: out.Recommendations}, nil
}

// ConfirmSchedule books the selected slot and returns the created task.
func (c *Client) ConfirmSchedule(ctx context.Context, work models.WorkInfo, slot models.TimeSlot) (models.Task, error) {
	var out confirmResponse
	if err := c.do(ctx, "confirm_schedule", http.MethodPost, "/schedule/confirm", nil, confirmRequest{WorkInfo: work, SelectedSlot: slot}, &out); err != nil {
		return models.Task{}, err
	}
	if !out.Success {
		return models.Task{}, apierr.New(apierr.KindValidation, "confirm_schedule", fmt.Errorf("confirm rejected: %s", out.Error))
	}
	c.invalidateList(ctx)
	return out.Task, nil
}

func (c *Client) invalidateList(ctx context.Context) {
	if c.cache != nil {
		_ = c.cache.Invalidate(ctx, ListKey)
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, headers map[string]string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apierr.New(apierr.KindValidation, op, fmt.Errorf("encode request: %w", err))
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return apierr.New(apierr.KindValidation, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.tokens != nil {
		if tok, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.markConnectivity(false)
		return apierr.FromTransport(op, err)
	}
	defer resp.Body.Close()
	c.markConnectivity(true)

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e := apierr.FromStatus(op, resp.StatusCode, string(msg))
		c.log.Debug("request failed", "op", op, "status", resp.StatusCode, "kind", e.Kind)
		return e
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierr.New(apierr.KindValidation, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
