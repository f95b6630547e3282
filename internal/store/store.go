// Package store owns the in-memory task collection and gives the UI
// immediate feedback: mutations apply locally first, then reconcile with
// server truth or roll back on terminal failure.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpilot-client/internal/apierr"
	"taskpilot-client/internal/auth"
	"taskpilot-client/internal/dispatch"
	"taskpilot-client/internal/models"
	"taskpilot-client/internal/poller"
	"taskpilot-client/internal/retry"
	"taskpilot-client/internal/telemetry"
)

// API is the slice of the HTTP client the store consumes. Narrowed to an
// interface so tests can script failures.
type API interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	CreateTask(ctx context.Context, payload models.TaskCreate, idempotencyKey string) (models.Task, error)
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	SubmitParse(ctx context.Context, text string) (string, error)
	JobStatus(ctx context.Context, jobID string) (models.Job, error)
	AnalyzeSchedule(ctx context.Context, description string) (models.ScheduleAnalysis, error)
	ConfirmSchedule(ctx context.Context, work models.WorkInfo, slot models.TimeSlot) (models.Task, error)
}

// Options tune the store's network behavior.
type Options struct {
	ReadRetry  retry.Policy
	WriteRetry retry.Policy
	Poll       poller.Options
}

// tempPrefix marks speculative ids so they can never collide with
// server-assigned ones.
const tempPrefix = "tmp-"

// pendingMutation is the bookkeeping for one optimistic write, keyed by a
// correlation token independent of both temp and server ids. It exists only
// between speculative apply and reconciliation/rollback.
type pendingMutation struct {
	targetID string
	prev     *models.Task // nil: entity absent before the mutation
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

// TaskStore is the authoritative client-side task collection.
type TaskStore struct {
	api     API
	ctrl    *dispatch.Controller
	poller  *poller.Poller
	session *auth.Session
	opts    Options
	log     *slog.Logger

	mu      sync.Mutex
	tasks   map[string]models.Task
	order   []string
	pending map[string]pendingMutation
	locks   map[string]*idLock
}

// New wires a store. session gates every mutating call; ctrl bounds all
// outbound operations.
func New(api API, ctrl *dispatch.Controller, p *poller.Poller, session *auth.Session, opts Options, log *slog.Logger) *TaskStore {
	if log == nil {
		log = slog.Default()
	}
	return &TaskStore{
		api:     api,
		ctrl:    ctrl,
		poller:  p,
		session: session,
		opts:    opts,
		log:     log.With("component", "task_store"),
		tasks:   make(map[string]models.Task),
		order:   make([]string, 0),
		pending: make(map[string]pendingMutation),
		locks:   make(map[string]*idLock),
	}
}

// lockID serializes mutations per entity id so a stale snapshot can never
// overwrite a newer one on rollback. The returned func releases the lock.
func (s *TaskStore) lockID(id string) func() {
	s.mu.Lock()
	l := s.locks[id]
	if l == nil {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// Snapshot returns the collection in insertion order.
func (s *TaskStore) Snapshot() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id])
	}
	return out
}

// Get looks up one task.
func (s *TaskStore) Get(id string) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Len reports the collection size.
func (s *TaskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// PendingMutations reports how many optimistic writes are unresolved.
func (s *TaskStore) PendingMutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// UpcomingReminders selects tasks whose reminder falls due within window.
func (s *TaskStore) UpcomingReminders(window time.Duration) []models.Task {
	return models.UpcomingWithin(s.Snapshot(), time.Now(), window)
}

// Refresh replaces the collection with server truth.
func (s *TaskStore) Refresh(ctx context.Context) error {
	v, err := s.execute(ctx, models.PriorityMedium, s.opts.ReadRetry, func(ctx context.Context) (any, error) {
		return s.api.ListTasks(ctx)
	})
	if err != nil {
		return err
	}
	tasks := v.([]models.Task)

	s.mu.Lock()
	s.tasks = make(map[string]models.Task, len(tasks))
	s.order = s.order[:0]
	for _, t := range tasks {
		s.tasks[t.ID] = t
		s.order = append(s.order, t.ID)
	}
	s.mu.Unlock()
	return nil
}

// Create inserts a speculative task under a temporary id and reconciles it
// with the server-confirmed one, or removes it on terminal failure. The
// speculative entity is visible to readers while the call is outstanding.
func (s *TaskStore) Create(ctx context.Context, req models.TaskCreate) (models.Task, error) {
	if !s.session.Authenticated() {
		return models.Task{}, apierr.Unauthenticated("store.create")
	}

	token := uuid.NewString()
	tempID := tempPrefix + token
	release := s.lockID(tempID)
	defer release()

	now := time.Now()
	speculative := models.Task{
		ID:           tempID,
		Title:        req.Title,
		Start:        req.Start,
		End:          req.End,
		Priority:     defaultPriority(req.Priority),
		IsImportant:  req.IsImportant,
		IsRecurring:  req.IsRecurring,
		Recurrence:   req.Recurrence,
		ReminderType: req.ReminderType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.tasks[tempID] = speculative
	s.order = append(s.order, tempID)
	s.pending[token] = pendingMutation{targetID: tempID}
	s.mu.Unlock()

	v, err := s.execute(ctx, models.PriorityMedium, s.opts.WriteRetry, func(ctx context.Context) (any, error) {
		// The correlation token doubles as the idempotency key, so a
		// retried create after a client-side timeout cannot double-insert.
		return s.api.CreateTask(ctx, req, token)
	})
	if err != nil {
		s.rollbackCreate(token, tempID)
		return models.Task{}, fmt.Errorf("create task: %w", err)
	}

	confirmed := v.(models.Task)
	s.mu.Lock()
	delete(s.tasks, tempID)
	s.tasks[confirmed.ID] = confirmed
	for i, id := range s.order {
		if id == tempID {
			s.order[i] = confirmed.ID
			break
		}
	}
	delete(s.pending, token)
	s.mu.Unlock()

	s.log.Debug("create reconciled", "temp_id", tempID, "id", confirmed.ID)
	return confirmed, nil
}

func (s *TaskStore) rollbackCreate(token, tempID string) {
	s.mu.Lock()
	delete(s.tasks, tempID)
	s.removeFromOrderLocked(tempID)
	delete(s.pending, token)
	s.mu.Unlock()
	telemetry.Rollbacks.Inc()
	s.log.Debug("create rolled back", "temp_id", tempID)
}

// Update applies the patch locally, then reconciles with the server response
// or restores the pre-call snapshot on terminal failure.
func (s *TaskStore) Update(ctx context.Context, id string, patch models.TaskPatch) (models.Task, error) {
	if !s.session.Authenticated() {
		return models.Task{}, apierr.Unauthenticated("store.update")
	}

	release := s.lockID(id)
	defer release()

	token := uuid.NewString()
	s.mu.Lock()
	current, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return models.Task{}, apierr.New(apierr.KindValidation, "store.update", fmt.Errorf("task %s not found", id))
	}
	snapshot := current
	s.tasks[id] = patch.Apply(current)
	s.pending[token] = pendingMutation{targetID: id, prev: &snapshot}
	s.mu.Unlock()

	v, err := s.execute(ctx, models.PriorityMedium, s.opts.WriteRetry, func(ctx context.Context) (any, error) {
		return s.api.UpdateTask(ctx, id, patch)
	})
	if err != nil {
		s.mu.Lock()
		s.tasks[id] = snapshot
		delete(s.pending, token)
		s.mu.Unlock()
		telemetry.Rollbacks.Inc()
		s.log.Debug("update rolled back", "id", id)
		return models.Task{}, fmt.Errorf("update task: %w", err)
	}

	confirmed := v.(models.Task)
	s.mu.Lock()
	s.tasks[id] = confirmed
	delete(s.pending, token)
	s.mu.Unlock()
	return confirmed, nil
}

// Delete removes the task locally and reinserts the snapshot if the server
// call terminally fails. Reinsertion restores the original position.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	if !s.session.Authenticated() {
		return apierr.Unauthenticated("store.delete")
	}

	release := s.lockID(id)
	defer release()

	token := uuid.NewString()
	s.mu.Lock()
	current, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return apierr.New(apierr.KindValidation, "store.delete", fmt.Errorf("task %s not found", id))
	}
	snapshot := current
	position := s.removeFromOrderLocked(id)
	delete(s.tasks, id)
	s.pending[token] = pendingMutation{targetID: id, prev: &snapshot}
	s.mu.Unlock()

	_, err := s.execute(ctx, models.PriorityMedium, s.opts.WriteRetry, func(ctx context.Context) (any, error) {
		return nil, s.api.DeleteTask(ctx, id)
	})
	if err != nil {
		s.mu.Lock()
		s.tasks[id] = snapshot
		s.insertOrderLocked(id, position)
		delete(s.pending, token)
		s.mu.Unlock()
		telemetry.Rollbacks.Inc()
		s.log.Debug("delete rolled back", "id", id)
		return fmt.Errorf("delete task: %w", err)
	}

	s.mu.Lock()
	delete(s.pending, token)
	s.mu.Unlock()
	return nil
}

// ParseTasks submits free text to the async natural-language parser, polls
// the job to completion, and merges the resulting tasks into the collection.
// Parsing creates server-side tasks, so it is gated like any other write.
func (s *TaskStore) ParseTasks(ctx context.Context, text string) ([]models.Task, error) {
	if !s.session.Authenticated() {
		return nil, apierr.Unauthenticated("store.parse")
	}

	submit := func(ctx context.Context) (string, error) {
		v, err := s.execute(ctx, models.PriorityHigh, s.opts.WriteRetry, func(ctx context.Context) (any, error) {
			return s.api.SubmitParse(ctx, text)
		})
		if err != nil {
			return "", err
		}
		return v.(string), nil
	}
	status := func(ctx context.Context, jobID string) (models.Job, error) {
		v, err := s.execute(ctx, models.PriorityHigh, s.opts.ReadRetry, func(ctx context.Context) (any, error) {
			return s.api.JobStatus(ctx, jobID)
		})
		if err != nil {
			return models.Job{}, err
		}
		return v.(models.Job), nil
	}

	job, err := s.poller.SubmitAndPoll(ctx, submit, status, s.opts.Poll)
	if err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}

	s.mu.Lock()
	for _, t := range job.Result {
		if _, exists := s.tasks[t.ID]; !exists {
			s.tasks[t.ID] = t
			s.order = append(s.order, t.ID)
		}
	}
	s.mu.Unlock()
	return job.Result, nil
}

// AnalyzeSchedule is a read-like AI call: no local state changes, elevated
// latency tolerance, routed through the controller at medium priority.
func (s *TaskStore) AnalyzeSchedule(ctx context.Context, description string) (models.ScheduleAnalysis, error) {
	v, err := s.execute(ctx, models.PriorityMedium, s.opts.ReadRetry, func(ctx context.Context) (any, error) {
		return s.api.AnalyzeSchedule(ctx, description)
	})
	if err != nil {
		return models.ScheduleAnalysis{}, fmt.Errorf("analyze schedule: %w", err)
	}
	return v.(models.ScheduleAnalysis), nil
}

// ConfirmSchedule books the selected slot and inserts the created task. The
// task shape is server-defined, so no speculative entity precedes it.
func (s *TaskStore) ConfirmSchedule(ctx context.Context, work models.WorkInfo, slot models.TimeSlot) (models.Task, error) {
	if !s.session.Authenticated() {
		return models.Task{}, apierr.Unauthenticated("store.confirm")
	}

	v, err := s.execute(ctx, models.PriorityMedium, s.opts.WriteRetry, func(ctx context.Context) (any, error) {
		return s.api.ConfirmSchedule(ctx, work, slot)
	})
	if err != nil {
		return models.Task{}, fmt.Errorf("confirm schedule: %w", err)
	}

	task := v.(models.Task)
	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; !exists {
		s.tasks[task.ID] = task
		s.order = append(s.order, task.ID)
	}
	s.mu.Unlock()
	return task, nil
}

// DeleteRange removes every task starting within [from, to), one serialized
// delete per task. Individual failures roll back their own task and are
// joined into the returned error; the rest proceed.
func (s *TaskStore) DeleteRange(ctx context.Context, from, to time.Time) ([]models.Task, error) {
	if !s.session.Authenticated() {
		return nil, apierr.Unauthenticated("store.delete_range")
	}

	var victims []models.Task
	for _, t := range s.Snapshot() {
		if !t.Start.Before(from) && t.Start.Before(to) {
			victims = append(victims, t)
		}
	}

	var deleted []models.Task
	var errs []error
	for _, t := range victims {
		if err := s.Delete(ctx, t.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, t)
	}
	return deleted, errors.Join(errs...)
}

// DeleteDay removes the tasks of date's calendar day.
func (s *TaskStore) DeleteDay(ctx context.Context, date time.Time) ([]models.Task, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return s.DeleteRange(ctx, day, day.AddDate(0, 0, 1))
}

// DeleteWeek removes the tasks of date's Monday-based week.
func (s *TaskStore) DeleteWeek(ctx context.Context, date time.Time) ([]models.Task, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	offset := (int(day.Weekday()) + 6) % 7 // Monday=0
	monday := day.AddDate(0, 0, -offset)
	return s.DeleteRange(ctx, monday, monday.AddDate(0, 0, 7))
}

// DeleteMonth removes the tasks of date's calendar month.
func (s *TaskStore) DeleteMonth(ctx context.Context, date time.Time) ([]models.Task, error) {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location())
	return s.DeleteRange(ctx, first, first.AddDate(0, 1, 0))
}

// execute routes one network operation through the controller with the given
// retry policy. The outcome is always awaited — in-flight operations are not
// cancellable, and reconciliation must happen exactly once — while the
// caller's ctx still cancels the operation itself between attempts.
func (s *TaskStore) execute(ctx context.Context, priority string, policy retry.Policy, op func(context.Context) (any, error)) (any, error) {
	ticket := s.ctrl.Submit(ctx, priority, func(ctx context.Context) (any, error) {
		var out any
		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			v, err := op(ctx)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
		return out, err
	})
	return ticket.Wait(context.Background())
}

func (s *TaskStore) removeFromOrderLocked(id string) int {
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return i
		}
	}
	return len(s.order)
}

func (s *TaskStore) insertOrderLocked(id string, pos int) {
	if pos > len(s.order) {
		pos = len(s.order)
	}
	s.order = append(s.order, "")
	copy(s.order[pos+1:], s.order[pos:])
	s.order[pos] = id
}

func defaultPriority(p string) string {
	if p == "" {
		return models.PriorityMedium
	}
	return p
}
