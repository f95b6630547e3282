// Package stub is a local stand-in for the remote task-planner API. It
// implements the full endpoint surface with deterministic async-job
// progression, bearer auth, optional rate limiting, and failure injection,
// so the client stack can be exercised end to end without the real backend.
package stub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"taskpilot-client/internal/models"
	"taskpilot-client/internal/ratelimit"
)

// Server holds the in-memory world the stub serves.
type Server struct {
	secret  []byte
	limiter *ratelimit.Window

	mu       sync.Mutex
	tasks    map[string]models.Task
	order    []string
	jobs     map[string]*job
	idem     map[string]string // Idempotency-Key -> created task id
	failures map[string]int    // X-Fail-Key -> failures already served
}

// job advances one state per status poll: pending on the first observation,
// running on the second, completed from the third on. Deterministic for
// tests regardless of poll timing.
type job struct {
	id     string
	text   string
	polls  int
	failed bool
}

// New constructs the stub. limiter may be nil to disable throttling.
func New(secret string, limiter *ratelimit.Window) *Server {
	return &Server{
		secret:   []byte(secret),
		limiter:  limiter,
		tasks:    make(map[string]models.Task),
		order:    make([]string, 0),
		jobs:     make(map[string]*job),
		idem:     make(map[string]string),
		failures: make(map[string]int),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/auth/token", s.handleMintToken)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Use(s.injectFailures)
		r.Use(s.throttle)

		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleCreateTask)
		r.Put("/tasks/{id}", s.handleUpdateTask)
		r.Delete("/tasks/{id}", s.handleDeleteTask)
		r.Post("/tasks/parse/async", s.handleSubmitParse)
		r.Get("/tasks/async/{id}/status", s.handleJobStatus)
		r.Post("/schedule/analyze", s.handleAnalyze)
		r.Post("/schedule/confirm", s.handleConfirm)
	})
	return r
}

// MintToken issues a dev bearer token directly, for tests that skip the HTTP
// round trip.
func (s *Server) MintToken(subject string, ttl time.Duration) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	})
	return tok.SignedString(s.secret)
}

func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Subject == "" {
		req.Subject = "dev"
	}
	raw, err := s.MintToken(req.Subject, time.Hour)
	if err != nil {
		http.Error(w, "mint failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": raw})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.secret, nil
		})
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// injectFailures serves N transient errors for a given X-Fail-Key before
// letting requests through, which exercises the retry executor for real.
// X-Delay adds artificial latency to exercise client-side timeouts.
func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay, err := time.ParseDuration(r.Header.Get("X-Delay")); err == nil && delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		key := r.Header.Get("X-Fail-Key")
		times, _ := strconv.Atoi(r.Header.Get("X-Fail-Times"))
		if key != "" && times > 0 {
			s.mu.Lock()
			served := s.failures[key]
			if served < times {
				s.failures[key] = served + 1
				s.mu.Unlock()
				http.Error(w, "injected transient failure", http.StatusServiceUnavailable)
				return
			}
			s.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			allowed, _, err := s.limiter.Allow(r.Context(), callerKey(r))
			if err != nil {
				http.Error(w, "rate limiter error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if v := r.Header.Get("X-Caller-ID"); v != "" {
		return v
	}
	return "default"
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	tasks := make([]models.Task, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, s.tasks[id])
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "total": len(tasks)})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req models.TaskCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "title is required", http.StatusUnprocessableEntity)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	s.mu.Lock()
	if key != "" {
		if existing, ok := s.idem[key]; ok {
			task := s.tasks[existing]
			s.mu.Unlock()
			writeJSON(w, http.StatusCreated, map[string]any{"task": task})
			return
		}
	}
	task := s.insertLocked(req)
	if key != "" {
		s.idem[key] = task.ID
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"task": task})
}

// insertLocked materializes a create payload as a stored task. Caller holds
// s.mu.
func (s *Server) insertLocked(req models.TaskCreate) models.Task {
	now := time.Now().UTC()
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	task := models.Task{
		ID:           uuid.NewString(),
		Title:        req.Title,
		Start:        req.Start,
		End:          req.End,
		Priority:     priority,
		IsImportant:  req.IsImportant,
		IsRecurring:  req.IsRecurring,
		Recurrence:   req.Recurrence,
		ReminderType: req.ReminderType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	return task
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch models.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	task = patch.Apply(task)
	task.UpdatedAt = time.Now().UTC()
	s.tasks[id] = task
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	delete(s.tasks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "task deleted"})
}

func (s *Server) handleSubmitParse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusUnprocessableEntity)
		return
	}

	j := &job{id: uuid.NewString(), text: req.Text}
	j.failed = strings.Contains(strings.ToLower(req.Text), "unparseable")

	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": j.id})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	j.polls++
	resp := models.Job{ID: j.id}
	switch {
	case j.polls == 1:
		resp.Status = models.StatusPending
	case j.polls == 2:
		resp.Status = models.StatusRunning
	case j.failed:
		resp.Status = models.StatusFailed
		resp.Error = "could not extract tasks from input"
	default:
		resp.Status = models.StatusCompleted
		resp.Result = s.parseLocked(j.text)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// parseLocked fakes the AI parser: each non-empty line of input becomes a
// stored task starting on the hour. Caller holds s.mu.
func (s *Server) parseLocked(text string) []models.Task {
	start := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
	var created []models.Task
	for _, line := range strings.Split(text, "\n") {
		title := strings.TrimSpace(line)
		if title == "" {
			continue
		}
		task := s.insertLocked(models.TaskCreate{Title: title, Start: start})
		created = append(created, task)
		start = start.Add(time.Hour)
	}
	return created
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Description) == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "description is required"})
		return
	}

	base := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	slots := []models.TimeSlot{
		{Start: base.Add(9 * time.Hour), End: base.Add(11 * time.Hour), Score: 92, Reason: "morning focus block"},
		{Start: base.Add(14 * time.Hour), End: base.Add(16 * time.Hour), Score: 78, Reason: "after lunch, calendar clear"},
		{Start: base.Add(33 * time.Hour), End: base.Add(35 * time.Hour), Score: 64, Reason: "next-day fallback"},
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"work_info": models.WorkInfo{
			Title:         firstLine(req.Description),
			Description:   req.Description,
			DurationHours: 2,
			Priority:      models.PriorityMedium,
		},
		"recommendations": slots,
	})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkInfo     models.WorkInfo `json:"work_info"`
		SelectedSlot models.TimeSlot `json:"selected_slot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkInfo.Title == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "work_info is required"})
		return
	}

	priority := req.WorkInfo.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	s.mu.Lock()
	task := s.insertLocked(models.TaskCreate{
		Title:    req.WorkInfo.Title,
		Start:    req.SelectedSlot.Start,
		End:      &req.SelectedSlot.End,
		Priority: priority,
	})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "task": task})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
