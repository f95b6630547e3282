// Package dispatch bounds how many remote operations run at once and queues
// the overflow by priority.
package dispatch

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpilot-client/internal/apierr"
	"taskpilot-client/internal/models"
	"taskpilot-client/internal/telemetry"
)

// Operation is a unit of outbound work. It must honor ctx cancellation.
type Operation func(ctx context.Context) (any, error)

// Result carries an operation's outcome to its ticket.
type Result struct {
	Value any
	Err   error
}

// Ticket is the caller's handle on a submitted operation.
type Ticket struct {
	ID string
	ch chan Result
}

// Wait blocks until the operation resolves or ctx is done. Abandoning the
// wait does not cancel the operation; its slot is still released on
// completion.
func (t *Ticket) Wait(ctx context.Context) (any, error) {
	select {
	case r := <-t.ch:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, apierr.FromTransport("dispatch.wait", ctx.Err())
	}
}

func (t *Ticket) deliver(v any, err error) {
	t.ch <- Result{Value: v, Err: err}
}

type queued struct {
	ticket      *Ticket
	ctx         context.Context
	op          Operation
	rank        int
	seq         uint64
	submittedAt time.Time
	index       int
}

// opQueue orders by priority rank descending, then submission sequence
// ascending, which keeps equal-priority entries FIFO even when they arrive in
// the same tick.
type opQueue []*queued

func (q opQueue) Len() int { return len(q) }
func (q opQueue) Less(i, j int) bool {
	if q[i].rank != q[j].rank {
		return q[i].rank > q[j].rank
	}
	return q[i].seq < q[j].seq
}
func (q opQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *opQueue) Push(x any) {
	item := x.(*queued)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *opQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Status is an observability snapshot.
type Status struct {
	InFlight int `json:"in_flight"`
	Queued   int `json:"queued"`
	Max      int `json:"max"`
}

// Controller admits at most max concurrent operations. It never fails on its
// own account; it only relays each operation's outcome to its ticket.
type Controller struct {
	mu       sync.Mutex
	max      int
	inFlight int
	queue    opQueue
	seq      uint64
	log      *slog.Logger
}

// New builds a controller. maxConcurrent below 1 is clamped to 1.
func New(maxConcurrent int, log *slog.Logger) *Controller {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{max: maxConcurrent, log: log.With("component", "dispatch")}
}

// Submit starts op immediately when a slot is free, otherwise queues it at
// the position dictated by priority-then-FIFO order. The returned ticket
// resolves with the operation's own outcome.
func (c *Controller) Submit(ctx context.Context, priority string, op Operation) *Ticket {
	t := &Ticket{ID: uuid.NewString(), ch: make(chan Result, 1)}

	c.mu.Lock()
	if c.inFlight < c.max {
		c.inFlight++
		telemetry.InFlightGauge.Inc()
		c.mu.Unlock()
		go c.run(ctx, op, t)
		return t
	}
	c.seq++
	heap.Push(&c.queue, &queued{
		ticket:      t,
		ctx:         ctx,
		op:          op,
		rank:        models.PriorityRank(priority),
		seq:         c.seq,
		submittedAt: time.Now(),
	})
	telemetry.QueueDepthGauge.Set(float64(len(c.queue)))
	c.mu.Unlock()

	c.log.Debug("operation queued", "ticket", t.ID, "priority", priority)
	return t
}

func (c *Controller) run(ctx context.Context, op Operation, t *Ticket) {
	if err := ctx.Err(); err != nil {
		// Caller gave up while the operation sat in the queue.
		t.deliver(nil, apierr.FromTransport("dispatch.run", err))
		c.finish()
		return
	}
	v, err := op(ctx)
	t.deliver(v, err)
	c.finish()
}

// finish releases a slot and starts as many queued operations as capacity
// allows (more than one after UpdateMaxConcurrency raised the limit).
func (c *Controller) finish() {
	c.mu.Lock()
	c.inFlight--
	telemetry.InFlightGauge.Dec()
	started := c.drainLocked()
	c.mu.Unlock()

	for _, q := range started {
		go c.run(q.ctx, q.op, q.ticket)
	}
}

// drainLocked pops queue entries into free slots. Caller holds c.mu.
func (c *Controller) drainLocked() []*queued {
	var started []*queued
	for c.inFlight < c.max && len(c.queue) > 0 {
		q := heap.Pop(&c.queue).(*queued)
		c.inFlight++
		telemetry.InFlightGauge.Inc()
		started = append(started, q)
	}
	telemetry.QueueDepthGauge.Set(float64(len(c.queue)))
	return started
}

// UpdateMaxConcurrency changes the admission limit. Raising it drains the
// queue immediately; lowering it only affects future admissions, in-flight
// operations are never interrupted.
func (c *Controller) UpdateMaxConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	c.max = n
	started := c.drainLocked()
	c.mu.Unlock()

	c.log.Info("max concurrency updated", "max", n, "drained", len(started))
	for _, q := range started {
		go c.run(q.ctx, q.op, q.ticket)
	}
}

// GetStatus returns a snapshot without mutating state.
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{InFlight: c.inFlight, Queued: len(c.queue), Max: c.max}
}

// ClearQueue rejects every queued (not yet started) operation with a
// cancelled error. In-flight operations are unaffected.
func (c *Controller) ClearQueue() int {
	c.mu.Lock()
	dropped := make([]*queued, len(c.queue))
	copy(dropped, c.queue)
	c.queue = c.queue[:0]
	telemetry.QueueDepthGauge.Set(0)
	c.mu.Unlock()

	for _, q := range dropped {
		q.ticket.deliver(nil, apierr.Canceled("dispatch.submit"))
		telemetry.QueueCancels.Inc()
	}
	if len(dropped) > 0 {
		c.log.Info("queue cleared", "dropped", len(dropped))
	}
	return len(dropped)
}
