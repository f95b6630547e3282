package models

import (
	"time"
)

// Priority levels recognised by the scheduler. Rank orders them for the
// dispatch queue.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// PriorityRank maps a priority onto an ordering weight; unknown values sort
// with medium.
func PriorityRank(p string) int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Recurrence frequencies.
const (
	FreqDaily   = "daily"
	FreqWeekly  = "weekly"
	FreqMonthly = "monthly"
	FreqYearly  = "yearly"
)

// RecurrenceRule describes how a task repeats.
type RecurrenceRule struct {
	Frequency  string     `json:"frequency"`
	Interval   int        `json:"interval"`
	DaysOfWeek []int      `json:"days_of_week,omitempty"` // 0=Monday..6=Sunday, weekly only
	DayOfMonth int        `json:"day_of_month,omitempty"` // monthly only
	EndDate    *time.Time `json:"end_date,omitempty"`
	Count      int        `json:"count,omitempty"`
}

// Reminder types and their lead time before the task start.
const (
	ReminderNone     = "none"
	ReminderAtTime   = "at_time"
	ReminderBefore5  = "before_5min"
	ReminderBefore15 = "before_15min"
	ReminderBefore30 = "before_30min"
	ReminderBefore1H = "before_1hour"
	ReminderBefore1D = "before_1day"
)

// ReminderLead returns how far ahead of the start a reminder fires, and
// whether the kind carries a reminder at all.
func ReminderLead(kind string) (time.Duration, bool) {
	switch kind {
	case ReminderAtTime:
		return 0, true
	case ReminderBefore5:
		return 5 * time.Minute, true
	case ReminderBefore15:
		return 15 * time.Minute, true
	case ReminderBefore30:
		return 30 * time.Minute, true
	case ReminderBefore1H:
		return time.Hour, true
	case ReminderBefore1D:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Task is the domain record. ID is server-assigned once persisted; the store
// uses a temporary client id (tmp- prefix) until then.
type Task struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Start          time.Time       `json:"start"`
	End            *time.Time      `json:"end,omitempty"`
	Priority       string          `json:"priority"`
	IsImportant    bool            `json:"is_important"`
	IsRecurring    bool            `json:"is_recurring"`
	Recurrence     *RecurrenceRule `json:"recurrence_rule,omitempty"`
	ParentTaskID   string          `json:"parent_task_id,omitempty"`
	ReminderType   string          `json:"reminder_type,omitempty"`
	ReminderSent   bool            `json:"reminder_sent"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ReminderAt computes when the task's reminder is due. ok is false when the
// task has no reminder configured.
func (t Task) ReminderAt() (time.Time, bool) {
	lead, ok := ReminderLead(t.ReminderType)
	if !ok {
		return time.Time{}, false
	}
	return t.Start.Add(-lead), true
}

// UpcomingWithin selects tasks whose reminder falls inside [now, now+window)
// and has not been sent yet.
func UpcomingWithin(tasks []Task, now time.Time, window time.Duration) []Task {
	var due []Task
	for _, t := range tasks {
		at, ok := t.ReminderAt()
		if !ok || t.ReminderSent {
			continue
		}
		if !at.Before(now) && at.Before(now.Add(window)) {
			due = append(due, t)
		}
	}
	return due
}

// TaskCreate is the payload for POST /tasks.
type TaskCreate struct {
	Title        string          `json:"title"`
	Start        time.Time       `json:"start"`
	End          *time.Time      `json:"end,omitempty"`
	Priority     string          `json:"priority,omitempty"`
	IsImportant  bool            `json:"is_important,omitempty"`
	IsRecurring  bool            `json:"is_recurring,omitempty"`
	Recurrence   *RecurrenceRule `json:"recurrence_rule,omitempty"`
	ReminderType string          `json:"reminder_type,omitempty"`
}

// TaskPatch is a partial update; nil fields are left untouched.
type TaskPatch struct {
	Title        *string    `json:"title,omitempty"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	Priority     *string    `json:"priority,omitempty"`
	IsImportant  *bool      `json:"is_important,omitempty"`
	ReminderType *string    `json:"reminder_type,omitempty"`
}

// Apply copies the non-nil patch fields onto t and returns the result.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Start != nil {
		t.Start = *p.Start
	}
	if p.End != nil {
		t.End = p.End
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.IsImportant != nil {
		t.IsImportant = *p.IsImportant
	}
	if p.ReminderType != nil {
		t.ReminderType = *p.ReminderType
	}
	return t
}
