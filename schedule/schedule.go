// Package schedule implements the self-gating periodic tasks that every control routine uses.
//
// A routine owns a Task and asks it whether it is due on every pass of the outer loop. Nothing
// blocks: a task that is not due simply reports false.
package schedule

import "time"

// Task is a software timer for one periodic routine.
type Task struct {
	Period time.Duration

	next    time.Time
	lastRun time.Time
}

// NewTask returns a task that is due immediately.
func NewTask(period time.Duration) *Task {
	return &Task{Period: period}
}

// Ready reports whether the task is due at now. When it is, the task is rescheduled to
// now+Period and the time since the previous run is returned (zero on the first run).
func (t *Task) Ready(now time.Time) (time.Duration, bool) {
	if !t.next.IsZero() && now.Before(t.next) {
		return 0, false
	}
	t.next = now.Add(t.Period)
	var elapsed time.Duration
	if !t.lastRun.IsZero() {
		elapsed = now.Sub(t.lastRun)
	}
	t.lastRun = now
	return elapsed, true
}

// Due is Ready without the elapsed time.
func (t *Task) Due(now time.Time) bool {
	_, ok := t.Ready(now)
	return ok
}

// Next returns the earliest time the task will run again.
func (t *Task) Next() time.Time {
	return t.next
}

// Reset makes the task due immediately and forgets the previous run.
func (t *Task) Reset() {
	t.next = time.Time{}
	t.lastRun = time.Time{}
}
