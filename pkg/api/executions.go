package api

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"synbridge/pkg/models"
)

// Execution statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Execution tracks one command sent to the companion through the API.
type Execution struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Status     string         `json:"status"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	Result     *models.Result `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`

	done chan struct{}
}

func (e *Execution) finished() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// Tracker records executions and lets callers wait for their results.
type Tracker struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	now        func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{executions: make(map[string]*Execution), now: time.Now}
}

// Track registers cmd as pending.
func (t *Tracker) Track(cmd models.Command) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions[cmd.ID] = &Execution{
		ID:         cmd.ID,
		Type:       cmd.Type,
		Parameters: cmd.Parameters,
		Status:     StatusPending,
		StartTime:  t.now(),
		done:       make(chan struct{}),
	}
}

// Resolve records the result for its command.
func (t *Tracker) Resolve(res models.Result) {
	status := StatusCompleted
	errMsg := ""
	if !res.Success {
		status, errMsg = StatusFailed, res.Message
	}
	t.finish(res.CommandID, status, &res, errMsg)
}

// Fail marks id as failed without a result.
func (t *Tracker) Fail(id string, err error) {
	t.finish(id, StatusFailed, nil, err.Error())
}

func (t *Tracker) finish(id, status string, res *models.Result, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.executions[id]
	if !ok || e.finished() {
		return
	}
	now := t.now()
	e.Status = status
	e.Result = res
	e.Error = errMsg
	e.EndTime = &now
	close(e.done)
}

// Get returns a snapshot of the execution.
func (t *Tracker) Get(id string) (Execution, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.executions[id]
	if !ok {
		return Execution{}, false
	}
	return *e, true
}

// Wait blocks until id finishes or ctx is done, then returns its snapshot.
func (t *Tracker) Wait(ctx context.Context, id string) (Execution, error) {
	t.mu.RLock()
	e, ok := t.executions[id]
	t.mu.RUnlock()
	if !ok {
		return Execution{}, fmt.Errorf("execution %s not found", id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
	}
	snapshot, _ := t.Get(id)
	return snapshot, ctx.Err()
}

// List returns every execution, newest first.
func (t *Tracker) List() []Execution {
	t.mu.RLock()
	list := make([]Execution, 0, len(t.executions))
	for _, e := range t.executions {
		list = append(list, *e)
	}
	t.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].StartTime.After(list[j].StartTime) })
	return list
}

// Cleanup drops finished executions older than maxAge and returns how many
// were removed.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)
	cleaned := 0

	t.mu.Lock()
	for id, e := range t.executions {
		if e.StartTime.Before(cutoff) && e.finished() {
			delete(t.executions, id)
			cleaned++
		}
	}
	t.mu.Unlock()
	return cleaned
}

// Counts returns the total and pending execution counts.
func (t *Tracker) Counts() (total, pending int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.executions {
		if !e.finished() {
			pending++
		}
	}
	return len(t.executions), pending
}
