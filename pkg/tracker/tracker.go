package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/fleetctl/fleetd/pkg/types"
	"github.com/google/uuid"
)

// ActionStatus is the lifecycle state of a TrackedAction.
type ActionStatus string

const (
	ActionProposed  ActionStatus = "proposed"
	ActionExecuting ActionStatus = "executing"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionCancelled ActionStatus = "cancelled"
)

// ActionResult records the outcome of a finished TrackedAction.
type ActionResult struct {
	Success     bool
	Message     string
	CompletedAt time.Time
}

// TrackedAction pairs a proposed Action with its execution bookkeeping.
type TrackedAction struct {
	ID         string
	Action     types.Action
	ProposedAt time.Time
	Status     ActionStatus
	Result     *ActionResult
	RetryCount int
}

// GoalProgress accumulates how a goal's actions have fared over time.
type GoalProgress struct {
	GoalID             string
	LastPlanned        time.Time
	ActionsProposed    int
	ActionsCompleted   int
	ActionsFailed      int
	EstimatedProgress  uint8
	Notes              []string
}

// Stats is a point-in-time summary of tracker state, surfaced over the
// control API.
type Stats struct {
	Pending     int
	Executing   int
	Completed   int
	Failed      int
	HistorySize int
}

const (
	defaultMaxHistory = 1000
	defaultMaxRetries = 3
	defaultMaxNotes   = 50
	actionTimeout     = 5 * time.Minute
)

// Tracker is the in-memory ledger of proposed actions: what the
// deliberator has suggested, what's running, and what completed or
// failed, kept per-node and never replicated through Raft.
type Tracker struct {
	mu sync.RWMutex

	actions      map[string]*TrackedAction
	goalProgress map[string]*GoalProgress
	history      []TrackedAction

	maxHistory int
	maxRetries int
}

// New creates an empty Tracker with default retry and history limits.
func New() *Tracker {
	return &Tracker{
		actions:      make(map[string]*TrackedAction),
		goalProgress: make(map[string]*GoalProgress),
		maxHistory:   defaultMaxHistory,
		maxRetries:   defaultMaxRetries,
	}
}

// TrackAction registers a newly proposed action and returns its tracking ID.
func (t *Tracker) TrackAction(action types.Action) string {
	id := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions[id] = &TrackedAction{
		ID:         id,
		Action:     action,
		ProposedAt: time.Now(),
		Status:     ActionProposed,
	}
	return id
}

// MarkExecuting transitions a proposed action to executing.
func (t *Tracker) MarkExecuting(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.actions[id]; ok {
		a.Status = ActionExecuting
	}
}

// MarkCompleted moves an action out of the live table and into history
// as a success.
func (t *Tracker) MarkCompleted(id string, message string) {
	t.mu.Lock()
	a, ok := t.actions[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.actions, id)
	a.Status = ActionCompleted
	a.Result = &ActionResult{Success: true, Message: message, CompletedAt: time.Now()}
	completed := *a
	t.mu.Unlock()

	t.addToHistory(completed)
}

// MarkFailed records a failed attempt. If the action still has retries
// left it is reset to Proposed and kept live (returns true); once
// retries are exhausted it is moved to history as Failed (returns
// false).
func (t *Tracker) MarkFailed(id string, message string) bool {
	t.mu.Lock()
	a, ok := t.actions[id]
	if !ok {
		t.mu.Unlock()
		return false
	}

	a.RetryCount++
	if a.RetryCount < t.maxRetries {
		a.Status = ActionProposed
		t.mu.Unlock()
		return true
	}

	delete(t.actions, id)
	a.Status = ActionFailed
	a.Result = &ActionResult{Success: false, Message: message, CompletedAt: time.Now()}
	failed := *a
	t.mu.Unlock()

	t.addToHistory(failed)
	return false
}

func (t *Tracker) addToHistory(action TrackedAction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, action)
	if over := len(t.history) - t.maxHistory; over > 0 {
		t.history = t.history[over:]
	}
}

// PendingActions returns all actions still awaiting execution.
func (t *Tracker) PendingActions() []TrackedAction {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TrackedAction, 0, len(t.actions))
	for _, a := range t.actions {
		if a.Status == ActionProposed {
			out = append(out, *a)
		}
	}
	return out
}

// CleanupStale moves actions that have been executing longer than
// actionTimeout into history as timed-out failures.
func (t *Tracker) CleanupStale() {
	now := time.Now()

	t.mu.Lock()
	var stale []TrackedAction
	for id, a := range t.actions {
		if a.Status == ActionExecuting && now.Sub(a.ProposedAt) > actionTimeout {
			delete(t.actions, id)
			a.Status = ActionFailed
			a.Result = &ActionResult{Success: false, Message: "timeout", CompletedAt: now}
			stale = append(stale, *a)
		}
	}
	t.mu.Unlock()

	for _, a := range stale {
		t.addToHistory(a)
	}
}

// UpdateGoalProgress records the outcome of one more action proposed
// toward a goal, recomputing EstimatedProgress as completed/proposed.
func (t *Tracker) UpdateGoalProgress(goalID string, completed bool, note string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.goalProgress[goalID]
	if !ok {
		entry = &GoalProgress{GoalID: goalID}
		t.goalProgress[goalID] = entry
	}

	now := time.Now()
	entry.LastPlanned = now
	entry.ActionsProposed++
	if completed {
		entry.ActionsCompleted++
	} else {
		entry.ActionsFailed++
	}

	if note != "" {
		entry.Notes = append(entry.Notes, fmt.Sprintf("[%s] %s", now.Format("15:04:05"), note))
		if over := len(entry.Notes) - defaultMaxNotes; over > 0 {
			entry.Notes = entry.Notes[over:]
		}
	}

	total := entry.ActionsProposed
	if total < 1 {
		total = 1
	}
	entry.EstimatedProgress = uint8((float64(entry.ActionsCompleted) / float64(total)) * 100.0)
}

// GoalProgress returns the tracked progress for a goal, if any.
func (t *Tracker) GoalProgress(goalID string) (GoalProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.goalProgress[goalID]
	if !ok {
		return GoalProgress{}, false
	}
	return *entry, true
}

// RecentFailures returns up to limit of the most recently failed actions.
func (t *Tracker) RecentFailures(limit int) []TrackedAction {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TrackedAction, 0, limit)
	for i := len(t.history) - 1; i >= 0 && len(out) < limit; i-- {
		if t.history[i].Status == ActionFailed {
			out = append(out, t.history[i])
		}
	}
	return out
}

// RecentActions returns up to limit of the most recently finished actions.
func (t *Tracker) RecentActions(limit int) []TrackedAction {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TrackedAction, 0, limit)
	for i := len(t.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t.history[i])
	}
	return out
}

// HasSimilarPending reports whether an equivalent action is already
// live, used by the deliberator to avoid proposing duplicate work every
// planning tick.
func (t *Tracker) HasSimilarPending(action types.Action) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, a := range t.actions {
		if isSimilarAction(a.Action, action) {
			return true
		}
	}
	return false
}

// Stats summarizes the tracker's current load.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{HistorySize: len(t.history)}
	for _, a := range t.actions {
		switch a.Status {
		case ActionProposed:
			stats.Pending++
		case ActionExecuting:
			stats.Executing++
		}
	}
	for _, a := range t.history {
		switch a.Status {
		case ActionCompleted:
			stats.Completed++
		case ActionFailed:
			stats.Failed++
		}
	}
	return stats
}

func isSimilarAction(a, b types.Action) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case types.ActionScheduleTask:
		return a.TargetNode == b.TargetNode &&
			a.Task != nil && b.Task != nil && a.Task.Kind == b.Task.Kind
	case types.ActionRebalanceTask:
		return a.TaskID == b.TaskID
	case types.ActionCancelTask:
		return a.TaskID == b.TaskID
	case types.ActionMarkNodeDegraded:
		return a.NodeID == b.NodeID
	default:
		return false
	}
}
