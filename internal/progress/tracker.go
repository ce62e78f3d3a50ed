package progress

import (
	"context"
	"sync"
	"time"

	"docket/internal/events"
)

// Update is the latest reported progress for one task.
type Update struct {
	TaskID    string    `json:"task_id"`
	Stage     string    `json:"stage,omitempty"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker stores per-task progress. Safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	bus   events.Bus
	tasks map[string]Update
}

// NewTracker constructs a tracker publishing to bus. A nil bus disables
// publishing.
func NewTracker(bus events.Bus) *Tracker {
	if bus == nil {
		bus = events.NewNopBus()
	}
	return &Tracker{
		bus:   bus,
		tasks: make(map[string]Update),
	}
}

// Update records the latest progress for taskID. Percent is clamped to
// [0, 100]; the newest write wins regardless of percent ordering, so
// processors that legitimately regress (re-scans, retries) stay accurate.
func (t *Tracker) Update(ctx context.Context, taskID, stage string, percent float64, message string) {
	if taskID == "" {
		return
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	update := Update{
		TaskID:    taskID,
		Stage:     stage,
		Percent:   percent,
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	}

	t.mu.Lock()
	t.tasks[taskID] = update
	t.mu.Unlock()

	_ = t.bus.Publish(ctx, events.TopicTaskProgress, events.Payload{
		events.KeyTaskID:  taskID,
		events.KeyStage:   stage,
		events.KeyPercent: percent,
		events.KeyMessage: message,
	})
}

// Snapshot returns the latest progress for taskID. Repeated calls without an
// intervening Update return identical values.
func (t *Tracker) Snapshot(taskID string) (Update, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	update, ok := t.tasks[taskID]
	return update, ok
}

// All returns a copy of every tracked task's latest progress.
func (t *Tracker) All() map[string]Update {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Update, len(t.tasks))
	for id, update := range t.tasks {
		out[id] = update
	}
	return out
}

// Forget removes a finished task from the tracker.
func (t *Tracker) Forget(taskID string) {
	t.mu.Lock()
	delete(t.tasks, taskID)
	t.mu.Unlock()
}
