package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Limits maps resource names to their configured capacities.
type Limits map[string]int64

// Usage describes one resource's reservation state.
type Usage struct {
	Used     int64 `json:"used"`
	Capacity int64 `json:"capacity"`
}

// Monitor arbitrates named resource reservations. Reservations are keyed by
// an owner, typically a task ID, so releasing an owner frees everything it
// holds exactly once. All methods are safe for concurrent use.
type Monitor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	caps   Limits
	used   map[string]int64
	owners map[string]map[string]int64
}

// NewMonitor constructs a monitor over the given capacities.
func NewMonitor(limits Limits) *Monitor {
	caps := make(Limits, len(limits))
	for name, capacity := range limits {
		caps[name] = capacity
	}
	m := &Monitor{
		caps:   caps,
		used:   make(map[string]int64, len(caps)),
		owners: make(map[string]map[string]int64),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Check reports whether the request could be reserved right now, together
// with the blocking reason when it cannot.
func (m *Monitor) Check(request map[string]int64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateLocked(request); err != nil {
		return false, err.Error()
	}
	if err := m.fitsLocked(request); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// Allocate reserves the request for owner immediately. It fails when the
// request names an unknown resource, can never fit, or does not fit right
// now. Repeated allocations for the same owner accumulate.
func (m *Monitor) Allocate(owner string, request map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateOwnerLocked(owner); err != nil {
		return err
	}
	if err := m.validateLocked(request); err != nil {
		return err
	}
	if err := m.fitsLocked(request); err != nil {
		return err
	}
	m.reserveLocked(owner, request)
	return nil
}

// Acquire blocks until the request can be reserved for owner or ctx ends.
// Requests that can never fit fail immediately rather than blocking forever.
func (m *Monitor) Acquire(ctx context.Context, owner string, request map[string]int64) error {
	if len(request) == 0 {
		return nil
	}

	cancelWait := make(chan struct{})
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				m.cond.Broadcast()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateOwnerLocked(owner); err != nil {
		return err
	}
	if err := m.validateLocked(request); err != nil {
		return err
	}
	for {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if m.fitsLocked(request) == nil {
			m.reserveLocked(owner, request)
			return nil
		}
		m.cond.Wait()
	}
}

// Release frees every reservation held by owner. Releasing an owner that
// holds nothing is a no-op, so a second release cannot underflow usage.
func (m *Monitor) Release(owner string) {
	m.mu.Lock()
	held, ok := m.owners[owner]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.owners, owner)
	for name, amount := range held {
		remaining := m.used[name] - amount
		if remaining < 0 {
			remaining = 0
		}
		m.used[name] = remaining
	}
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Usage returns a snapshot of every resource's reservation state.
func (m *Monitor) Usage() map[string]Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Usage, len(m.caps))
	for name, capacity := range m.caps {
		out[name] = Usage{Used: m.used[name], Capacity: capacity}
	}
	return out
}

// Capacities returns the configured limits.
func (m *Monitor) Capacities() Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(Limits, len(m.caps))
	for name, capacity := range m.caps {
		out[name] = capacity
	}
	return out
}

func (m *Monitor) validateOwnerLocked(owner string) error {
	if owner == "" {
		return fmt.Errorf("reservation owner must not be empty")
	}
	return nil
}

func (m *Monitor) validateLocked(request map[string]int64) error {
	for name, amount := range request {
		if amount <= 0 {
			return fmt.Errorf("resource %q: requested amount must be positive, got %d", name, amount)
		}
		capacity, known := m.caps[name]
		if !known {
			return fmt.Errorf("resource %q not configured (known: %v)", name, m.knownLocked())
		}
		if amount > capacity {
			return fmt.Errorf("resource %q: request %d exceeds total capacity %d", name, amount, capacity)
		}
	}
	return nil
}

func (m *Monitor) fitsLocked(request map[string]int64) error {
	for name, amount := range request {
		capacity, known := m.caps[name]
		if !known {
			return fmt.Errorf("resource %q not configured", name)
		}
		if m.used[name]+amount > capacity {
			return fmt.Errorf("resource %q exhausted: %d of %d in use", name, m.used[name], capacity)
		}
	}
	return nil
}

func (m *Monitor) reserveLocked(owner string, request map[string]int64) {
	held := m.owners[owner]
	if held == nil {
		held = make(map[string]int64, len(request))
		m.owners[owner] = held
	}
	for name, amount := range request {
		m.used[name] += amount
		held[name] += amount
	}
}

func (m *Monitor) knownLocked() []string {
	names := make([]string, 0, len(m.caps))
	for name := range m.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
