package throttle

import (
	"context"
	"sync"
	"time"
)

type userCounters struct {
	mu       sync.Mutex
	snapshot Snapshot
}

// MemoryTracker process-local tracker. Each user has its own lock, so users never contend.
type MemoryTracker struct {
	users sync.Map // user id -> *userCounters
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{}
}

func (m *MemoryTracker) counters(userID string) *userCounters {
	if c, ok := m.users.Load(userID); ok {
		return c.(*userCounters)
	}
	c, _ := m.users.LoadOrStore(userID, &userCounters{})
	return c.(*userCounters)
}

func (m *MemoryTracker) Snapshot(ctx context.Context, userID string, now time.Time) (Snapshot, error) {
	c := m.counters(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = rollover(c.snapshot, now)
	return c.snapshot, nil
}

func (m *MemoryTracker) TryReserve(ctx context.Context, userID string, limits Limits, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c := m.counters(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = rollover(c.snapshot, now)
	if c.snapshot.Exceeds(limits) {
		return false, nil
	}
	c.snapshot.HourCount++
	c.snapshot.DayCount++
	return true, nil
}
