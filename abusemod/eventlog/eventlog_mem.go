package eventlog

import (
	"context"
	"sync"

	"github.com/magickw/linkdao-guard/abusemod/event"
)

// In-process event log for tests and single-instance use.
type MemEventLog struct {
	mu     sync.Mutex
	events []event.AbuseEvent
	cap    int
}

var _ EventLog = (*MemEventLog)(nil)

func NewMemEventLog(cap int) *MemEventLog {
	return &MemEventLog{cap: cap}
}

func (l *MemEventLog) Append(ctx context.Context, ev event.AbuseEvent) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// newest first, trimmed to cap, mirroring the redis LPUSH+LTRIM shape
	l.events = append([]event.AbuseEvent{ev}, l.events...)
	if len(l.events) > l.cap {
		l.events = l.events[:l.cap]
	}
	return ev.ID, nil
}

func (l *MemEventLog) Stats(ctx context.Context, topN, recentM int) (*Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := make([]event.AbuseEvent, len(l.events))
	copy(events, l.events)
	return computeStats(events, topN, recentM), nil
}

func (l *MemEventLog) Resolve(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.events {
		if l.events[i].ID != id {
			continue
		}
		if l.events[i].Resolved {
			return false, nil
		}
		l.events[i].Resolved = true
		return true, nil
	}
	return false, nil
}
