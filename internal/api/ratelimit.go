package api

import (
	"sync"
	"time"
)

const pruneThreshold = 4096

// pollLimiter enforces a minimum interval between status polls per task.
// A violation costs the caller a 429 plus a Retry-After hint; the task record
// itself is never touched.
type pollLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastPoll    map[string]time.Time
	now         func() time.Time
}

func newPollLimiter(minInterval time.Duration) *pollLimiter {
	return &pollLimiter{
		minInterval: minInterval,
		lastPoll:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// Allow records a poll attempt. When the task was polled too recently it
// returns false and the remaining wait.
func (l *pollLimiter) Allow(taskID string) (bool, time.Duration) {
	if l.minInterval <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, seen := l.lastPoll[taskID]; seen {
		if wait := l.minInterval - now.Sub(last); wait > 0 {
			return false, wait
		}
	}

	if len(l.lastPoll) >= pruneThreshold {
		l.prune(now)
	}
	l.lastPoll[taskID] = now
	return true, 0
}

// prune drops entries old enough that they can no longer rate-limit anything.
// Caller holds the mutex.
func (l *pollLimiter) prune(now time.Time) {
	for id, last := range l.lastPoll {
		if now.Sub(last) > l.minInterval {
			delete(l.lastPoll, id)
		}
	}
}
