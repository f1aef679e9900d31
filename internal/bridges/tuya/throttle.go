package tuya

import (
	"sync"
	"time"
)

// LogThrottleInterval is the minimum gap between two identical throttled
// log lines.
const LogThrottleInterval = 500 * time.Millisecond

// logThrottle rate-limits repeated diagnostic messages per unique text.
type logThrottle struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
}

func newLogThrottle(interval time.Duration) *logThrottle {
	return &logThrottle{
		last:     make(map[string]time.Time),
		interval: interval,
	}
}

// allow reports whether msg may be logged at now, and records it if so.
func (t *logThrottle) allow(msg string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.last[msg]; ok && now.Sub(prev) < t.interval {
		return false
	}
	t.last[msg] = now
	return true
}
