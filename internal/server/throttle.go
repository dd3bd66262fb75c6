package server

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// ParseRateLimit parses a limit such as "30/minute" into a rate and burst.
// Empty input disables throttling and returns (0, 0, nil).
//
// Supported units: second, minute, hour.
func ParseRateLimit(s string) (rate.Limit, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, nil
	}

	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate limit format %q: expected 'N/duration'", s)
	}

	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || count <= 0 {
		return 0, 0, fmt.Errorf("invalid rate limit count %q: must be positive integer", parts[0])
	}

	var perSecond float64
	switch unit := strings.ToLower(strings.TrimSpace(parts[1])); unit {
	case "second", "sec", "s":
		perSecond = float64(count)
	case "minute", "min", "m":
		perSecond = float64(count) / 60.0
	case "hour", "hr", "h":
		perSecond = float64(count) / 3600.0
	default:
		return 0, 0, fmt.Errorf("invalid rate limit duration %q: must be 'second', 'minute', or 'hour'", unit)
	}

	return rate.Limit(perSecond), count, nil
}

// Throttle limits plan submissions per project. The zero limit disables it.
type Throttle struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottle creates a Throttle. A limit of 0 allows everything.
func NewThrottle(limit rate.Limit, burst int) *Throttle {
	return &Throttle{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token from the project's bucket.
func (t *Throttle) Allow(projectID string) bool {
	if t == nil || t.limit == 0 {
		return true
	}
	t.mu.Lock()
	l, ok := t.limiters[projectID]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[projectID] = l
	}
	t.mu.Unlock()
	return l.Allow()
}
