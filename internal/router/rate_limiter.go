package router

import (
	"sync"
	"time"
)

// DefaultCommandsPerMinute is the per-user command budget
const DefaultCommandsPerMinute = 100

// RateLimiter implements per-user rate limiting
// ARCHITECTURAL DISCOVERY: Per-user state tracking with periodic cleanup prevents
// memory growth as tabs come and go
type RateLimiter struct {
	mu      sync.RWMutex
	limit   int
	clients map[string]*ClientLimit
	now     func() time.Time
}

// ClientLimit tracks rate limiting for a single user
// FUNCTIONAL DISCOVERY: Fixed one-minute window; a user's tabs share one budget
type ClientLimit struct {
	commandCount int
	windowStart  time.Time
}

// NewRateLimiter creates a limiter allowing perMinute commands per user;
// perMinute <= 0 selects DefaultCommandsPerMinute
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultCommandsPerMinute
	}
	return &RateLimiter{
		limit:   perMinute,
		clients: make(map[string]*ClientLimit),
		now:     time.Now,
	}
}

// Allow reports whether userID may issue another command in the current window
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[userID]
	if !exists {
		rl.clients[userID] = &ClientLimit{
			commandCount: 1,
			windowStart:  now,
		}
		return true
	}

	if now.Sub(limit.windowStart) >= time.Minute {
		limit.commandCount = 1
		limit.windowStart = now
		return true
	}

	if limit.commandCount >= rl.limit {
		return false
	}

	limit.commandCount++
	return true
}

// Cleanup removes users idle for more than five windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.clients, userID)
		}
	}
}

// Tracked returns the number of users with live windows
func (rl *RateLimiter) Tracked() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}
