package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxIdleCallers is the bucket count above which idle buckets are dropped.
const maxIdleCallers = 10000

// RateLimiter enforces per-caller and global request rate limits with token
// buckets. A non-positive rate disables that limit.
type RateLimiter struct {
	mu        sync.Mutex
	global    *rate.Limiter
	callers   map[string]*rate.Limiter
	perCaller rate.Limit
	burst     int
}

// NewRateLimiter creates a limiter from requests-per-minute settings.
func NewRateLimiter(globalRPM, perCallerRPM int) *RateLimiter {
	return &RateLimiter{
		global:    rate.NewLimiter(perMinute(globalRPM), burst(globalRPM)),
		callers:   make(map[string]*rate.Limiter),
		perCaller: perMinute(perCallerRPM),
		burst:     burst(perCallerRPM),
	}
}

func perMinute(rpm int) rate.Limit {
	if rpm <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(rpm) / 60.0)
}

func burst(rpm int) int {
	if rpm < 1 {
		return 1
	}
	return rpm
}

// Allow reports whether a request from caller is within both limits.
func (rl *RateLimiter) Allow(caller string) bool {
	if !rl.global.Allow() {
		return false
	}
	rl.mu.Lock()
	limiter, ok := rl.callers[caller]
	if !ok {
		if len(rl.callers) >= maxIdleCallers {
			rl.pruneIdle()
		}
		limiter = rl.newBucket()
		rl.callers[caller] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

func (rl *RateLimiter) newBucket() *rate.Limiter {
	return rate.NewLimiter(rl.perCaller, rl.burst)
}

// pruneIdle drops buckets that have refilled completely. Such a caller
// gets an identical fresh bucket on its next request. rl.mu must be held.
func (rl *RateLimiter) pruneIdle() {
	for caller, l := range rl.callers {
		if l.Tokens() >= float64(rl.burst) {
			delete(rl.callers, caller)
		}
	}
}

// Callers returns the number of tracked caller buckets.
func (rl *RateLimiter) Callers() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.callers)
}
