package slackbot

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter caps how many polls a user, a channel and the whole workspace can create per minute.
// A nil scope is unlimited.
type RateLimiter struct {
	user    *scopedLimiter
	channel *scopedLimiter
	global  *rate.Limiter
}

type scopedLimiter struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rate  rate.Limit
	burst int
}

func newScopedLimiter(perMinute int) *scopedLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &scopedLimiter{
		m:     make(map[string]*rate.Limiter),
		rate:  rate.Limit(float64(perMinute) / 60.0),
		burst: perMinute,
	}
}

func (s *scopedLimiter) allow(key string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.m[key]
	if !ok {
		lim = rate.NewLimiter(s.rate, s.burst)
		s.m[key] = lim
	}
	return lim.Allow()
}

// NewRateLimiter constructs a composite limiter with per-user/channel/global budgets.
// Budgets <= 0 disable that scope.
func NewRateLimiter(userPerMinute, channelPerMinute, globalPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		user:    newScopedLimiter(userPerMinute),
		channel: newScopedLimiter(channelPerMinute),
	}
	if globalPerMinute > 0 {
		rl.global = rate.NewLimiter(rate.Limit(float64(globalPerMinute)/60.0), globalPerMinute)
	}
	return rl
}

// Allow consumes one token from every enabled scope
func (r *RateLimiter) Allow(userID, channelID string) bool {
	if r == nil {
		return true
	}
	if r.global != nil && !r.global.Allow() {
		return false
	}
	if !r.user.allow(userID) {
		return false
	}
	if !r.channel.allow(channelID) {
		return false
	}
	return true
}
