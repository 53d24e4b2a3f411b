package blade

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitPolicy configures per-session inbound request rate limiting.
// A zero RequestsPerSecond disables limiting.
type RateLimitPolicy struct {
	RequestsPerSecond float64
	Burst             int
}

// sessionRateLimiters hands out one rate.Limiter per session, lazily
// created on first use and discarded on session teardown.
type sessionRateLimiters struct {
	mu       sync.Mutex
	policy   RateLimitPolicy
	limiters map[SessionId]*rate.Limiter
}

func newSessionRateLimiters(policy RateLimitPolicy) *sessionRateLimiters {
	return &sessionRateLimiters{policy: policy, limiters: make(map[SessionId]*rate.Limiter)}
}

// Allow reports whether a request arriving on session should be admitted.
// Always true when the policy disables limiting.
func (s *sessionRateLimiters) Allow(session SessionId) bool {
	if s.policy.RequestsPerSecond <= 0 {
		return true
	}
	s.mu.Lock()
	lim, ok := s.limiters[session]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.policy.RequestsPerSecond), s.policy.Burst)
		s.limiters[session] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

// Forget discards the limiter for session, called on teardown.
func (s *sessionRateLimiters) Forget(session SessionId) {
	s.mu.Lock()
	delete(s.limiters, session)
	s.mu.Unlock()
}
