// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorTTL = 10 * time.Minute

type RateDecision struct {
	Allowed           bool
	LimitPerMinute    int
	Remaining         int
	RetryAfterSeconds int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AgentLimiter gives every agent its own token bucket refilled at
// perMinute/60 tokens per second with a burst of perMinute.
type AgentLimiter struct {
	perMinute int

	mu          sync.Mutex
	visitors    map[string]*visitor
	lastCleanup time.Time
}

// NewAgentLimiter returns nil when perMinute is not positive.
func NewAgentLimiter(perMinute int) *AgentLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &AgentLimiter{
		perMinute: perMinute,
		visitors:  make(map[string]*visitor, 32),
	}
}

func (l *AgentLimiter) Allow(agentID string, now time.Time) RateDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanup(now)

	v, ok := l.visitors[agentID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)}
		l.visitors[agentID] = v
	}
	v.lastSeen = now

	decision := RateDecision{LimitPerMinute: l.perMinute}

	res := v.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		decision.RetryAfterSeconds = int(math.Ceil(delay.Seconds()))
		return decision
	}

	decision.Allowed = true
	decision.Remaining = int(math.Floor(v.limiter.TokensAt(now)))
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	return decision
}

// cleanup drops idle agents at most once per TTL. Caller holds l.mu.
func (l *AgentLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < visitorTTL {
		return
	}
	l.lastCleanup = now
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, id)
		}
	}
}
