// Package ratelimit implements the per-identity post limiter: a sliding
// window of accepted post times plus a punitive cooldown once the window is
// exceeded.
//
// Each identity is either Open or Throttled(until). While throttled, attempts
// are rejected and not recorded. The cooldown is cleared only by elapsed time;
// there is no reset call.
//
// The limiter is process-local. A multi-instance deployment needs a shared
// store instead.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed bool
	// RetryAt is when the identity may post again. Zero when Allowed.
	RetryAt time.Time
	// Remaining is RetryAt minus the attempt time. Zero when Allowed.
	Remaining time.Duration
}

type state struct {
	stamps   []time.Time
	until    time.Time // zero when Open
	lastSeen time.Time
}

// Limiter tracks post attempts per identity. It is safe for concurrent use;
// every decision for a key is made under one lock.
type Limiter struct {
	max      int
	window   time.Duration
	cooldown time.Duration

	mu     sync.Mutex
	states map[string]*state

	idleTTL  time.Duration
	cleanupN uint64
}

// New returns a Limiter allowing max posts per window and freezing an
// identity for cooldown once that is exceeded. max below 1 is coerced to 1.
func New(max int, window, cooldown time.Duration) *Limiter {
	if max < 1 {
		max = 1
	}
	idle := window
	if cooldown > idle {
		idle = cooldown
	}
	return &Limiter{
		max:      max,
		window:   window,
		cooldown: cooldown,
		states:   make(map[string]*state),
		idleTTL:  idle,
	}
}

// Allow evaluates a post attempt by key at time now and records it when
// accepted.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.gc(now)

	st, ok := l.states[key]
	if !ok {
		st = &state{}
		l.states[key] = st
	}
	st.lastSeen = now

	if !st.until.IsZero() {
		if now.Before(st.until) {
			return Decision{RetryAt: st.until, Remaining: st.until.Sub(now)}
		}
		// Cooldown over: start a fresh window.
		st.until = time.Time{}
		st.stamps = st.stamps[:0]
	}

	st.stamps = dropBefore(st.stamps, now.Add(-l.window))

	if len(st.stamps) >= l.max {
		st.until = now.Add(l.cooldown)
		return Decision{RetryAt: st.until, Remaining: l.cooldown}
	}

	st.stamps = append(st.stamps, now)
	return Decision{Allowed: true}
}

// Throttled reports whether key is inside a cooldown at now, without
// recording an attempt.
func (l *Limiter) Throttled(key string, now time.Time) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[key]
	if !ok || st.until.IsZero() || !now.Before(st.until) {
		return time.Time{}, false
	}
	return st.until, true
}

// Forget drops all state for key. Used when the account itself is deleted.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.states, key)
	l.mu.Unlock()
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

// gc evicts idle entries every 1000 calls. Caller holds l.mu.
func (l *Limiter) gc(now time.Time) {
	l.cleanupN++
	if l.cleanupN < 1000 {
		return
	}
	l.cleanupN = 0
	for k, st := range l.states {
		if now.Sub(st.lastSeen) >= l.idleTTL && (st.until.IsZero() || !now.Before(st.until)) {
			delete(l.states, k)
		}
	}
}

// dropBefore removes stamps at or before cutoff. Stamps are ascending.
func dropBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}
