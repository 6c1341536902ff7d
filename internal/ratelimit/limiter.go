package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/nikoai/niko/internal/clock"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is the whole-second delay after which a rejected caller
	// will have capacity again. Zero when Allowed.
	RetryAfter time.Duration
	Limit      int
	Remaining  int
}

// RetryAfterSeconds returns RetryAfter as whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return int(d.RetryAfter / time.Second)
}

type windowKey struct {
	caller string
	class  Class
}

// Limiter is an in-memory sliding-window log keyed by (caller, class).
// All operations are serialized by one mutex, so concurrent requests from
// one caller are never over-admitted.
type Limiter struct {
	mu       sync.Mutex
	policies Policies
	clock    clock.Clock
	events   map[windowKey][]time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = clock.OrSystem(c) }
}

// New creates a Limiter enforcing policies. Unset policies take their
// default values.
func New(policies Policies, opts ...Option) *Limiter {
	l := &Limiter{
		policies: policies.WithDefaults(),
		clock:    clock.System{},
		events:   make(map[windowKey][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policies returns the policies in force.
func (l *Limiter) Policies() Policies {
	return l.policies
}

// Allow records a request from caller in class and reports whether it is
// admitted. Rejected requests are not recorded.
func (l *Limiter) Allow(caller string, class Class) Decision {
	policy := l.policies.For(class)
	key := windowKey{caller: caller, class: class}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	live := prune(l.events[key], now, policy.Window)

	if len(live) >= policy.MaxRequests {
		l.store(key, live)
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter(live, now, policy.Window),
			Limit:      policy.MaxRequests,
			Remaining:  0,
		}
	}

	live = append(live, now)
	l.store(key, live)
	return Decision{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests - len(live),
	}
}

// Remaining reports how many more requests caller may make in class right
// now. It records nothing.
func (l *Limiter) Remaining(caller string, class Class) int {
	policy := l.policies.For(class)
	key := windowKey{caller: caller, class: class}

	l.mu.Lock()
	defer l.mu.Unlock()

	live := prune(l.events[key], l.clock.Now(), policy.Window)
	l.store(key, live)
	return max(policy.MaxRequests-len(live), 0)
}

// ResetFilter selects the windows cleared by Reset. The zero value
// matches every window.
type ResetFilter struct {
	CallerKey string
	Class     *Class
}

func (f ResetFilter) matches(k windowKey) bool {
	if f.CallerKey != "" && f.CallerKey != k.caller {
		return false
	}
	if f.Class != nil && *f.Class != k.class {
		return false
	}
	return true
}

// Reset clears the windows matching f and returns how many were removed.
func (l *Limiter) Reset(f ResetFilter) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k := range l.events {
		if f.matches(k) {
			delete(l.events, k)
			n++
		}
	}
	return n
}

// Compact prunes every window and drops those left empty. It returns the
// number of windows removed.
func (l *Limiter) Compact() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	n := 0
	for k, ts := range l.events {
		live := prune(ts, now, l.policies.For(k.class).Window)
		if len(live) == 0 {
			delete(l.events, k)
			n++
			continue
		}
		l.events[k] = live
	}
	return n
}

// Len returns the number of tracked windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *Limiter) store(k windowKey, live []time.Time) {
	if len(live) == 0 {
		delete(l.events, k)
		return
	}
	l.events[k] = live
}

// prune keeps only events younger than window. It filters the whole slice
// rather than trimming a prefix so a clock that stepped backwards cannot
// strand stale entries.
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	live := ts[:0]
	for _, t := range ts {
		if now.Sub(t) < window {
			live = append(live, t)
		}
	}
	return live
}

func retryAfter(live []time.Time, now time.Time, window time.Duration) time.Duration {
	oldest := live[0]
	for _, t := range live[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}
	secs := int64(math.Floor((window - now.Sub(oldest)).Seconds())) + 1
	upper := int64(window/time.Second) + 1
	switch {
	case secs < 1:
		secs = 1
	case secs > upper:
		secs = upper
	}
	return time.Duration(secs) * time.Second
}
