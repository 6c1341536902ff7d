package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikoai/niko/internal/clock"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(p Policies) (*Limiter, *clock.Fixed) {
	c := clock.NewFixed(epoch)
	return New(p, WithClock(c)), c
}

func TestAllowRejectsOverQuota(t *testing.T) {
	p := DefaultPolicies()
	p.Registration = Policy{MaxRequests: 3, Window: 60 * time.Second}
	l, c := newTestLimiter(p)

	for i := 0; i < 3; i++ {
		d := l.Allow("1.2.3.4", ClassRegistration)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
		c.Advance(time.Second)
	}

	d := l.Allow("1.2.3.4", ClassRegistration)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 58, d.RetryAfterSeconds())
	assert.GreaterOrEqual(t, d.RetryAfterSeconds(), 57)
	assert.LessOrEqual(t, d.RetryAfterSeconds(), 61)
}

func TestAllowWindowSlides(t *testing.T) {
	p := DefaultPolicies()
	p.Registration = Policy{MaxRequests: 3, Window: 60 * time.Second}
	l, c := newTestLimiter(p)

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("1.2.3.4", ClassRegistration).Allowed)
		c.Advance(time.Second)
	}
	require.False(t, l.Allow("1.2.3.4", ClassRegistration).Allowed)

	// The first event (t=0) leaves the window at exactly t=60.
	c.Set(epoch.Add(60 * time.Second))
	d := l.Allow("1.2.3.4", ClassRegistration)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d = l.Allow("1.2.3.4", ClassRegistration)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2, d.RetryAfterSeconds())
}

func TestRejectedRequestsAreNotRecorded(t *testing.T) {
	p := DefaultPolicies()
	p.Authentication = Policy{MaxRequests: 1, Window: 10 * time.Second}
	l, c := newTestLimiter(p)

	require.True(t, l.Allow("a", ClassAuthentication).Allowed)
	for i := 0; i < 5; i++ {
		c.Advance(time.Second)
		require.False(t, l.Allow("a", ClassAuthentication).Allowed)
	}
	c.Set(epoch.Add(10 * time.Second))
	assert.True(t, l.Allow("a", ClassAuthentication).Allowed)
}

func TestAllowIndependentKeys(t *testing.T) {
	p := DefaultPolicies()
	p.General = Policy{MaxRequests: 1, Window: time.Minute}
	p.ChatCompletion = Policy{MaxRequests: 1, Window: time.Minute}
	l, _ := newTestLimiter(p)

	require.True(t, l.Allow("a", ClassGeneral).Allowed)
	require.False(t, l.Allow("a", ClassGeneral).Allowed)

	assert.True(t, l.Allow("b", ClassGeneral).Allowed, "other caller unaffected")
	assert.True(t, l.Allow("a", ClassChatCompletion).Allowed, "other class unaffected")
}

func TestUnknownClassUsesFallback(t *testing.T) {
	p := DefaultPolicies()
	p.Fallback = Policy{MaxRequests: 2, Window: time.Minute}
	l, _ := newTestLimiter(p)

	odd := Class(42)
	assert.Equal(t, p.Fallback, l.Policies().For(odd))
	assert.True(t, l.Allow("a", odd).Allowed)
	assert.True(t, l.Allow("a", odd).Allowed)
	d := l.Allow("a", odd)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2, d.Limit)
}

func TestRemaining(t *testing.T) {
	p := DefaultPolicies()
	p.General = Policy{MaxRequests: 2, Window: time.Minute}
	l, c := newTestLimiter(p)

	assert.Equal(t, 2, l.Remaining("a", ClassGeneral))
	l.Allow("a", ClassGeneral)
	l.Allow("a", ClassGeneral)
	l.Allow("a", ClassGeneral)
	assert.Equal(t, 0, l.Remaining("a", ClassGeneral))

	c.Advance(time.Minute)
	assert.Equal(t, 2, l.Remaining("a", ClassGeneral))
}

func TestRetryAfterBounds(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		window  time.Duration
		want    int
	}{
		{"fresh", 0, 60 * time.Second, 61},
		{"fractional", 1500 * time.Millisecond, 60 * time.Second, 59},
		{"almost expired", 59*time.Second + 900*time.Millisecond, 60 * time.Second, 1},
		{"future event", -10 * time.Second, 60 * time.Second, 61},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retryAfter([]time.Time{epoch}, epoch.Add(tt.elapsed), tt.window)
			assert.Equal(t, tt.want, int(got/time.Second))
		})
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(DefaultPolicies())
	l.Allow("a", ClassGeneral)
	l.Allow("a", ClassAuthentication)
	l.Allow("b", ClassGeneral)
	require.Equal(t, 3, l.Len())

	auth := ClassAuthentication
	assert.Equal(t, 1, l.Reset(ResetFilter{CallerKey: "a", Class: &auth}))
	assert.Equal(t, 2, l.Len())

	general := ClassGeneral
	assert.Equal(t, 2, l.Reset(ResetFilter{Class: &general}))
	assert.Equal(t, 0, l.Len())

	l.Allow("a", ClassGeneral)
	l.Allow("b", ClassGeneral)
	assert.Equal(t, 1, l.Reset(ResetFilter{CallerKey: "b"}))
	assert.Equal(t, 1, l.Reset(ResetFilter{}))
	assert.Equal(t, 0, l.Len())
}

func TestCompact(t *testing.T) {
	p := DefaultPolicies()
	p.General = Policy{MaxRequests: 5, Window: time.Minute}
	p.Registration = Policy{MaxRequests: 5, Window: time.Hour}
	l, c := newTestLimiter(p)

	l.Allow("a", ClassGeneral)
	l.Allow("a", ClassRegistration)
	c.Advance(2 * time.Minute)

	assert.Equal(t, 1, l.Compact())
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 4, l.Remaining("a", ClassRegistration))
}

func TestAllowConcurrentNeverOverAdmits(t *testing.T) {
	p := DefaultPolicies()
	p.ChatCompletion = Policy{MaxRequests: 50, Window: time.Minute}
	l, _ := newTestLimiter(p)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("same", ClassChatCompletion).Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
}

func TestClassStringAndParse(t *testing.T) {
	for _, c := range Classes {
		got, err := ParseClass(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseClass("nope")
	assert.Error(t, err)
	assert.Equal(t, "chat-completion", ClassChatCompletion.String())
}

func TestPoliciesValidateAndDefaults(t *testing.T) {
	assert.NoError(t, DefaultPolicies().Validate())
	assert.Error(t, Policies{}.Validate())

	filled := Policies{General: Policy{MaxRequests: 7}}.WithDefaults()
	assert.Equal(t, 7, filled.General.MaxRequests)
	assert.Equal(t, 60*time.Second, filled.General.Window)
	assert.Equal(t, DefaultPolicies().Registration, filled.Registration)
	assert.NoError(t, filled.Validate())
}
