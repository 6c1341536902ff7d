package sweep

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakePurger struct {
	mu    sync.Mutex
	calls int
	names []string
	err   error
}

func (f *fakePurger) PurgeExpired(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.names, f.err
}

func (f *fakePurger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCompactor struct {
	mu    sync.Mutex
	calls int
	n     int
}

func (f *fakeCompactor) Compact() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.n
}

func TestRunOnce(t *testing.T) {
	p := &fakePurger{names: []string{"alice", "bob"}}
	c := &fakeCompactor{n: 3}
	s := New(p, c, time.Minute, nil)

	res := s.RunOnce(context.Background())
	if len(res.Purged) != 2 || res.Compacted != 3 {
		t.Errorf("RunOnce = %+v", res)
	}
	if p.count() != 1 || c.calls != 1 {
		t.Errorf("calls: purger=%d compactor=%d", p.count(), c.calls)
	}
}

func TestRunOncePurgeErrorStillCompacts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := &fakePurger{err: errors.New("database is locked")}
	c := &fakeCompactor{}

	New(p, c, time.Minute, logger).RunOnce(context.Background())

	if c.calls != 1 {
		t.Errorf("compactor calls = %d, want 1", c.calls)
	}
	if !strings.Contains(buf.String(), "database is locked") {
		t.Errorf("purge error not logged: %s", buf.String())
	}
}

func TestNilCollaborators(t *testing.T) {
	res := New(nil, nil, 0, nil).RunOnce(context.Background())
	if res.Purged != nil || res.Compacted != 0 {
		t.Errorf("RunOnce = %+v", res)
	}
}

func TestDefaultInterval(t *testing.T) {
	if got := New(nil, nil, 0, nil).Interval(); got != DefaultInterval {
		t.Errorf("Interval = %v, want %v", got, DefaultInterval)
	}
	if got := New(nil, nil, -time.Second, nil).Interval(); got != DefaultInterval {
		t.Errorf("Interval = %v, want %v", got, DefaultInterval)
	}
}

func TestStartSweepsImmediatelyAndShutdownWaits(t *testing.T) {
	p := &fakePurger{}
	s := New(p, &fakeCompactor{}, time.Hour, nil)

	s.Start()
	s.Shutdown()

	if p.count() < 1 {
		t.Errorf("purger calls = %d, want at least 1", p.count())
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	New(nil, nil, time.Minute, nil).Shutdown()
}
