package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeIdleEnder struct {
	mu      sync.Mutex
	cutoffs []time.Time
	ended   int
	err     error
}

func (f *fakeIdleEnder) EndIdle(_ context.Context, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return f.ended, f.err
}

func (f *fakeIdleEnder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestJanitorSweepUsesWindowCutoff(t *testing.T) {
	store := &fakeIdleEnder{ended: 2}
	j := NewJanitor(store, 30*time.Minute, nil)
	j.now = func() time.Time { return now }

	var hooked int
	j.SetExpireHook(func(n int) { hooked = n })

	if got := j.Sweep(context.Background()); got != 2 {
		t.Fatalf("Sweep() = %d, want 2", got)
	}
	if want := now.Add(-30 * time.Minute); !store.cutoffs[0].Equal(want) {
		t.Fatalf("cutoff = %v, want %v", store.cutoffs[0], want)
	}
	if hooked != 2 {
		t.Fatalf("expire hook got %d, want 2", hooked)
	}
}

func TestJanitorSweepSwallowsErrors(t *testing.T) {
	store := &fakeIdleEnder{err: errors.New("db down")}
	j := NewJanitor(store, time.Minute, nil)
	if got := j.Sweep(context.Background()); got != 0 {
		t.Fatalf("Sweep() = %d, want 0", got)
	}
}

func TestJanitorStartRunsUntilCanceled(t *testing.T) {
	store := &fakeIdleEnder{}
	j := NewJanitor(store, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	cancel()

	if store.calls() == 0 {
		t.Fatalf("janitor did not sweep")
	}
}
