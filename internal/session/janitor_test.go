package session_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"rmcloud/internal/logging"
	"rmcloud/internal/session"
	"rmcloud/internal/testutil"
)

func TestJanitorInterval(t *testing.T) {
	store := session.NewStore()
	cases := []struct {
		maxIdle time.Duration
		want    time.Duration
	}{
		{24 * time.Hour, time.Minute},
		{30 * time.Second, 30 * time.Second},
		{0, time.Minute},
	}
	for _, tc := range cases {
		j := session.NewJanitor(store, tc.maxIdle, logging.NewNop())
		if got := j.Interval(); got != tc.want {
			t.Errorf("Interval(%s) = %s, want %s", tc.maxIdle, got, tc.want)
		}
	}
}

func TestJanitorSweepOnceUsesStoreClock(t *testing.T) {
	clock := testutil.FixedClock()
	store := session.NewStore(session.WithClock(clock))
	store.Create()
	store.Create()

	var observed atomic.Int32
	j := session.NewJanitor(store, time.Minute, logging.NewNop())
	j.OnSweep = func(removed, remaining int) { observed.Store(int32(removed*10 + remaining)) }

	if removed := j.SweepOnce(); removed != 0 {
		t.Fatalf("nothing should expire yet, removed %d", removed)
	}
	clock.Advance(time.Minute)
	if removed := j.SweepOnce(); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if observed.Load() != 20 {
		t.Fatalf("OnSweep observed %d, want removed=2 remaining=0", observed.Load())
	}
}

func TestJanitorRunEvictsAndStops(t *testing.T) {
	store := session.NewStore()
	store.Create()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		session.NewJanitor(store, 20*time.Millisecond, logging.NewNop()).Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor did not evict idle session")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
