package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerTransitionAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	manager := NewManager(store, 10*time.Minute).WithNowFunc(func() time.Time { return now })

	sess, err := manager.Current(ctx, 1)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if sess.Step != StepNone {
		t.Fatalf("expected StepNone for unknown participant got %s", sess.Step)
	}

	if err := manager.Transition(ctx, 1, StepAwaitingTitle, "file-1"); err != nil {
		t.Fatalf("transition: %v", err)
	}

	sess, err = manager.Current(ctx, 1)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if sess.Step != StepAwaitingTitle || sess.PendingVideoRef != "file-1" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if !sess.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", sess.ExpiresAt)
	}

	if err := manager.Clear(ctx, 1); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store after clear, got %d", store.Len())
	}

	if err := manager.Transition(ctx, 2, StepAwaitingVideo, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := manager.Transition(ctx, 2, StepNone, ""); err != nil {
		t.Fatalf("transition to none: %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("expected StepNone transition to delete the session")
	}
}

func TestManagerExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store.WithNowFunc(clock)
	manager := NewManager(store, time.Minute).WithNowFunc(clock)

	if err := manager.Transition(ctx, 5, StepAwaitingVideo, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}

	now = now.Add(2 * time.Minute)

	sess, err := manager.Current(ctx, 5)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if sess.Step != StepNone {
		t.Fatalf("expected expired session to read as StepNone, got %s", sess.Step)
	}
	if store.Len() != 0 {
		t.Fatal("expected expired session to be evicted on read")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	store.WithNowFunc(func() time.Time { return now })

	_ = store.Set(ctx, Session{ParticipantID: 1, Step: StepAwaitingVideo, ExpiresAt: now.Add(-time.Second)})
	_ = store.Set(ctx, Session{ParticipantID: 2, Step: StepAwaitingVideo, ExpiresAt: now.Add(time.Hour)})

	removed, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 || store.Len() != 1 {
		t.Fatalf("expected one expired session removed, removed=%d len=%d", removed, store.Len())
	}
	if _, err := store.Get(ctx, 1); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for swept session got %v", err)
	}
}

func TestLockerSerializesPerParticipant(t *testing.T) {
	locker := NewLocker()

	var (
		active  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock(99)
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder at a time, saw %d", maxSeen)
	}
	if locker.size() != 0 {
		t.Fatalf("expected locks to be released, %d remain", locker.size())
	}
}

func TestLockerIndependentParticipants(t *testing.T) {
	locker := NewLocker()
	unlockA := locker.Lock(1)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locker.Lock(2)
		unlock()
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for another participant should not block")
	}
}
