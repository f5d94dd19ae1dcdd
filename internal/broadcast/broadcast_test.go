package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSequentialContinuesPastFailures(t *testing.T) {
	var order []int64
	res := Sequential(context.Background(), []int64{3, 1, 2}, func(_ context.Context, id int64) error {
		order = append(order, id)
		if id == 1 {
			return errors.New("blocked")
		}
		return nil
	})

	if len(order) != 3 || order[0] != 3 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("expected input order, got %v", order)
	}
	if res.DeliveredCount() != 2 || res.FailedCount() != 1 || res.Failed[0].ChatID != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSequentialStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	res := Sequential(ctx, []int64{1, 2, 3}, func(_ context.Context, id int64) error {
		if id == 1 {
			cancel()
		}
		return nil
	})
	if res.DeliveredCount() != 1 || res.FailedCount() != 2 {
		t.Fatalf("unexpected result after cancel %+v", res)
	}
	if !errors.Is(res.Failed[0].Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.Failed[0].Err)
	}
}

func TestFanoutRespectsLimit(t *testing.T) {
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	ids := make([]int64, 20)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	res := Fanout(context.Background(), ids, 3, func(_ context.Context, id int64) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		if id%5 == 0 {
			return errors.New("unreachable chat")
		}
		return nil
	})

	if peak.Load() > 3 {
		t.Fatalf("expected at most 3 concurrent sends, saw %d", peak.Load())
	}
	if res.DeliveredCount() != 16 || res.FailedCount() != 4 {
		t.Fatalf("unexpected tallies %d/%d", res.DeliveredCount(), res.FailedCount())
	}
	for i := 1; i < len(res.Delivered); i++ {
		if res.Delivered[i-1] > res.Delivered[i] {
			t.Fatalf("expected delivered ids sorted, got %v", res.Delivered)
		}
	}
	if res.Failed[0].ChatID != 5 || res.Failed[3].ChatID != 20 {
		t.Fatalf("unexpected failures %+v", res.Failed)
	}
}

func TestFanoutDeliversEveryChatOnce(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[int64]int{}
	)
	Fanout(context.Background(), []int64{1, 2, 3, 4}, 0, func(_ context.Context, id int64) error {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		return nil
	})
	for id := int64(1); id <= 4; id++ {
		if seen[id] != 1 {
			t.Fatalf("chat %d received %d messages", id, seen[id])
		}
	}
}
