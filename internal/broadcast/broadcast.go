// Package broadcast delivers one message to many chats and reports per-recipient outcomes.
package broadcast

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SendFunc delivers a message to a single chat.
type SendFunc func(ctx context.Context, chatID int64) error

// Failure records a chat the message could not be delivered to.
type Failure struct {
	ChatID int64
	Err    error
}

// Result tallies a broadcast. Delivered keeps the order of the input for Sequential; Fanout
// sorts both lists by chat id.
type Result struct {
	Delivered []int64
	Failed    []Failure
}

// DeliveredCount returns the number of successful deliveries.
func (r Result) DeliveredCount() int { return len(r.Delivered) }

// FailedCount returns the number of failed deliveries.
func (r Result) FailedCount() int { return len(r.Failed) }

// Sequential sends to each chat in turn, continuing past failures. It stops early only when
// ctx is cancelled, counting the remaining chats as failed.
func Sequential(ctx context.Context, chatIDs []int64, send SendFunc) Result {
	var res Result
	for i, id := range chatIDs {
		if err := ctx.Err(); err != nil {
			for _, rest := range chatIDs[i:] {
				res.Failed = append(res.Failed, Failure{ChatID: rest, Err: err})
			}
			break
		}
		if err := send(ctx, id); err != nil {
			res.Failed = append(res.Failed, Failure{ChatID: id, Err: err})
			continue
		}
		res.Delivered = append(res.Delivered, id)
	}
	return res
}

// Fanout sends to all chats with at most limit deliveries in flight.
func Fanout(ctx context.Context, chatIDs []int64, limit int, send SendFunc) Result {
	if limit <= 0 {
		limit = 1
	}

	var (
		mu  sync.Mutex
		res Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range chatIDs {
		g.Go(func() error {
			err := gctx.Err()
			if err == nil {
				err = send(gctx, id)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, Failure{ChatID: id, Err: err})
			} else {
				res.Delivered = append(res.Delivered, id)
			}
			// Per-recipient failures never cancel the group.
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Delivered, func(i, j int) bool { return res.Delivered[i] < res.Delivered[j] })
	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].ChatID < res.Failed[j].ChatID })
	return res
}
