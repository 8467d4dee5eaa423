package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// runOrderedStream applies work to every item received on in, running up to
// workers items concurrently, and emits results on the returned channel in
// the same order items arrived — regardless of which goroutine finished
// first. A weighted semaphore of size queueDepth bounds how many items may
// be in flight (running or buffered, unconsumed) at once, giving the
// consumer back-pressure over the producer.
//
// Once an item carrying a non-nil Err reaches the head of the reorder
// buffer, it is emitted and no further items are: the context is cancelled,
// in-flight work is abandoned, and the output channel is closed. This
// matches the "failure poisons the stream" behavior of stream_blocks et al.
func runOrderedStream[IN any, OUT any](
	ctx context.Context,
	in <-chan idxItem[IN],
	workers, queueDepth int,
	work func(ctx context.Context, v IN) (OUT, error),
) <-chan idxItem[OUT] {
	out := make(chan idxItem[OUT])
	sem := semaphore.NewWeighted(int64(queueDepth))
	buf := newReorderBuffer[OUT]()

	cancelCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(cancelCtx)
	g.SetLimit(workers)

	go func() {
		for item := range in {
			// Every item put into the buffer holds one semaphore slot,
			// released by the consumer; error items pass through without
			// running work but still hold a slot so the accounting below
			// stays balanced.
			if err := sem.Acquire(gctx, 1); err != nil {
				// context cancelled: stop admitting new work, let
				// whatever is already running drain out below.
				break
			}
			if item.Err != nil {
				var zero OUT
				buf.Put(item.Idx, zero, item.Err)
				continue
			}
			idx, v := item.Idx, item.Val
			g.Go(func() error {
				val, err := work(gctx, v)
				buf.Put(idx, val, err)
				return nil
			})
		}
		_ = g.Wait()
		buf.Close()
	}()

	go func() {
		defer cancel()
		defer close(out)
		for {
			item, ok := buf.Next()
			if !ok {
				return
			}
			sem.Release(1)
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
			if item.Err != nil {
				return
			}
		}
	}()

	return out
}
