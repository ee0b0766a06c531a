// Package live delivers full-snapshot subscriptions. A Feed owns one
// goroutine that re-fetches the complete result set whenever it is woken and
// hands it to the subscriber's callback. Wake-ups that arrive while a fetch is
// running collapse into one, so a slow subscriber always sees the latest state
// rather than a backlog of stale ones.
package live

import (
	"context"
	"sync"
)

// FetchFunc loads the current full result set.
type FetchFunc[T any] func(ctx context.Context) (T, error)

type Feed[T any] struct {
	fetch FetchFunc[T]
	fn    func(T, error)

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	onClose   func()
	closeOnce sync.Once
}

// Start begins delivering to fn. The first snapshot is fetched right away.
// onClose, if set, runs once when the feed is unsubscribed.
func Start[T any](fetch FetchFunc[T], fn func(T, error), onClose func()) *Feed[T] {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed[T]{
		fetch:   fetch,
		fn:      fn,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	f.Refresh()
	go f.run()
	return f
}

// Refresh asks the feed to re-fetch. It never blocks.
func (f *Feed[T]) Refresh() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Unsubscribe stops the feed. A callback already running finishes, no new
// one starts. Safe to call from inside the callback and more than once.
func (f *Feed[T]) Unsubscribe() {
	f.closeOnce.Do(func() {
		f.cancel()
		if f.onClose != nil {
			f.onClose()
		}
	})
}

// Done is closed once the delivery goroutine has exited.
func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Feed[T]) run() {
	defer close(f.done)

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.wake:
		}

		v, err := f.fetch(f.ctx)
		if f.ctx.Err() != nil {
			return
		}
		f.fn(v, err)
	}
}
