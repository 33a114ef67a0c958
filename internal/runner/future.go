package runner

import (
	"context"
	"sync"
)

// Future is a one-shot asynchronous result. It resolves exactly once and may
// be awaited by any number of readers.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func resolvedFuture[T any](val T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(val, err)
	return f
}

// resolve reports whether this call settled the future.
func (f *Future[T]) resolve(val T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx ends. A ctx error does not
// settle the future.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Settled reports whether the future has resolved.
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
