// SPDX-License-Identifier: ice License 1.0

package observable

import (
	"context"

	"github.com/cockroachdb/errors"
)

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve fulfils the future. It reports false when the future was already resolved; the first value wins.
func (f *Future[T]) Resolve(v T) (resolved bool) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
		resolved = true
	})

	return resolved
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Value blocks until the future is resolved.
func (f *Future[T]) Value() T {
	<-f.done

	return f.value
}

func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, nil
	case <-ctx.Done():
		var zero T

		return zero, errors.Wrap(ctx.Err(), "future not resolved")
	}
}
