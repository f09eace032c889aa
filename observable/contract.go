// SPDX-License-Identifier: ice License 1.0

// Package observable implements the push primitive every other component exposes its live values through.
package observable

import (
	"sync"
)

type (
	// Stream is the read side of a subject.
	Stream[T any] interface {
		// Subscribe registers fn for every subsequent emission and returns the function removing it.
		Subscribe(fn func(T)) (unsubscribe func())
	}
	Subject[T any] struct {
		listeners []*listener[T]
		pending   []delivery[T]
		mx        sync.Mutex
		// dispatching is set while one goroutine drains pending, so emissions never overlap.
		dispatching bool
		replay      bool
		hasValue    bool
		// value is the latest accepted by Next, delivered the latest handed to listeners; late subscribers get delivered.
		value        T
		delivered    T
		hasDelivered bool
	}
	PersistentSubject[T any] struct {
		Subject[T]
	}
	Future[T any] struct {
		done  chan struct{}
		once  sync.Once
		value T
	}
	listener[T any] struct {
		fn      func(T)
		removed bool
	}
	// delivery goes to every listener, or only to one when it is a replay.
	delivery[T any] struct {
		value T
		to    *listener[T]
	}
)
