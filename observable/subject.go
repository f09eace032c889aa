// SPDX-License-Identifier: ice License 1.0

package observable

func NewSubject[T any]() *Subject[T] {
	return new(Subject[T])
}

func (s *Subject[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	l := &listener[T]{fn: fn}
	s.mx.Lock()
	s.listeners = append(s.listeners, l)
	if !s.replay || !s.hasDelivered {
		s.mx.Unlock()

		return func() { s.remove(l) }
	}
	// Ahead of anything still queued: those values are newer and reach l as regular emissions.
	s.pending = append([]delivery[T]{{value: s.delivered, to: l}}, s.pending...)
	s.drain()

	return func() { s.remove(l) }
}

func (s *Subject[T]) remove(l *listener[T]) {
	s.mx.Lock()
	defer s.mx.Unlock()
	l.removed = true
	for i := range s.listeners {
		if s.listeners[i] == l {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)

			return
		}
	}
}

// Next emits v to every current listener in registration order.
// Called while this subject is already dispatching, v is queued and delivered once the running emission completes.
func (s *Subject[T]) Next(v T) {
	s.mx.Lock()
	s.enqueueLocked(v)
	s.drain()
}

func (s *Subject[T]) enqueueLocked(v T) {
	s.value, s.hasValue = v, true
	s.pending = append(s.pending, delivery[T]{value: v})
}

// drain must be called with s.mx held; it releases it.
func (s *Subject[T]) drain() {
	if s.dispatching {
		s.mx.Unlock()

		return
	}
	s.dispatching = true
	s.mx.Unlock()

	for {
		s.mx.Lock()
		if len(s.pending) == 0 {
			s.dispatching = false
			s.mx.Unlock()

			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		var snapshot []*listener[T]
		if next.to != nil {
			snapshot = []*listener[T]{next.to}
		} else {
			s.delivered, s.hasDelivered = next.value, true
			snapshot = append(snapshot, s.listeners...)
		}
		s.mx.Unlock()
		for _, l := range snapshot {
			if s.isRemoved(l) {
				continue
			}
			l.fn(next.value)
		}
	}
}

func (s *Subject[T]) isRemoved(l *listener[T]) bool {
	s.mx.Lock()
	defer s.mx.Unlock()

	return l.removed
}

func (s *Subject[T]) Listeners() int {
	s.mx.Lock()
	defer s.mx.Unlock()

	return len(s.listeners)
}
