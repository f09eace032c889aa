// SPDX-License-Identifier: ice License 1.0

package observable

// NewPersistentSubject returns a subject replaying its latest value to late subscribers.
func NewPersistentSubject[T any]() *PersistentSubject[T] {
	s := new(PersistentSubject[T])
	s.replay = true

	return s
}

// NewPersistentSubjectWithValue starts with v as if it had already been emitted.
func NewPersistentSubjectWithValue[T any](v T) *PersistentSubject[T] {
	s := NewPersistentSubject[T]()
	s.value, s.hasValue = v, true
	s.delivered, s.hasDelivered = v, true

	return s
}

func (s *PersistentSubject[T]) Value() (v T, ok bool) {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.value, s.hasValue
}

// Current is Value without the presence flag.
func (s *PersistentSubject[T]) Current() T {
	v, _ := s.Value()

	return v
}

// Update derives the next value from the latest one atomically, so concurrent updates are emitted in the order they were applied.
// Nothing is emitted when fn reports no change.
func (s *PersistentSubject[T]) Update(fn func(current T) (next T, changed bool)) {
	s.mx.Lock()
	next, changed := fn(s.value)
	if !changed {
		s.mx.Unlock()

		return
	}
	s.enqueueLocked(next)
	s.drain()
}
