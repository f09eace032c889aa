// SPDX-License-Identifier: ice License 1.0

package observable

import (
	"context"
	"sync"
	"testing"
	stdlibtime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectEmitsInRegistrationOrder(t *testing.T) {
	t.Parallel()

	s := NewSubject[int]()
	var got []string
	s.Subscribe(func(v int) { got = append(got, "first") })
	s.Subscribe(func(v int) { got = append(got, "second") })
	s.Next(1)
	require.Equal(t, []string{"first", "second"}, got)
}

func TestSubjectDoesNotReplay(t *testing.T) {
	t.Parallel()

	s := NewSubject[int]()
	s.Next(1)
	var got []int
	s.Subscribe(func(v int) { got = append(got, v) })
	require.Empty(t, got)
	s.Next(2)
	require.Equal(t, []int{2}, got)
}

func TestSubjectUnsubscribe(t *testing.T) {
	t.Parallel()

	s := NewSubject[int]()
	var got []int
	unsubscribe := s.Subscribe(func(v int) { got = append(got, v) })
	s.Next(1)
	unsubscribe()
	unsubscribe()
	s.Next(2)
	require.Equal(t, []int{1}, got)
	require.Zero(t, s.Listeners())
}

func TestSubjectUnsubscribeDuringDispatch(t *testing.T) {
	t.Parallel()

	s := NewSubject[int]()
	var second []int
	var unsubscribeSecond func()
	s.Subscribe(func(int) { unsubscribeSecond() })
	unsubscribeSecond = s.Subscribe(func(v int) { second = append(second, v) })
	s.Next(1)
	require.Empty(t, second)
	require.Equal(t, 1, s.Listeners())
}

func TestSubjectReentrantNextIsQueued(t *testing.T) {
	t.Parallel()

	s := NewSubject[int]()
	var trace []string
	s.Subscribe(func(v int) {
		trace = append(trace, "a-start")
		if v == 1 {
			s.Next(2)
		}
		trace = append(trace, "a-end")
	})
	s.Subscribe(func(v int) { trace = append(trace, "b") })
	s.Next(1)
	require.Equal(t, []string{"a-start", "a-end", "b", "a-start", "a-end", "b"}, trace)
}

func TestSubjectConcurrentNextNeverOverlaps(t *testing.T) {
	t.Parallel()

	s := NewSubject[int]()
	var (
		mx      sync.Mutex
		inside  int
		maxSeen int
		total   int
	)
	s.Subscribe(func(int) {
		mx.Lock()
		inside++
		if inside > maxSeen {
			maxSeen = inside
		}
		mx.Unlock()
		stdlibtime.Sleep(stdlibtime.Microsecond)
		mx.Lock()
		inside--
		total++
		mx.Unlock()
	})
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Next(i)
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool {
		mx.Lock()
		defer mx.Unlock()

		return total == 50
	}, stdlibtime.Second, stdlibtime.Millisecond)
	require.Equal(t, 1, maxSeen)
}

func TestPersistentSubjectReplaysLatest(t *testing.T) {
	t.Parallel()

	s := NewPersistentSubject[string]()
	_, ok := s.Value()
	require.False(t, ok)
	var early []string
	s.Subscribe(func(v string) { early = append(early, v) })
	require.Empty(t, early)
	s.Next("a")
	s.Next("b")
	var late []string
	s.Subscribe(func(v string) { late = append(late, v) })
	require.Equal(t, []string{"a", "b"}, early)
	require.Equal(t, []string{"b"}, late)
	require.Equal(t, "b", s.Current())
}

func TestPersistentSubjectLateSubscriberDuringDispatch(t *testing.T) {
	t.Parallel()

	s := NewPersistentSubject[int]()
	entered, release := make(chan struct{}), make(chan struct{})
	var (
		mx               sync.Mutex
		running, maxSeen int
		late             []int
	)
	enter := func() {
		mx.Lock()
		running++
		maxSeen = max(maxSeen, running)
		mx.Unlock()
	}
	leave := func() {
		mx.Lock()
		running--
		mx.Unlock()
	}
	s.Subscribe(func(v int) {
		enter()
		defer leave()
		if v == 1 {
			close(entered)
			<-release
		}
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Next(1)
	}()
	<-entered
	s.Next(2)
	s.Next(3)
	require.Equal(t, 3, s.Current())
	s.Subscribe(func(v int) {
		enter()
		defer leave()
		mx.Lock()
		late = append(late, v)
		mx.Unlock()
	})
	close(release)
	<-done

	mx.Lock()
	defer mx.Unlock()
	require.Equal(t, []int{1, 2, 3}, late)
	require.Equal(t, 1, maxSeen)
}

func TestPersistentSubjectWithValue(t *testing.T) {
	t.Parallel()

	s := NewPersistentSubjectWithValue([]int{})
	var got [][]int
	s.Subscribe(func(v []int) { got = append(got, v) })
	require.Equal(t, [][]int{{}}, got)
}

func TestPersistentSubjectUpdateKeepsOrder(t *testing.T) {
	t.Parallel()

	s := NewPersistentSubjectWithValue([]int{})
	var (
		mx      sync.Mutex
		lengths []int
	)
	s.Subscribe(func(v []int) {
		mx.Lock()
		lengths = append(lengths, len(v))
		mx.Unlock()
	})
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(current []int) ([]int, bool) {
				return append(append([]int(nil), current...), i), true
			})
		}()
	}
	wg.Wait()
	s.Update(func(current []int) ([]int, bool) { return current, false })
	require.Eventually(t, func() bool {
		mx.Lock()
		defer mx.Unlock()

		return len(lengths) == 51
	}, stdlibtime.Second, stdlibtime.Millisecond)
	mx.Lock()
	defer mx.Unlock()
	for i, l := range lengths {
		assert.Equal(t, i, l)
	}
	require.Len(t, s.Current(), 50)
}

func TestConnectWithHandler(t *testing.T) {
	t.Parallel()

	src := NewSubject[int]()
	dst := NewSubject[string]()
	gate := false
	disconnect := Connect[int, string](src, dst, func(v int, next func(string)) {
		if gate {
			next("forwarded")
		}
	})
	var got []string
	dst.Subscribe(func(v string) { got = append(got, v) })
	src.Next(1)
	gate = true
	src.Next(2)
	disconnect()
	src.Next(3)
	require.Equal(t, []string{"forwarded"}, got)
}

func TestFutureResolvesOnce(t *testing.T) {
	t.Parallel()

	f := NewFuture[int]()
	require.False(t, f.Resolved())
	require.True(t, f.Resolve(1))
	require.False(t, f.Resolve(2))
	require.True(t, f.Resolved())
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, f.Value())
}

func TestFutureWaitHonoursContext(t *testing.T) {
	t.Parallel()

	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*stdlibtime.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
