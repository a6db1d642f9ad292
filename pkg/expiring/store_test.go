package expiring

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore[T any](t *testing.T, cfg Config) *Store[T] {
	t.Helper()
	st := New[T](cfg)
	t.Cleanup(func() { st.Close() })
	return st
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	assert.Eventually(t, cond, time.Second, 5*time.Millisecond, msg)
}

func farFuture() time.Time { return time.Now().Add(time.Hour) }

func TestAdd_RoundTrip(t *testing.T) {
	type payload struct{ n int }
	st := newTestStore[*payload](t, Config{})

	p := &payload{n: 7}
	require.NoError(t, st.Add("k", p, farFuture()))

	got, ok := st.Get("k")
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, 1, st.Len())
}

func TestAdd_RejectsDuplicate(t *testing.T) {
	st := newTestStore[string](t, Config{})

	require.NoError(t, st.Add("k", "v1", farFuture()))
	err := st.Add("k", "v2", farFuture())
	require.ErrorIs(t, err, ErrAlreadyExists)

	got, ok := st.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", got)
	// The rejected Add must not leave a second timer behind.
	assert.Equal(t, 1, st.Stats().Pending)
}

func TestAdd_RejectedDuplicateDoesNotEvictOriginal(t *testing.T) {
	st := newTestStore[string](t, Config{})

	require.NoError(t, st.Add("k", "v1", farFuture()))
	require.ErrorIs(t, st.Add("k", "v2", time.Now().Add(20*time.Millisecond)), ErrAlreadyExists)

	time.Sleep(60 * time.Millisecond)
	got, ok := st.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", got)
}

func TestAdd_RejectsPastTimestamp(t *testing.T) {
	st := newTestStore[string](t, Config{})

	err := st.Add("k", "v", time.Now().Add(-time.Second))
	require.ErrorIs(t, err, ErrExpired)

	_, ok := st.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, st.Stats().Pending)
}

func TestAdd_RejectsNowExactly(t *testing.T) {
	st := newTestStore[string](t, Config{})
	now := time.Now()
	st.now = func() time.Time { return now }

	require.ErrorIs(t, st.Add("k", "v", now), ErrExpired)
	require.ErrorIs(t, st.Put("k", "v", now), ErrExpired)
	assert.Equal(t, 0, st.Len())
}

func TestAdd_ExpiredTakesPrecedenceOverExists(t *testing.T) {
	st := newTestStore[string](t, Config{})

	require.NoError(t, st.Add("k", "v1", farFuture()))
	err := st.Add("k", "v2", time.Now().Add(-time.Second))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestExpiry_EvictsAfterDeadline(t *testing.T) {
	st := newTestStore[string](t, Config{})

	require.NoError(t, st.Add("k", "v", time.Now().Add(100*time.Millisecond)))
	got, ok := st.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", got)

	time.Sleep(150 * time.Millisecond)
	eventually(t, func() bool {
		_, ok := st.Get("k")
		return !ok
	}, "entry should be evicted after its deadline")
	assert.Equal(t, uint64(1), st.Stats().Expired)
}

func TestPut_OverwriteCancelsOldTimer(t *testing.T) {
	st := newTestStore[string](t, Config{})

	t1 := time.Now().Add(40 * time.Millisecond)
	t2 := time.Now().Add(time.Hour)
	require.NoError(t, st.Put("k", "v1", t1))
	require.NoError(t, st.Put("k", "v2", t2))

	time.Sleep(100 * time.Millisecond)
	got, ok := st.Get("k")
	require.True(t, ok, "old timer must not evict the replacement")
	assert.Equal(t, "v2", got)

	stats := st.Stats()
	assert.Equal(t, uint64(1), stats.Replaced)
	assert.Equal(t, uint64(0), stats.Expired)
	assert.Equal(t, 1, stats.Pending)
}

func TestPut_ShorterReplacementStillExpires(t *testing.T) {
	st := newTestStore[string](t, Config{})

	require.NoError(t, st.Put("k", "v1", farFuture()))
	require.NoError(t, st.Put("k", "v2", time.Now().Add(30*time.Millisecond)))

	eventually(t, func() bool {
		_, ok := st.Get("k")
		return !ok
	}, "replacement should expire on its own deadline")
}

func TestPut_ExpiredLeavesExistingUntouched(t *testing.T) {
	st := newTestStore[string](t, Config{})

	require.NoError(t, st.Put("k", "v1", farFuture()))
	require.ErrorIs(t, st.Put("k", "v2", time.Now().Add(-time.Millisecond)), ErrExpired)

	got, ok := st.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", got)
}

func TestRemove(t *testing.T) {
	st := newTestStore[string](t, Config{})

	require.NoError(t, st.Add("k", "v", time.Now().Add(30*time.Millisecond)))
	st.Remove("k")
	st.Remove("k")       // absent: no-op
	st.Remove("missing") // never present: no-op

	_, ok := st.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, st.Stats().Pending)

	// Re-adding the id after Remove must not be hit by the canceled timer.
	require.NoError(t, st.Add("k", "again", farFuture()))
	time.Sleep(60 * time.Millisecond)
	got, ok := st.Get("k")
	require.True(t, ok)
	assert.Equal(t, "again", got)
}

func TestStaleFireIsNoop(t *testing.T) {
	st := newTestStore[string](t, Config{})

	require.NoError(t, st.Add("k", "v1", farFuture()))
	st.mu.Lock()
	stale := st.entries["k"]
	st.mu.Unlock()

	require.NoError(t, st.Put("k", "v2", farFuture()))

	// Simulate the old timer firing after it lost the race with Put.
	st.expire(stale)

	got, ok := st.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", got)
	assert.Equal(t, uint64(0), st.Stats().Expired)
}

func TestClose_FinalAndIdempotent(t *testing.T) {
	var mu sync.Mutex
	var evictions []Eviction
	st := New[string](Config{OnEvict: func(ev Eviction) {
		mu.Lock()
		evictions = append(evictions, ev)
		mu.Unlock()
	}})

	require.NoError(t, st.Add("a", "1", time.Now().Add(30*time.Millisecond)))
	require.NoError(t, st.Add("b", "2", farFuture()))

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	_, ok := st.Get("a")
	assert.False(t, ok)
	_, ok = st.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 0, st.Len())

	assert.ErrorIs(t, st.Add("c", "3", farFuture()), ErrClosed)
	assert.ErrorIs(t, st.Put("c", "3", farFuture()), ErrClosed)
	st.Remove("a")

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, evictions, "no eviction may run after Close")
	assert.Equal(t, 0, st.Stats().Pending)
}

func TestOnEvict_Reasons(t *testing.T) {
	got := make(chan Eviction, 8)
	st := newTestStore[string](t, Config{
		Name:    "events",
		OnEvict: func(ev Eviction) { got <- ev },
	})

	require.NoError(t, st.Put("r", "v", farFuture()))
	require.NoError(t, st.Put("r", "v2", farFuture()))
	st.Remove("r")
	require.NoError(t, st.Add("e", "v", time.Now().Add(10*time.Millisecond)))

	want := []Reason{ReasonReplaced, ReasonRemoved, ReasonExpired}
	for _, reason := range want {
		select {
		case ev := <-got:
			assert.Equal(t, reason, ev.Reason)
			assert.Equal(t, "events", ev.Store)
		case <-time.After(time.Second):
			t.Fatalf("missing %s eviction", reason)
		}
	}
}

func TestAutoName(t *testing.T) {
	a := newTestStore[int](t, Config{})
	b := newTestStore[int](t, Config{})
	named := newTestStore[int](t, Config{Name: "sessions"})

	assert.Regexp(t, `^Store-\d+$`, a.Name())
	assert.Regexp(t, `^Store-\d+$`, b.Name())
	assert.NotEqual(t, a.Name(), b.Name())
	assert.Equal(t, "sessions", named.Name())
}

func TestPeek_DoesNotSpendRetries(t *testing.T) {
	st := newTestStore[string](t, Config{})
	exp := farFuture()
	require.NoError(t, st.Add("k", "v", exp))

	item, ok := st.Peek("k")
	require.True(t, ok)
	assert.Equal(t, "k", item.ID)
	assert.Equal(t, "v", item.Payload)
	assert.True(t, item.ExpiresAt.Equal(exp))

	_, ok = st.Peek("missing")
	assert.False(t, ok)
}

func TestConcurrentMixedOps(t *testing.T) {
	st := newTestStore[int](t, Config{})
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(4)
		id := fmt.Sprintf("k%d", i%5)
		go func(n int) {
			defer wg.Done()
			_ = st.Put(id, n, time.Now().Add(time.Duration(n%7+1)*time.Millisecond))
		}(i)
		go func(n int) {
			defer wg.Done()
			_ = st.Add(id, n, farFuture())
		}(i)
		go func() {
			defer wg.Done()
			st.Get(id)
		}()
		go func() {
			defer wg.Done()
			st.Remove(id)
		}()
	}
	wg.Wait()

	// Whatever survived must have exactly one pending timer each.
	eventually(t, func() bool {
		s := st.Stats()
		return s.Live == s.Pending
	}, "every live entry owns exactly one pending eviction")
}
