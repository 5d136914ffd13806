package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func key(name string) Key {
	return Key{Operation: "read", Kind: "persona", Name: name}
}

func TestLRUCache_Eviction(t *testing.T) {
	t.Run("LeastRecentlyAccessedIsEvicted", func(t *testing.T) {
		c := NewLRUCache(2, time.Minute)
		c.Set(key("a"), []byte("A"), 0)
		c.Set(key("b"), []byte("B"), 0)

		_, ok := c.Get(key("a"))
		require.True(t, ok)

		c.Set(key("c"), []byte("C"), 0)

		_, ok = c.Get(key("b"))
		assert.False(t, ok, "b should have been evicted")
		_, ok = c.Get(key("a"))
		assert.True(t, ok)
		_, ok = c.Get(key("c"))
		assert.True(t, ok)

		assert.Equal(t, int64(1), c.Stats().Evictions)
		assert.Equal(t, 2, c.Size())
	})

	t.Run("SizeNeverExceedsCapacity", func(t *testing.T) {
		c := NewLRUCache(3, time.Minute)
		for i := 0; i < 20; i++ {
			c.Set(key(string(rune('a'+i))), []byte{byte(i)}, 0)
			assert.LessOrEqual(t, c.Size(), 3)
		}
		assert.Equal(t, int64(17), c.Stats().Evictions)
	})

	t.Run("ReplaceDoesNotEvict", func(t *testing.T) {
		c := NewLRUCache(2, time.Minute)
		c.Set(key("a"), []byte("1"), 0)
		c.Set(key("b"), []byte("1"), 0)
		c.Set(key("a"), []byte("2"), 0)

		assert.Equal(t, 2, c.Size())
		assert.Zero(t, c.Stats().Evictions)
	})
}

func TestLRUCache_Expiration(t *testing.T) {
	clock := newFakeClock()
	c := NewLRUCache(10, time.Minute)
	c.SetClock(clock.Now)

	c.Set(key("a"), []byte("A"), time.Minute)

	t.Run("ReadDoesNotExtendExpiry", func(t *testing.T) {
		clock.Advance(50 * time.Second)
		_, ok := c.Get(key("a"))
		require.True(t, ok)

		clock.Advance(20 * time.Second)
		_, ok = c.Get(key("a"))
		assert.False(t, ok)
		assert.Equal(t, int64(1), c.Stats().Expirations)
		assert.Zero(t, c.Size())
	})

	t.Run("ReplaceResetsExpiry", func(t *testing.T) {
		c.Set(key("b"), []byte("1"), time.Minute)
		clock.Advance(50 * time.Second)
		c.Set(key("b"), []byte("2"), time.Minute)
		clock.Advance(50 * time.Second)

		v, ok := c.Get(key("b"))
		assert.True(t, ok)
		assert.Equal(t, []byte("2"), v)
	})

	t.Run("CleanupExpired", func(t *testing.T) {
		c.Clear()
		c.Set(key("x"), []byte("x"), time.Second)
		c.Set(key("y"), []byte("y"), time.Hour)
		clock.Advance(2 * time.Second)

		assert.Equal(t, 1, c.CleanupExpired())
		assert.Equal(t, 1, c.Size())
	})
}

func TestLRUCache_Stats(t *testing.T) {
	c := NewLRUCache(10, time.Minute)
	c.Set(key("a"), []byte("hello"), 0)

	c.Get(key("a"))
	c.Get(key("a"))
	c.Get(key("a"))
	c.Get(key("missing"))

	s := c.Stats()
	assert.Equal(t, int64(3), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.75, s.HitRate, 0.0001)
	assert.Equal(t, 1, s.Size)
	assert.Equal(t, 10, s.Capacity)
	assert.Positive(t, s.MemoryBytes)

	c.Clear()
	assert.Zero(t, c.Stats().MemoryBytes)
}

func TestService_GetOrLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := NewService(ServiceConfig{Capacity: 10, SweepInterval: 10 * time.Millisecond})
	defer svc.Close()

	ctx := context.Background()

	t.Run("ConcurrentCallersShareOneLoad", func(t *testing.T) {
		var calls atomic.Int32
		release := make(chan struct{})
		load := func(context.Context) ([]byte, error) {
			calls.Add(1)
			<-release
			return []byte("loaded"), nil
		}

		var wg sync.WaitGroup
		results := make([][]byte, 5)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, err := svc.GetOrLoad(ctx, key("shared"), time.Minute, load)
				assert.NoError(t, err)
				results[i] = v
			}(i)
		}

		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		for _, r := range results {
			assert.Equal(t, []byte("loaded"), r)
		}

		v, ok := svc.Get(ctx, key("shared"))
		assert.True(t, ok)
		assert.Equal(t, []byte("loaded"), v)
	})

	t.Run("LoadErrorIsNotCached", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := svc.GetOrLoad(ctx, key("bad"), time.Minute, func(context.Context) ([]byte, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		_, ok := svc.Get(ctx, key("bad"))
		assert.False(t, ok)
	})
}

func TestService_JSON(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := NewService(DefaultServiceConfig())
	defer svc.Close()
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	t.Run("RoundTrip", func(t *testing.T) {
		require.NoError(t, svc.SetJSON(ctx, key("p"), payload{Name: "qa", Count: 3}, 0))

		var got payload
		require.True(t, svc.GetJSON(ctx, key("p"), &got))
		assert.Equal(t, payload{Name: "qa", Count: 3}, got)
	})

	t.Run("CorruptValueIsAMiss", func(t *testing.T) {
		require.NoError(t, svc.Set(ctx, key("corrupt"), []byte("{not json"), 0))

		var got payload
		assert.False(t, svc.GetJSON(ctx, key("corrupt"), &got))

		_, ok := svc.Get(ctx, key("corrupt"))
		assert.False(t, ok, "corrupt entry should be dropped")
		assert.Equal(t, int64(1), svc.Stats().Corruptions)
	})
}

func TestService_SnapshotRestore(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	src := NewService(ServiceConfig{Capacity: 10})
	defer src.Close()

	require.NoError(t, src.Set(ctx, key("a"), []byte("A"), time.Hour))
	require.NoError(t, src.Set(ctx, key("b"), []byte("B"), time.Hour))

	data, err := src.Snapshot()
	require.NoError(t, err)

	t.Run("RestoresLiveEntries", func(t *testing.T) {
		dst := NewService(ServiceConfig{Capacity: 10})
		defer dst.Close()

		n, err := dst.Restore(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		v, ok := dst.Get(ctx, key("b"))
		assert.True(t, ok)
		assert.Equal(t, []byte("B"), v)
	})

	t.Run("SkipsMalformedEntries", func(t *testing.T) {
		dst := NewService(ServiceConfig{Capacity: 10})
		defer dst.Close()

		bad := []byte(`[{"key":{"Operation":"read","Kind":"persona","Name":"ok"},"value":"T0s=","expires_at":"2999-01-01T00:00:00Z"},{"key":42},{"value":"eA=="}]`)
		n, err := dst.Restore(ctx, bad)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, int64(2), dst.Stats().Corruptions)

		v, ok := dst.Get(ctx, key("ok"))
		assert.True(t, ok)
		assert.Equal(t, []byte("OK"), v)
	})

	t.Run("GarbageSnapshot", func(t *testing.T) {
		dst := NewService(ServiceConfig{Capacity: 10})
		defer dst.Close()

		n, err := dst.Restore(ctx, []byte("garbage"))
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, int64(1), dst.Stats().Corruptions)
	})
}

func TestService_SweepLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := NewService(ServiceConfig{
		Capacity:      10,
		DefaultTTL:    10 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
	})
	defer svc.Close()

	require.NoError(t, svc.Set(context.Background(), key("short"), []byte("x"), 0))

	assert.Eventually(t, func() bool {
		return svc.Size() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), svc.Stats().Expirations)
}
