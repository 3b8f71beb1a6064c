// ABOUTME: Tests for the flow state cache
// ABOUTME: Validates TTL expiration, LRU eviction, copy semantics, cleanup, and concurrency safety

package flowcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New(ttl, maxSize)
	c.now = clock.Now
	return c, clock
}

func TestCache_GetMissing(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 10)
	defer cache.Close()

	_, ok := cache.Get("nope")
	assert.False(t, ok)
}

func TestCache_SetGet(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 10)
	defer cache.Close()

	cache.Set("k", []byte("v1"))
	v, ok := cache.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	cache.Set("k", []byte("v2"))
	v, _ = cache.Get("k")
	assert.Equal(t, []byte("v2"), v, "overwrite replaces value")
	assert.Equal(t, 1, cache.Len())
}

func TestCache_ValuesAreCopied(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 10)
	defer cache.Close()

	in := []byte("abc")
	cache.Set("k", in)
	in[0] = 'z'

	out, _ := cache.Get("k")
	assert.Equal(t, []byte("abc"), out)
	out[0] = 'y'

	again, _ := cache.Get("k")
	assert.Equal(t, []byte("abc"), again)
}

func TestCache_Expiry(t *testing.T) {
	cache, clock := newTestCache(10*time.Second, 10)
	defer cache.Close()

	cache.Set("k", []byte("v"))
	clock.Advance(9 * time.Second)
	_, ok := cache.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = cache.Get("k")
	assert.False(t, ok, "entry expires exactly at ttl")
	assert.Equal(t, 0, cache.Len(), "expired entry is dropped on read")
}

func TestCache_Delete(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 10)
	defer cache.Close()

	cache.Set("k", []byte("v"))
	cache.Delete("k")
	cache.Delete("k")

	_, ok := cache.Get("k")
	assert.False(t, ok)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 3)
	defer cache.Close()

	cache.Set("first", []byte("1"))
	cache.Set("second", []byte("2"))
	cache.Set("third", []byte("3"))

	// touch first so second becomes the eviction candidate
	_, _ = cache.Get("first")
	cache.Set("fourth", []byte("4"))

	_, ok := cache.Get("second")
	assert.False(t, ok, "second should be evicted")
	for _, k := range []string{"first", "third", "fourth"} {
		_, ok := cache.Get(k)
		assert.True(t, ok, k)
	}
}

func TestCache_ZeroSizeStoresNothing(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 0)
	defer cache.Close()

	cache.Set("k", []byte("v"))
	assert.Equal(t, 0, cache.Len())
}

func TestCache_Cleanup(t *testing.T) {
	cache, clock := newTestCache(time.Second, 10)
	defer cache.Close()

	cache.Set("a", []byte("1"))
	cache.Set("b", []byte("2"))
	clock.Advance(2 * time.Second)
	cache.Set("c", []byte("3"))

	cache.runCleanup()
	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Get("c")
	assert.True(t, ok)
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", id%10, j%10)
				cache.Set(key, []byte("v"))
				cache.Get(key)
				if j%7 == 0 {
					cache.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()

	cache.Set("final", []byte("v"))
	_, ok := cache.Get("final")
	assert.True(t, ok)
}

func TestCache_Close(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}
