package reqorch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStoreSetAndGet(t *testing.T) {
	s := newCacheStore(4, 10)
	now := time.Now()
	entry := &cacheEntry{key: "k1", response: &Response{StatusCode: 200}, freshUntil: now.Add(time.Minute)}
	s.set(entry)

	got, ok := s.get("k1")
	require.True(t, ok)
	assert.Equal(t, 200, got.response.StatusCode)

	_, ok = s.get("missing")
	assert.False(t, ok)
}

func TestCacheStoreEvictsLRUPerShard(t *testing.T) {
	s := newCacheStore(1, 2)
	now := time.Now()

	s.set(&cacheEntry{key: "a", response: &Response{}, freshUntil: now.Add(time.Minute)})
	s.set(&cacheEntry{key: "b", response: &Response{}, freshUntil: now.Add(time.Minute)})
	// touch "a" so it becomes most-recently-used, leaving "b" as the
	// eviction candidate
	s.get("a")
	s.set(&cacheEntry{key: "c", response: &Response{}, freshUntil: now.Add(time.Minute)})

	_, aOK := s.get("a")
	_, bOK := s.get("b")
	_, cOK := s.get("c")

	assert.True(t, aOK)
	assert.False(t, bOK, "b should have been evicted as least recently used")
	assert.True(t, cOK)
	assert.Equal(t, 2, s.len())
}

func TestCacheStoreDelete(t *testing.T) {
	s := newCacheStore(4, 10)
	s.set(&cacheEntry{key: "k1", response: &Response{}, freshUntil: time.Now().Add(time.Minute)})
	s.delete("k1")

	_, ok := s.get("k1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.len())
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 4, 5: 8, 16: 16, 17: 32}
	for in, want := range cases {
		assert.Equal(t, want, nextPowerOfTwo(in))
	}
}
