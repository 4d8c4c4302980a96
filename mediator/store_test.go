package mediator

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreBasicOperations(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Exists("k"))

	s.Set("k", "v")
	assert.True(t, s.Exists("k"))
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	s.Delete("k")
	assert.False(t, s.Exists("k"))
	_, ok = s.Get("k")
	assert.False(t, ok)

	// deleting an absent key is a no-op
	s.Delete("k")
}

func TestStoreKeysWithPrefix(t *testing.T) {
	s := NewStore()
	s.Set("s1-alice-h1", 1)
	s.Set("s1-alice-h2", 2)
	s.Set("s1-alicia-h1", 3)
	s.Set("s1-bob-h1", 4)

	keys := s.KeysWithPrefix("s1-alice-")
	assert.Equal(t, []string{"s1-alice-h1", "s1-alice-h2"}, keys)
	assert.Empty(t, s.KeysWithPrefix("s2-"))
}

func TestStoreSetMulti(t *testing.T) {
	s := NewStore()
	s.SetMulti(map[string]any{"a": 1, "b": 2})
	assert.True(t, s.Exists("a"))
	assert.True(t, s.Exists("b"))
}

func TestStoreUpdate(t *testing.T) {
	s := NewStore()
	s.Update("counter", func(value any, ok bool) any {
		assert.False(t, ok)
		return 1
	})
	s.Update("counter", func(value any, ok bool) any {
		require.True(t, ok)
		return value.(int) + 1
	})
	v, ok := s.Get("counter")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestStoreClear(t *testing.T) {
	s := NewStore()
	s.Set("a", 1)
	s.Clear()
	assert.False(t, s.Exists("a"))
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore()
	wg := &sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("w%d-%d", n, j)
				s.Set(key, j)
				s.Get(key)
				s.KeysWithPrefix(fmt.Sprintf("w%d-", n))
				s.Update("shared", func(value any, ok bool) any {
					if !ok {
						return 1
					}
					return value.(int) + 1
				})
				s.Delete(key)
			}
		}(i)
	}
	wg.Wait()
	v, ok := s.Get("shared")
	require.True(t, ok)
	assert.Equal(t, 1600, v)
}
