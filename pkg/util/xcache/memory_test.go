package xcache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wuxler/imgvault/pkg/util/xcache"
)

func TestMemory_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := xcache.NewMemory[string](xcache.MemoryConfig{Capacity: 16, TTL: time.Minute})

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Set(ctx, "a", "1")
	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	c.Delete(ctx, "a")
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemory_Loader(t *testing.T) {
	ctx := context.Background()
	c := xcache.NewMemory[int]()

	var calls atomic.Int32
	loader := xcache.WithLoader(func(_ context.Context, key string) (int, bool) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return len(key), true
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok := c.Get(ctx, "four", loader)
			assert.True(t, ok)
			assert.Equal(t, 4, v)
		}()
	}
	wg.Wait()
	assert.Less(t, calls.Load(), int32(8))

	v, ok := c.Get(ctx, "four")
	assert.True(t, ok)
	assert.Equal(t, 4, v)
}

func TestMemory_LoaderMiss(t *testing.T) {
	ctx := context.Background()
	c := xcache.NewMemory[int]()

	v, ok := c.Get(ctx, "missing", xcache.WithLoader(func(context.Context, string) (int, bool) {
		return 42, false
	}))
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	c := xcache.NewDiscard[string]()
	c.Set(ctx, "a", "1")
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
}
