package xcache

import (
	"context"
	"time"

	"github.com/maypok86/otter"
	"golang.org/x/sync/singleflight"

	"github.com/wuxler/imgvault/pkg/util/xgeneric"
)

const (
	// DefaultCapacity is the default number of entries kept by a memory cache.
	DefaultCapacity = 1024
	// DefaultTTL is the default time an entry stays in a memory cache.
	DefaultTTL = time.Hour
)

// MemoryConfig configures NewMemory.
type MemoryConfig struct {
	// Capacity is the maximum number of entries.
	Capacity int
	// TTL is the time to live of each entry.
	TTL time.Duration
}

// NewMemory returns a new cache implementation based on memory.
func NewMemory[T any](configs ...MemoryConfig) Cache[T] {
	c := MemoryConfig{Capacity: DefaultCapacity, TTL: DefaultTTL}
	if len(configs) > 0 {
		if configs[0].Capacity > 0 {
			c.Capacity = configs[0].Capacity
		}
		if configs[0].TTL > 0 {
			c.TTL = configs[0].TTL
		}
	}

	cache, err := otter.MustBuilder[string, T](c.Capacity).
		WithTTL(c.TTL).
		Build()
	if err != nil {
		panic(err)
	}
	return &memoryCacheImpl[T]{
		cache: cache,
	}
}

type memoryCacheImpl[T any] struct {
	cache     otter.Cache[string, T]
	loadGroup singleflight.Group
}

type loaded[T any] struct {
	value T
	ok    bool
}

// Get returns the value of the key. Concurrent misses of the same key share
// one loader call.
func (s *memoryCacheImpl[T]) Get(ctx context.Context, key string, options ...Option[T]) (T, bool) {
	o := MakeOptions(options...)
	v, ok := s.cache.Get(key)
	if ok {
		return v, true
	}
	ret, _, _ := s.loadGroup.Do(key, func() (interface{}, error) {
		value, ok := o.Loader(ctx, key)
		if ok {
			s.cache.Set(key, value)
		}
		return loaded[T]{value: value, ok: ok}, nil
	})
	l, _ := ret.(loaded[T])
	if !l.ok {
		return xgeneric.ZeroValue[T](), false
	}
	return l.value, true
}

// Set saves the value of the key.
func (s *memoryCacheImpl[T]) Set(_ context.Context, key string, value T, options ...Option[T]) {
	s.cache.Set(key, value)
}

// Delete removes the value of the key.
func (s *memoryCacheImpl[T]) Delete(_ context.Context, key string) {
	s.cache.Delete(key)
}
