package backend

import (
	"context"

	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/util/xcache"
)

// CachedObject is a Get result kept by the read cache.
type CachedObject struct {
	Data   []byte
	Record *Record
}

// WithReadCache decorates adapter so that Get results are served from cache.
// Content is immutable per id, so entries only need to be dropped on Put and
// Delete.
func WithReadCache(adapter Adapter, cache xcache.Cache[CachedObject]) Adapter {
	if cache == nil {
		return adapter
	}
	return &cachedAdapter{Adapter: adapter, cache: cache}
}

type cachedAdapter struct {
	Adapter
	cache xcache.Cache[CachedObject]
}

// Get implements Adapter.
func (a *cachedAdapter) Get(ctx context.Context, id contentaddr.ID) ([]byte, *Record, error) {
	if obj, ok := a.cache.Get(ctx, id.String()); ok {
		return obj.Data, obj.Record.Clone(), nil
	}
	data, rec, err := a.Adapter.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	a.cache.Set(ctx, id.String(), CachedObject{Data: data, Record: rec.Clone()})
	return data, rec, nil
}

// Put implements Adapter.
func (a *cachedAdapter) Put(ctx context.Context, data []byte, rec *Record) (contentaddr.ID, error) {
	id, err := a.Adapter.Put(ctx, data, rec)
	if err == nil {
		a.cache.Delete(ctx, id.String())
	}
	return id, err
}

// Delete implements Adapter.
func (a *cachedAdapter) Delete(ctx context.Context, id contentaddr.ID) error {
	a.cache.Delete(ctx, id.String())
	return a.Adapter.Delete(ctx, id)
}
