// Package memory implements an in-process backend.Adapter. It is intended for
// tests and single process development setups.
package memory

import (
	"context"
	"sync"

	"github.com/opencontainers/go-digest"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xcontext"
)

// Name is the default backend name.
const Name = "memory"

// New returns an empty in-memory adapter.
func New(name string) *Adapter {
	if name == "" {
		name = Name
	}
	return &Adapter{
		name:      name,
		records:   xsync.NewMapOf[contentaddr.ID, *backend.Record](),
		blobs:     xsync.NewMapOf[contentaddr.ID, []byte](),
		hashes:    xsync.NewMapOf[digest.Digest, contentaddr.ID](),
		filenames: xsync.NewMapOf[string, contentaddr.ID](),
	}
}

// Adapter keeps records and bytes in concurrent maps. Reads are lock free,
// writers are serialized.
type Adapter struct {
	name string

	mu        sync.Mutex
	records   *xsync.MapOf[contentaddr.ID, *backend.Record]
	blobs     *xsync.MapOf[contentaddr.ID, []byte]
	hashes    *xsync.MapOf[digest.Digest, contentaddr.ID]
	filenames *xsync.MapOf[string, contentaddr.ID]
}

var _ backend.Adapter = (*Adapter)(nil)

// Name implements backend.Adapter.
func (a *Adapter) Name() string { return a.name }

// Exists implements backend.Adapter.
func (a *Adapter) Exists(ctx context.Context, q backend.Query) (contentaddr.ID, bool, error) {
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return "", false, backend.Normalize(a.name, err)
	}
	rec, ok := a.find(q)
	if !ok {
		return "", false, nil
	}
	return rec.ID, true, nil
}

// Lookup implements backend.Adapter.
func (a *Adapter) Lookup(ctx context.Context, q backend.Query) (*backend.Record, error) {
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return nil, backend.Normalize(a.name, err)
	}
	rec, ok := a.find(q)
	if !ok {
		return nil, errdefs.Newf(errdefs.ErrNotFound, "%s backend: no image matches", a.name)
	}
	return rec.Clone(), nil
}

func (a *Adapter) find(q backend.Query) (*backend.Record, bool) {
	if q.ID != "" {
		if rec, ok := a.records.Load(q.ID); ok {
			return rec, true
		}
	}
	for _, h := range q.Hashes {
		if id, ok := a.hashes.Load(h); ok {
			if rec, ok := a.records.Load(id); ok {
				return rec, true
			}
		}
	}
	if q.Filename != "" {
		if id, ok := a.filenames.Load(q.Filename); ok {
			if rec, ok := a.records.Load(id); ok {
				return rec, true
			}
		}
	}
	return nil, false
}

// Get implements backend.Adapter.
func (a *Adapter) Get(ctx context.Context, id contentaddr.ID) ([]byte, *backend.Record, error) {
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return nil, nil, backend.Normalize(a.name, err)
	}
	rec, ok := a.records.Load(id)
	if !ok {
		return nil, nil, errdefs.Newf(errdefs.ErrNotFound, "%s backend: image %s", a.name, id)
	}
	data, ok := a.blobs.Load(id)
	if !ok {
		return nil, nil, errdefs.Newf(errdefs.ErrNotFound, "%s backend: content of %s", a.name, id)
	}
	return append([]byte(nil), data...), rec.Clone(), nil
}

// Put implements backend.Adapter.
func (a *Adapter) Put(ctx context.Context, data []byte, rec *backend.Record) (contentaddr.ID, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return "", backend.Normalize(a.name, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.records.Load(rec.ID); ok {
		if err := backend.CheckConflict(existing, rec); err != nil {
			return "", err
		}
		if _, ok := a.blobs.Load(existing.ID); !ok {
			a.blobs.Store(existing.ID, append([]byte(nil), data...))
			a.records.Store(existing.ID, existing.WithLocator(a.locator(existing)))
		}
		return existing.ID, nil
	}
	if existing, ok := a.find(backend.ByHash(rec.Hashes...)); ok {
		return existing.ID, nil
	}

	stored := rec.WithLocator(a.locator(rec))
	a.blobs.Store(stored.ID, append([]byte(nil), data...))
	a.records.Store(stored.ID, stored)
	for _, h := range stored.Hashes {
		a.hashes.Store(h, stored.ID)
	}
	a.filenames.Store(stored.Filename, stored.ID)
	return stored.ID, nil
}

func (a *Adapter) locator(rec *backend.Record) backend.Locator {
	return backend.Locator{Backend: a.name, Key: rec.Filename}
}

// Delete implements backend.Adapter.
func (a *Adapter) Delete(ctx context.Context, id contentaddr.ID) error {
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return backend.Normalize(a.name, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records.LoadAndDelete(id)
	if !ok {
		return errdefs.Newf(errdefs.ErrNotFound, "%s backend: image %s", a.name, id)
	}
	a.blobs.Delete(id)
	for _, h := range rec.Hashes {
		a.hashes.Compute(h, func(old contentaddr.ID, loaded bool) (contentaddr.ID, bool) {
			return old, !loaded || old == id
		})
	}
	a.filenames.Compute(rec.Filename, func(old contentaddr.ID, loaded bool) (contentaddr.ID, bool) {
		return old, !loaded || old == id
	})
	return nil
}

// ListPage implements backend.Adapter.
func (a *Adapter) ListPage(ctx context.Context, req backend.PageRequest) (backend.Page, error) {
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return backend.Page{}, backend.Normalize(a.name, err)
	}
	records := make([]*backend.Record, 0, a.records.Size())
	a.records.Range(func(_ contentaddr.ID, rec *backend.Record) bool {
		records = append(records, rec.Clone())
		return true
	})
	return backend.Paginate(records, req), nil
}

// Close implements backend.Adapter.
func (a *Adapter) Close() error { return nil }
