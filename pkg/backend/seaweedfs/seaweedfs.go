// Package seaweedfs implements backend.Adapter on a SeaweedFS cluster. Bytes
// live on volume servers, records and the hash index live in a local SQLite
// catalog.
package seaweedfs

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xhttp"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// Name is the default backend name.
const Name = "seaweedfs"

// Options configures Open.
type Options struct {
	// Name overrides the backend name.
	Name string
	// Master is the address of the SeaweedFS master, "host:port" or a URL.
	Master string
	// Catalog is the path of the SQLite catalog file.
	Catalog string
	// Timeout bounds every HTTP request. Zero uses 30 seconds.
	Timeout time.Duration
	// HTTPClient overrides the client used to reach the cluster.
	HTTPClient xhttp.Client
}

// Open connects the catalog and returns the adapter.
func Open(ctx context.Context, opts Options) (*Adapter, error) {
	if opts.Name == "" {
		opts.Name = Name
	}
	if opts.Master == "" || opts.Catalog == "" {
		return nil, errdefs.Newf(errdefs.ErrInvalidParameter, "%s backend: master and catalog are required", opts.Name)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	client, err := NewClient(opts.Master, httpClient)
	if err != nil {
		return nil, err
	}
	catalog, err := OpenCatalog(ctx, opts.Catalog)
	if err != nil {
		return nil, backend.Normalize(opts.Name, err)
	}
	return &Adapter{name: opts.Name, client: client, catalog: catalog}, nil
}

// Adapter stores bytes through Client and records in Catalog.
type Adapter struct {
	name    string
	client  *Client
	catalog *Catalog

	// serializes catalog writers, SQLite has a single writer anyway
	mu sync.Mutex
}

var _ backend.Adapter = (*Adapter)(nil)

// Name implements backend.Adapter.
func (a *Adapter) Name() string { return a.name }

// Exists implements backend.Adapter.
func (a *Adapter) Exists(ctx context.Context, q backend.Query) (contentaddr.ID, bool, error) {
	rec, err := a.catalog.Find(ctx, q)
	if err != nil {
		return "", false, backend.Normalize(a.name, err)
	}
	if rec == nil {
		return "", false, nil
	}
	return rec.ID, true, nil
}

// Lookup implements backend.Adapter.
func (a *Adapter) Lookup(ctx context.Context, q backend.Query) (*backend.Record, error) {
	rec, err := a.catalog.Find(ctx, q)
	if err != nil {
		return nil, backend.Normalize(a.name, err)
	}
	if rec == nil {
		return nil, errdefs.Newf(errdefs.ErrNotFound, "%s backend: no image matches", a.name)
	}
	return rec, nil
}

// Get implements backend.Adapter.
func (a *Adapter) Get(ctx context.Context, id contentaddr.ID) ([]byte, *backend.Record, error) {
	rec, err := a.catalog.Get(ctx, id)
	if err != nil {
		return nil, nil, backend.Normalize(a.name, err)
	}
	if rec == nil {
		return nil, nil, errdefs.Newf(errdefs.ErrNotFound, "%s backend: image %s", a.name, id)
	}
	loc, ok := rec.Locator(a.name)
	if !ok {
		return nil, nil, errdefs.Newf(errdefs.ErrNotFound, "%s backend: content of %s", a.name, id)
	}
	data, err := a.client.Download(ctx, loc.Host, loc.Key)
	if errdefs.IsNotFound(err) {
		// the volume may have moved to another server since the upload
		if host, lerr := a.client.Lookup(ctx, loc.Key); lerr == nil && host != loc.Host {
			xlog.C(ctx).Debugf("volume of %s moved from %s to %s", loc.Key, loc.Host, host)
			data, err = a.client.Download(ctx, host, loc.Key)
		}
	}
	if err != nil {
		return nil, nil, backend.Normalize(a.name, err)
	}
	if err := backend.Verify(rec, data); err != nil {
		return nil, nil, backend.Normalize(a.name, err)
	}
	return data, rec, nil
}

// Put implements backend.Adapter. The bytes are uploaded first and the
// catalog row is the commit point, so an interrupted Put leaves at most an
// unreferenced file on a volume.
func (a *Adapter) Put(ctx context.Context, data []byte, rec *backend.Record) (contentaddr.ID, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.catalog.Find(ctx, backend.Query{ID: rec.ID, Hashes: rec.Hashes})
	if err != nil {
		return "", backend.Normalize(a.name, err)
	}
	if existing != nil {
		if err := backend.CheckConflict(existing, rec); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	assignment, err := a.client.Assign(ctx)
	if err != nil {
		return "", backend.Normalize(a.name, err)
	}
	if err := a.client.Upload(ctx, assignment.URL, assignment.FID, rec.Filename, rec.MIME, data); err != nil {
		return "", backend.Normalize(a.name, err)
	}

	stored := rec.WithLocator(backend.Locator{Backend: a.name, Key: assignment.FID, Host: assignment.URL})
	existing, err = a.catalog.Insert(ctx, stored)
	if err != nil || existing != nil {
		a.removeOrphan(ctx, assignment.URL, assignment.FID)
	}
	if err != nil {
		return "", backend.Normalize(a.name, err)
	}
	if existing != nil {
		return existing.ID, nil
	}
	xlog.C(ctx).Debugf("stored %s as %s on %s", stored.ID, assignment.FID, assignment.URL)
	return stored.ID, nil
}

func (a *Adapter) removeOrphan(ctx context.Context, host, fid string) {
	if err := a.client.Remove(context.WithoutCancel(ctx), host, fid); err != nil {
		xlog.C(ctx).Warnf("unable to remove orphan %s on %s: %v", fid, host, err)
	}
}

// Delete implements backend.Adapter. The catalog row goes first so readers
// never see a record whose bytes are gone.
func (a *Adapter) Delete(ctx context.Context, id contentaddr.ID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, err := a.catalog.Delete(ctx, id)
	if err != nil {
		return backend.Normalize(a.name, err)
	}
	if rec == nil {
		return errdefs.Newf(errdefs.ErrNotFound, "%s backend: image %s", a.name, id)
	}
	if loc, ok := rec.Locator(a.name); ok {
		a.removeOrphan(ctx, loc.Host, loc.Key)
	}
	return nil
}

// ListPage implements backend.Adapter.
func (a *Adapter) ListPage(ctx context.Context, req backend.PageRequest) (backend.Page, error) {
	page, err := a.catalog.List(ctx, req)
	if err != nil {
		return backend.Page{}, backend.Normalize(a.name, err)
	}
	return page, nil
}

// Close implements backend.Adapter.
func (a *Adapter) Close() error { return a.catalog.Close() }
