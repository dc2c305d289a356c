// Package objectstore implements backend.Adapter on S3 compatible object
// storage. The record document is written last and acts as the commit point:
// content without a record is invisible to readers.
//
// Object layout inside the bucket:
//
//	images/<xx>/<yy>/<rest>.<ext>  original bytes
//	meta/<id>.json                 record document
//	hashes/<algorithm>/<hex>       id of the record holding the hash
package objectstore

import (
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// Name is the default backend name.
const Name = "s3"

const (
	imagesPrefix = "images/"
	metaPrefix   = "meta/"
	hashesPrefix = "hashes/"
)

// New returns an adapter storing into bucket.
func New(name string, bucket Bucket) *Adapter {
	if name == "" {
		name = Name
	}
	return &Adapter{name: name, bucket: bucket}
}

// Adapter stores images as objects.
type Adapter struct {
	name   string
	bucket Bucket
}

var _ backend.Adapter = (*Adapter)(nil)

// Name implements backend.Adapter.
func (a *Adapter) Name() string { return a.name }

// Exists implements backend.Adapter.
func (a *Adapter) Exists(ctx context.Context, q backend.Query) (contentaddr.ID, bool, error) {
	rec, err := a.find(ctx, q)
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
	rec, err := a.find(ctx, q)
	if err != nil {
		return nil, backend.Normalize(a.name, err)
	}
	if rec == nil {
		return nil, errdefs.Newf(errdefs.ErrNotFound, "%s backend: no image matches", a.name)
	}
	return rec, nil
}

func (a *Adapter) find(ctx context.Context, q backend.Query) (*backend.Record, error) {
	if q.ID != "" {
		rec, err := a.loadRecord(ctx, q.ID)
		if err != nil || rec != nil {
			return rec, err
		}
	}
	for _, h := range q.Hashes {
		raw, err := a.bucket.GetObject(ctx, hashKey(h))
		if errdefs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rec, err := a.loadRecord(ctx, contentaddr.ID(strings.TrimSpace(string(raw))))
		if err != nil {
			return nil, err
		}
		// index entries may outlive deleted records
		if rec != nil && rec.HasHash(h) {
			return rec, nil
		}
	}
	if q.Filename != "" {
		id, _, err := contentaddr.ParsePath(q.Filename)
		if err != nil {
			return nil, nil //nolint:nilerr // an unparsable filename matches nothing
		}
		rec, err := a.loadRecord(ctx, id)
		if err != nil || rec == nil {
			return nil, err
		}
		if rec.Filename == q.Filename {
			return rec, nil
		}
	}
	return nil, nil
}

func (a *Adapter) loadRecord(ctx context.Context, id contentaddr.ID) (*backend.Record, error) {
	raw, err := a.bucket.GetObject(ctx, metaKey(id))
	if errdefs.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := &backend.Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, errdefs.NewE(errdefs.ErrDataLoss, err)
	}
	return rec, nil
}

func (a *Adapter) storeRecord(ctx context.Context, rec *backend.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.bucket.PutObject(ctx, metaKey(rec.ID), raw, "application/json")
}

// Get implements backend.Adapter.
func (a *Adapter) Get(ctx context.Context, id contentaddr.ID) ([]byte, *backend.Record, error) {
	rec, err := a.loadRecord(ctx, id)
	if err != nil {
		return nil, nil, backend.Normalize(a.name, err)
	}
	if rec == nil {
		return nil, nil, backend.Normalize(a.name, errdefs.Newf(errdefs.ErrNotFound, "image %s", id))
	}
	data, err := a.bucket.GetObject(ctx, a.blobKey(rec))
	if err != nil {
		return nil, nil, backend.Normalize(a.name, err)
	}
	if err := backend.Verify(rec, data); err != nil {
		return nil, nil, backend.Normalize(a.name, err)
	}
	return data, rec, nil
}

func (a *Adapter) blobKey(rec *backend.Record) string {
	if loc, ok := rec.Locator(a.name); ok && loc.Key != "" {
		return loc.Key
	}
	return imagesPrefix + rec.Filename
}

// Put implements backend.Adapter.
func (a *Adapter) Put(ctx context.Context, data []byte, rec *backend.Record) (contentaddr.ID, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	id, err := a.put(ctx, data, rec)
	return id, backend.Normalize(a.name, err)
}

func (a *Adapter) put(ctx context.Context, data []byte, rec *backend.Record) (contentaddr.ID, error) {
	existing, err := a.loadRecord(ctx, rec.ID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := backend.CheckConflict(existing, rec); err != nil {
			return "", err
		}
		key := a.blobKey(existing)
		ok, err := a.bucket.StatObject(ctx, key)
		if err != nil || ok {
			return existing.ID, err
		}
		xlog.C(ctx).Info("repairing missing content", "backend", a.name, "id", existing.ID)
		if err := a.bucket.PutObject(ctx, key, data, existing.MIME); err != nil {
			return "", err
		}
		return existing.ID, a.storeRecord(ctx, existing.WithLocator(a.locator(existing)))
	}

	dup, err := a.find(ctx, backend.ByHash(rec.Hashes...))
	if err != nil {
		return "", err
	}
	if dup != nil {
		return dup.ID, nil
	}

	stored := rec.WithLocator(a.locator(rec))
	if err := a.bucket.PutObject(ctx, imagesPrefix+stored.Filename, data, stored.MIME); err != nil {
		return "", err
	}
	for _, h := range stored.Hashes {
		if err := a.bucket.PutObject(ctx, hashKey(h), []byte(stored.ID), "text/plain"); err != nil {
			return "", err
		}
	}
	if err := a.storeRecord(ctx, stored); err != nil {
		return "", err
	}
	return stored.ID, nil
}

func (a *Adapter) locator(rec *backend.Record) backend.Locator {
	return backend.Locator{Backend: a.name, Key: imagesPrefix + rec.Filename, Host: a.bucket.Location()}
}

// Delete implements backend.Adapter. The record goes first so that a partial
// failure leaves unreachable objects instead of a dangling record.
func (a *Adapter) Delete(ctx context.Context, id contentaddr.ID) error {
	rec, err := a.loadRecord(ctx, id)
	if err != nil {
		return backend.Normalize(a.name, err)
	}
	if rec == nil {
		return backend.Normalize(a.name, errdefs.Newf(errdefs.ErrNotFound, "image %s", id))
	}
	if err := a.bucket.RemoveObject(ctx, metaKey(id)); err != nil {
		return backend.Normalize(a.name, err)
	}
	if err := a.bucket.RemoveObject(ctx, a.blobKey(rec)); err != nil {
		return backend.Normalize(a.name, err)
	}
	for _, h := range rec.Hashes {
		raw, err := a.bucket.GetObject(ctx, hashKey(h))
		if err != nil || contentaddr.ID(raw) != id {
			continue
		}
		if err := a.bucket.RemoveObject(ctx, hashKey(h)); err != nil {
			return backend.Normalize(a.name, err)
		}
	}
	return nil
}

// ListPage implements backend.Adapter by loading every record document. It
// is linear in the number of stored images.
func (a *Adapter) ListPage(ctx context.Context, req backend.PageRequest) (backend.Page, error) {
	keys, err := a.bucket.ListObjects(ctx, metaPrefix)
	if err != nil {
		return backend.Page{}, backend.Normalize(a.name, err)
	}
	records := make([]*backend.Record, 0, len(keys))
	for _, key := range keys {
		id := contentaddr.ID(strings.TrimSuffix(path.Base(key), ".json"))
		rec, err := a.loadRecord(ctx, id)
		if err != nil {
			return backend.Page{}, backend.Normalize(a.name, err)
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return backend.Paginate(records, req), nil
}

// Close implements backend.Adapter.
func (a *Adapter) Close() error { return nil }

func metaKey(id contentaddr.ID) string {
	return metaPrefix + string(id) + ".json"
}

func hashKey(d digest.Digest) string {
	return hashesPrefix + d.Algorithm().String() + "/" + d.Encoded()
}
