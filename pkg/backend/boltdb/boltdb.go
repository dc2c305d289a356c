// Package boltdb implements a document oriented backend.Adapter on top of an
// embedded bbolt database. Records are JSON documents, bytes live in a
// separate bucket and secondary indexes map hashes, filenames and creation
// times back to ids. Every write happens in a single transaction.
package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xcontext"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// Name is the default backend name.
const Name = "boltdb"

var (
	bucketRecords   = []byte("records")
	bucketBlobs     = []byte("blobs")
	bucketHashes    = []byte("hashes")
	bucketFilenames = []byte("filenames")
	bucketCreated   = []byte("created")

	allBuckets = [][]byte{bucketRecords, bucketBlobs, bucketHashes, bucketFilenames, bucketCreated}
)

// Options configures Open.
type Options struct {
	// Name overrides the backend name recorded in locators.
	Name string
	// Timeout is how long Open waits for the file lock.
	Timeout time.Duration
}

// Adapter stores images in a bbolt database file.
type Adapter struct {
	name string
	db   *bolt.DB
}

var _ backend.Adapter = (*Adapter)(nil)

// Open opens or creates the database at path.
func Open(ctx context.Context, path string, opts Options) (*Adapter, error) {
	name := opts.Name
	if name == "" {
		name = Name
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second //nolint:mnd // default lock wait
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, normalize(name, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, normalize(name, err)
	}
	xlog.C(ctx).Debug("opened bolt backend", "backend", name, "path", path)
	return &Adapter{name: name, db: db}, nil
}

// Name implements backend.Adapter.
func (a *Adapter) Name() string { return a.name }

// Exists implements backend.Adapter.
func (a *Adapter) Exists(ctx context.Context, q backend.Query) (contentaddr.ID, bool, error) {
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return "", false, normalize(a.name, err)
	}
	var (
		found contentaddr.ID
		ok    bool
	)
	err := a.db.View(func(tx *bolt.Tx) error {
		rec, err := find(tx, q)
		if err != nil || rec == nil {
			return err
		}
		found, ok = rec.ID, true
		return nil
	})
	if err != nil {
		return "", false, normalize(a.name, err)
	}
	return found, ok, nil
}

// Lookup implements backend.Adapter.
func (a *Adapter) Lookup(ctx context.Context, q backend.Query) (*backend.Record, error) {
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return nil, normalize(a.name, err)
	}
	var rec *backend.Record
	err := a.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = find(tx, q)
		return err
	})
	if err != nil {
		return nil, normalize(a.name, err)
	}
	if rec == nil {
		return nil, errdefs.Newf(errdefs.ErrNotFound, "%s backend: no image matches", a.name)
	}
	return rec, nil
}

// Get implements backend.Adapter.
func (a *Adapter) Get(ctx context.Context, id contentaddr.ID) ([]byte, *backend.Record, error) {
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return nil, nil, normalize(a.name, err)
	}
	var (
		data []byte
		rec  *backend.Record
	)
	err := a.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return errdefs.Newf(errdefs.ErrNotFound, "image %s", id)
		}
		blob := tx.Bucket(bucketBlobs).Get([]byte(id))
		if blob == nil {
			return errdefs.Newf(errdefs.ErrNotFound, "content of %s", id)
		}
		// bolt owned memory is only valid inside the transaction
		data = append([]byte(nil), blob...)
		return nil
	})
	if err != nil {
		return nil, nil, normalize(a.name, err)
	}
	if err := backend.Verify(rec, data); err != nil {
		return nil, nil, normalize(a.name, err)
	}
	return data, rec, nil
}

// Put implements backend.Adapter.
func (a *Adapter) Put(ctx context.Context, data []byte, rec *backend.Record) (contentaddr.ID, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return "", normalize(a.name, err)
	}
	var id contentaddr.ID
	err := a.db.Update(func(tx *bolt.Tx) error {
		blobs := tx.Bucket(bucketBlobs)

		existing, err := getRecord(tx, rec.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := backend.CheckConflict(existing, rec); err != nil {
				return err
			}
			id = existing.ID
			if blobs.Get([]byte(existing.ID)) != nil {
				return nil
			}
			xlog.C(ctx).Info("repairing missing content", "backend", a.name, "id", existing.ID)
			if err := blobs.Put([]byte(existing.ID), data); err != nil {
				return err
			}
			return putRecord(tx, existing.WithLocator(a.locator(existing)))
		}

		if dup, err := find(tx, backend.ByHash(rec.Hashes...)); err != nil || dup != nil {
			if dup != nil {
				id = dup.ID
			}
			return err
		}

		stored := rec.WithLocator(a.locator(rec))
		if err := blobs.Put([]byte(stored.ID), data); err != nil {
			return err
		}
		if err := putRecord(tx, stored); err != nil {
			return err
		}
		for _, h := range stored.Hashes {
			if err := tx.Bucket(bucketHashes).Put([]byte(h), []byte(stored.ID)); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketFilenames).Put([]byte(stored.Filename), []byte(stored.ID)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketCreated).Put(createdKey(stored), nil); err != nil {
			return err
		}
		id = stored.ID
		return nil
	})
	if err != nil {
		return "", normalize(a.name, err)
	}
	return id, nil
}

func (a *Adapter) locator(rec *backend.Record) backend.Locator {
	return backend.Locator{Backend: a.name, Key: string(bucketBlobs) + "/" + string(rec.ID), Host: a.db.Path()}
}

// Delete implements backend.Adapter.
func (a *Adapter) Delete(ctx context.Context, id contentaddr.ID) error {
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return normalize(a.name, err)
	}
	err := a.db.Update(func(tx *bolt.Tx) error {
		rec, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return errdefs.Newf(errdefs.ErrNotFound, "image %s", id)
		}
		hashes := tx.Bucket(bucketHashes)
		for _, h := range rec.Hashes {
			if string(hashes.Get([]byte(h))) == string(id) {
				if err := hashes.Delete([]byte(h)); err != nil {
					return err
				}
			}
		}
		filenames := tx.Bucket(bucketFilenames)
		if string(filenames.Get([]byte(rec.Filename))) == string(id) {
			if err := filenames.Delete([]byte(rec.Filename)); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketCreated).Delete(createdKey(rec)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketBlobs).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketRecords).Delete([]byte(id))
	})
	return normalize(a.name, err)
}

// ListPage implements backend.Adapter.
func (a *Adapter) ListPage(ctx context.Context, req backend.PageRequest) (backend.Page, error) {
	if err := xcontext.NonBlockingCheck(ctx); err != nil {
		return backend.Page{}, normalize(a.name, err)
	}
	req = req.Normalized()
	page := backend.Page{Records: []*backend.Record{}}
	err := a.db.View(func(tx *bolt.Tx) error {
		created := tx.Bucket(bucketCreated)
		page.Total = created.Stats().KeyN

		c := created.Cursor()
		first, next := c.First, c.Next
		if req.Sort == backend.SortNewestFirst {
			first, next = c.Last, c.Prev
		}
		skipped := 0
		for k, _ := first(); k != nil && len(page.Records) < req.Limit; k, _ = next() {
			if skipped < req.Offset {
				skipped++
				continue
			}
			rec, err := getRecord(tx, contentaddr.ID(k[createdPrefixLen:]))
			if err != nil {
				return err
			}
			if rec != nil {
				page.Records = append(page.Records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return backend.Page{}, normalize(a.name, err)
	}
	return page, nil
}

// Close implements backend.Adapter.
func (a *Adapter) Close() error {
	return a.db.Close()
}

func getRecord(tx *bolt.Tx, id contentaddr.ID) (*backend.Record, error) {
	raw := tx.Bucket(bucketRecords).Get([]byte(id))
	if raw == nil {
		return nil, nil
	}
	rec := &backend.Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, errdefs.NewE(errdefs.ErrDataLoss, err)
	}
	return rec, nil
}

func putRecord(tx *bolt.Tx, rec *backend.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketRecords).Put([]byte(rec.ID), raw)
}

func find(tx *bolt.Tx, q backend.Query) (*backend.Record, error) {
	if q.ID != "" {
		rec, err := getRecord(tx, q.ID)
		if err != nil || rec != nil {
			return rec, err
		}
	}
	hashes := tx.Bucket(bucketHashes)
	for _, h := range q.Hashes {
		if id := hashes.Get([]byte(h)); id != nil {
			rec, err := getRecord(tx, contentaddr.ID(id))
			if err != nil || rec != nil {
				return rec, err
			}
		}
	}
	if q.Filename != "" {
		if id := tx.Bucket(bucketFilenames).Get([]byte(q.Filename)); id != nil {
			return getRecord(tx, contentaddr.ID(id))
		}
	}
	return nil, nil
}

// createdPrefixLen is the size of the sortable time prefix of created keys.
const createdPrefixLen = 12

// createdKey orders records by creation time, then by id. The sign bit of
// the seconds is flipped so that byte order matches numeric order.
func createdKey(rec *backend.Record) []byte {
	key := make([]byte, createdPrefixLen, createdPrefixLen+len(rec.ID))
	binary.BigEndian.PutUint64(key[0:8], uint64(rec.CreatedAt.Unix())^(1<<63)) //nolint:gosec // bit reinterpretation
	binary.BigEndian.PutUint32(key[8:12], uint32(rec.CreatedAt.Nanosecond()))  //nolint:gosec // always < 1e9
	return append(key, rec.ID...)
}

func normalize(name string, err error) error {
	if errors.Is(err, bolt.ErrTimeout) || errors.Is(err, bolt.ErrDatabaseNotOpen) {
		err = errdefs.NewE(errdefs.ErrUnavailable, err)
	}
	return backend.Normalize(name, err)
}
