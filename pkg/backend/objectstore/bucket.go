package objectstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xcontext"
	"github.com/wuxler/imgvault/pkg/util/xfs"
)

// Bucket is the subset of an object store API the adapter relies on. Keys
// are slash separated.
type Bucket interface {
	// Location describes where the bucket lives, recorded as locator host.
	Location() string
	// PutObject writes data under key, replacing any previous object.
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	// GetObject returns the object content or an error wrapping
	// errdefs.ErrNotFound.
	GetObject(ctx context.Context, key string) ([]byte, error)
	// StatObject reports whether key exists.
	StatObject(ctx context.Context, key string) (bool, error)
	// RemoveObject deletes key. Missing keys are not an error.
	RemoveObject(ctx context.Context, key string) error
	// ListObjects returns all keys below prefix in lexical order.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// NewFsBucket returns a Bucket storing objects as files on fsys.
func NewFsBucket(fsys afero.Fs, location string) Bucket {
	return &fsBucket{fs: fsys, location: location}
}

type fsBucket struct {
	fs       afero.Fs
	location string
}

func (b *fsBucket) Location() string { return b.location }

// PutObject writes to a temporary sibling and renames it into place so that
// readers never see a partial object.
func (b *fsBucket) PutObject(ctx context.Context, key string, data []byte, _ string) error {
	if err := xcontext.NonBlockingCheck(ctx, "put object"); err != nil {
		return err
	}
	return xfs.WriteFileAtomic(b.fs, filepath.FromSlash(key), data, 0o644)
}

func (b *fsBucket) GetObject(ctx context.Context, key string) ([]byte, error) {
	if err := xcontext.NonBlockingCheck(ctx, "get object"); err != nil {
		return nil, err
	}
	data, ok, err := xfs.ReadFileIfExists(b.fs, filepath.FromSlash(key))
	if err == nil && !ok {
		return nil, errdefs.Newf(errdefs.ErrNotFound, "object %s", key)
	}
	return data, err
}

func (b *fsBucket) StatObject(ctx context.Context, key string) (bool, error) {
	if err := xcontext.NonBlockingCheck(ctx, "stat object"); err != nil {
		return false, err
	}
	return afero.Exists(b.fs, filepath.FromSlash(key))
}

func (b *fsBucket) RemoveObject(ctx context.Context, key string) error {
	if err := xcontext.NonBlockingCheck(ctx, "remove object"); err != nil {
		return err
	}
	err := b.fs.Remove(filepath.FromSlash(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (b *fsBucket) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	root := filepath.FromSlash(strings.TrimSuffix(prefix, "/"))
	if ok, err := afero.DirExists(b.fs, root); err != nil || !ok {
		return nil, err
	}
	var keys []string
	err := afero.Walk(b.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := xcontext.NonBlockingCheck(ctx, "list objects"); err != nil {
			return err
		}
		if info.IsDir() || xfs.IsTemp(info.Name()) {
			return nil
		}
		keys = append(keys, path.Clean(filepath.ToSlash(p)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
