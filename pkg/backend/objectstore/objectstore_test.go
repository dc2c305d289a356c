package objectstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/backend/backendtest"
	"github.com/wuxler/imgvault/pkg/backend/objectstore"
	"github.com/wuxler/imgvault/pkg/errdefs"
)

func TestAdapter_MemFs(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Adapter {
		return objectstore.New("", objectstore.NewFsBucket(afero.NewMemMapFs(), "mem"))
	})
}

func TestAdapter_OsFs(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Adapter {
		dir := t.TempDir()
		fsys := afero.NewBasePathFs(afero.NewOsFs(), dir)
		return objectstore.New("file", objectstore.NewFsBucket(fsys, dir))
	})
}

func TestAdapter_OrphanContentIsInvisible(t *testing.T) {
	ctx := context.Background()
	bucket := objectstore.NewFsBucket(afero.NewMemMapFs(), "mem")
	a := objectstore.New("", bucket)

	data := []byte("half written payload")
	rec := backendtest.NewRecord(t, data, time.Now())

	// simulate a crash between writing the content and the record
	require.NoError(t, bucket.PutObject(ctx, "images/"+rec.Filename, data, "image/png"))

	_, ok, err := a.Exists(ctx, backend.Query{ID: rec.ID, Hashes: rec.Hashes, Filename: rec.Filename})
	require.NoError(t, err)
	assert.False(t, ok)
	_, _, err = a.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	id, err := a.Put(ctx, data, rec)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, id)
	got, _, err := a.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestAdapter_RepairsMissingContent(t *testing.T) {
	ctx := context.Background()
	bucket := objectstore.NewFsBucket(afero.NewMemMapFs(), "mem")
	a := objectstore.New("", bucket)

	data := []byte("lost payload")
	rec := backendtest.NewRecord(t, data, time.Now())
	_, err := a.Put(ctx, data, rec)
	require.NoError(t, err)

	require.NoError(t, bucket.RemoveObject(ctx, "images/"+rec.Filename))
	_, _, err = a.Get(ctx, rec.ID)
	require.ErrorIs(t, err, errdefs.ErrNotFound)

	_, err = a.Put(ctx, data, rec)
	require.NoError(t, err)
	got, _, err := a.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFsBucket(t *testing.T) {
	ctx := context.Background()
	b := objectstore.NewFsBucket(afero.NewMemMapFs(), "mem")
	assert.Equal(t, "mem", b.Location())

	require.NoError(t, b.PutObject(ctx, "a/b/c.txt", []byte("1"), ""))
	require.NoError(t, b.PutObject(ctx, "a/d.txt", []byte("2"), ""))
	require.NoError(t, b.PutObject(ctx, "a/d.txt", []byte("3"), ""))

	got, err := b.GetObject(ctx, "a/d.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)

	keys, err := b.ListObjects(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/c.txt", "a/d.txt"}, keys)

	keys, err = b.ListObjects(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	ok, err := b.StatObject(ctx, "a/b/c.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.RemoveObject(ctx, "a/b/c.txt"))
	require.NoError(t, b.RemoveObject(ctx, "a/b/c.txt"))
	_, err = b.GetObject(ctx, "a/b/c.txt")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}
