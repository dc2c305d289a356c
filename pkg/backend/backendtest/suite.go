// Package backendtest provides a conformance suite every backend.Adapter
// implementation runs in its tests.
package backendtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
)

// Factory creates a fresh empty adapter for one test.
type Factory func(t *testing.T) backend.Adapter

var (
	addresser = contentaddr.Addresser{Algorithm: digest.SHA256, SaltWithSize: true}
	epoch     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

// NewRecord builds a valid record for data whose id is derived from data.
func NewRecord(t *testing.T, data []byte, createdAt time.Time) *backend.Record {
	t.Helper()
	d, id, err := addresser.IDFor(data)
	require.NoError(t, err)
	filename, err := contentaddr.ToPath(id, "png")
	require.NoError(t, err)
	return &backend.Record{
		ID:        id,
		Filename:  filename,
		Hashes:    []digest.Digest{d},
		MIME:      "image/png",
		Size:      int64(len(data)),
		Width:     1,
		Height:    1,
		CreatedAt: createdAt,
	}
}

// Run executes the conformance suite against adapters built by newAdapter.
func Run(t *testing.T, newAdapter Factory) {
	t.Run("PutGetExists", func(t *testing.T) { testPutGetExists(t, newAdapter(t)) })
	t.Run("PutIdempotent", func(t *testing.T) { testPutIdempotent(t, newAdapter(t)) })
	t.Run("PutDedupByHash", func(t *testing.T) { testPutDedupByHash(t, newAdapter(t)) })
	t.Run("PutConflict", func(t *testing.T) { testPutConflict(t, newAdapter(t)) })
	t.Run("PutInvalidRecord", func(t *testing.T) { testPutInvalidRecord(t, newAdapter(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newAdapter(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newAdapter(t)) })
	t.Run("ListPage", func(t *testing.T) { testListPage(t, newAdapter(t)) })
	t.Run("ConcurrentPut", func(t *testing.T) { testConcurrentPut(t, newAdapter(t)) })
}

func testPutGetExists(t *testing.T, a backend.Adapter) {
	ctx := context.Background()
	data := []byte("first image payload")
	rec := NewRecord(t, data, epoch)
	rec.DisplayName = "first.png"

	id, err := a.Put(ctx, data, rec)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, id)

	testcases := []struct {
		name  string
		query backend.Query
	}{
		{"by id", backend.ByID(rec.ID)},
		{"by hash", backend.ByHash(rec.Hashes...)},
		{"by filename", backend.ByFilename(rec.Filename)},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := a.Exists(ctx, tc.query)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, rec.ID, got)
		})
	}

	_, ok, err := a.Exists(ctx, backend.ByHash(addresser.Hash([]byte("other"))))
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := a.Lookup(ctx, backend.ByHash(rec.Hashes...))
	require.NoError(t, err)
	assert.Equal(t, rec.Filename, found.Filename)
	_, err = a.Lookup(ctx, backend.ByFilename("ZZ/ZZ/ZZZZZZ.png"))
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	gotData, gotRec, err := a.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, gotData)
	assert.Equal(t, rec.ID, gotRec.ID)
	assert.Equal(t, rec.Filename, gotRec.Filename)
	assert.Equal(t, rec.Hashes, gotRec.Hashes)
	assert.Equal(t, rec.DisplayName, gotRec.DisplayName)
	assert.Equal(t, rec.Size, gotRec.Size)
	assert.True(t, rec.CreatedAt.Equal(gotRec.CreatedAt))
	loc, ok := gotRec.Locator(a.Name())
	assert.True(t, ok, "record carries a locator of %s", a.Name())
	assert.NotEmpty(t, loc.Key)
}

func testPutIdempotent(t *testing.T, a backend.Adapter) {
	ctx := context.Background()
	data := []byte("idempotent payload")
	rec := NewRecord(t, data, epoch)

	for i := 0; i < 3; i++ {
		id, err := a.Put(ctx, data, rec.Clone())
		require.NoError(t, err)
		assert.Equal(t, rec.ID, id)
	}
	page, err := a.ListPage(ctx, backend.PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func testPutDedupByHash(t *testing.T, a backend.Adapter) {
	ctx := context.Background()
	data := []byte("dedup payload")
	rec := NewRecord(t, data, epoch)
	_, err := a.Put(ctx, data, rec)
	require.NoError(t, err)

	// same content asserted under another id resolves to the existing one
	other := rec.Clone()
	other.ID = "ZZZZZZZZZZ"
	other.Filename = "ZZ/ZZ/ZZZZZZ.png"
	id, err := a.Put(ctx, data, other)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, id)

	_, ok, err := a.Exists(ctx, backend.ByID(other.ID))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testPutConflict(t *testing.T, a backend.Adapter) {
	ctx := context.Background()
	data := []byte("original payload")
	rec := NewRecord(t, data, epoch)
	_, err := a.Put(ctx, data, rec)
	require.NoError(t, err)

	intruder := NewRecord(t, []byte("different payload"), epoch)
	intruder.ID = rec.ID
	intruder.Filename = rec.Filename
	_, err = a.Put(ctx, []byte("different payload"), intruder)
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	gotData, gotRec, err := a.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, data, gotData)
	assert.Equal(t, rec.Hashes, gotRec.Hashes)
}

func testPutInvalidRecord(t *testing.T, a backend.Adapter) {
	ctx := context.Background()
	rec := NewRecord(t, []byte("x"), epoch)
	rec.Hashes = nil
	_, err := a.Put(ctx, []byte("x"), rec)
	assert.ErrorIs(t, err, errdefs.ErrInvalidParameter)
}

func testGetNotFound(t *testing.T, a backend.Adapter) {
	_, _, err := a.Get(context.Background(), "NotThere1")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func testDelete(t *testing.T, a backend.Adapter) {
	ctx := context.Background()
	data := []byte("short lived payload")
	rec := NewRecord(t, data, epoch)
	_, err := a.Put(ctx, data, rec)
	require.NoError(t, err)

	require.NoError(t, a.Delete(ctx, rec.ID))

	_, _, err = a.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	_, ok, err := a.Exists(ctx, backend.Query{ID: rec.ID, Hashes: rec.Hashes, Filename: rec.Filename})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, a.Delete(ctx, rec.ID), errdefs.ErrNotFound)

	// the content can be stored again after deletion
	id, err := a.Put(ctx, data, rec)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, id)
}

func testListPage(t *testing.T, a backend.Adapter) {
	ctx := context.Background()
	var ids []contentaddr.ID
	for i := 0; i < 5; i++ {
		data := []byte(fmt.Sprintf("listed payload %d", i))
		rec := NewRecord(t, data, epoch.Add(time.Duration(i)*time.Minute))
		_, err := a.Put(ctx, data, rec)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	page, err := a.ListPage(ctx, backend.PageRequest{Limit: 2, Offset: 1, Sort: backend.SortOldestFirst})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Records, 2)
	assert.Equal(t, ids[1], page.Records[0].ID)
	assert.Equal(t, ids[2], page.Records[1].ID)

	page, err = a.ListPage(ctx, backend.PageRequest{Limit: 2, Sort: backend.SortNewestFirst})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, ids[4], page.Records[0].ID)
	assert.Equal(t, ids[3], page.Records[1].ID)

	page, err = a.ListPage(ctx, backend.PageRequest{Limit: 10, Offset: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Empty(t, page.Records)
}

func testConcurrentPut(t *testing.T, a backend.Adapter) {
	ctx := context.Background()
	data := []byte("raced payload")
	rec := NewRecord(t, data, epoch)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = a.Put(ctx, data, rec.Clone())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	page, err := a.ListPage(ctx, backend.PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}
