package seaweedfs_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/backend/backendtest"
	"github.com/wuxler/imgvault/pkg/backend/seaweedfs"
	"github.com/wuxler/imgvault/pkg/errdefs"
)

// fakeCluster serves the master and a single volume server from one
// httptest.Server.
type fakeCluster struct {
	*httptest.Server

	mu         sync.Mutex
	seq        int
	files      map[string][]byte
	failAssign bool
	failUpload bool
}

func newFakeCluster(t *testing.T) *fakeCluster {
	t.Helper()
	fc := &fakeCluster{files: map[string][]byte{}}
	fc.Server = httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(fc.Close)
	return fc
}

func (fc *fakeCluster) host() string {
	u, _ := url.Parse(fc.URL)
	return u.Host
}

func (fc *fakeCluster) count() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.files)
}

func (fc *fakeCluster) serve(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	switch {
	case r.URL.Path == "/dir/assign":
		if fc.failAssign {
			http.Error(w, "no free volumes", http.StatusServiceUnavailable)
			return
		}
		fc.seq++
		_ = json.NewEncoder(w).Encode(seaweedfs.Assignment{
			FID: fmt.Sprintf("3,%08x", fc.seq), URL: fc.host(), PublicURL: fc.host(), Count: 1,
		})
	case r.URL.Path == "/dir/lookup":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"volumeId":  r.URL.Query().Get("volumeId"),
			"locations": []map[string]string{{"url": fc.host(), "publicUrl": fc.host()}},
		})
	default:
		fid := strings.TrimPrefix(r.URL.Path, "/")
		switch r.Method {
		case http.MethodPost:
			if fc.failUpload {
				http.Error(w, "volume is read only", http.StatusInternalServerError)
				return
			}
			file, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)
			fc.files[fid] = data
			w.WriteHeader(http.StatusCreated)
			_, _ = fmt.Fprintf(w, `{"size":%d}`, len(data))
		case http.MethodGet:
			data, ok := fc.files[fid]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
		case http.MethodDelete:
			if _, ok := fc.files[fid]; !ok {
				http.NotFound(w, r)
				return
			}
			delete(fc.files, fid)
			w.WriteHeader(http.StatusAccepted)
		}
	}
}

func openAdapter(t *testing.T, fc *fakeCluster) *seaweedfs.Adapter {
	t.Helper()
	a, err := seaweedfs.Open(context.Background(), seaweedfs.Options{
		Master:  fc.URL,
		Catalog: filepath.Join(t.TempDir(), "catalog.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAdapter(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Adapter {
		return openAdapter(t, newFakeCluster(t))
	})
}

func TestAdapter_Locator(t *testing.T) {
	fc := newFakeCluster(t)
	a := openAdapter(t, fc)
	ctx := context.Background()

	data := []byte("seaweed payload")
	rec := backendtest.NewRecord(t, data, time.Now())
	_, err := a.Put(ctx, data, rec)
	require.NoError(t, err)

	_, got, err := a.Get(ctx, rec.ID)
	require.NoError(t, err)
	loc, ok := got.Locator(seaweedfs.Name)
	require.True(t, ok)
	assert.Equal(t, "3,00000001", loc.Key)
	assert.Equal(t, fc.host(), loc.Host)
	assert.Equal(t, 1, fc.count())
}

func TestAdapter_NoOrphanOnDuplicate(t *testing.T) {
	fc := newFakeCluster(t)
	a := openAdapter(t, fc)
	ctx := context.Background()

	data := []byte("stored twice")
	rec := backendtest.NewRecord(t, data, time.Now())
	for i := 0; i < 3; i++ {
		_, err := a.Put(ctx, data, rec.Clone())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fc.count())

	require.NoError(t, a.Delete(ctx, rec.ID))
	assert.Equal(t, 0, fc.count())
}

func TestAdapter_Unavailable(t *testing.T) {
	testcases := []struct {
		name  string
		setup func(fc *fakeCluster)
	}{
		{"assign", func(fc *fakeCluster) { fc.failAssign = true }},
		{"upload", func(fc *fakeCluster) { fc.failUpload = true }},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			fc := newFakeCluster(t)
			tc.setup(fc)
			a := openAdapter(t, fc)
			ctx := context.Background()

			data := []byte("never stored")
			rec := backendtest.NewRecord(t, data, time.Now())
			_, err := a.Put(ctx, data, rec)
			require.Error(t, err)
			assert.ErrorIs(t, err, errdefs.ErrUnavailable)
			assert.True(t, errdefs.IsRetryable(err))

			_, ok, err := a.Exists(ctx, backend.ByID(rec.ID))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestAdapter_ClusterDown(t *testing.T) {
	fc := newFakeCluster(t)
	a := openAdapter(t, fc)
	fc.Close()

	data := []byte("cluster down")
	_, err := a.Put(context.Background(), data, backendtest.NewRecord(t, data, time.Now()))
	assert.ErrorIs(t, err, errdefs.ErrUnavailable)
}

func TestAdapter_DataLoss(t *testing.T) {
	fc := newFakeCluster(t)
	a := openAdapter(t, fc)
	ctx := context.Background()

	data := []byte("will be corrupted")
	rec := backendtest.NewRecord(t, data, time.Now())
	_, err := a.Put(ctx, data, rec)
	require.NoError(t, err)

	fc.mu.Lock()
	fc.files["3,00000001"] = []byte("garbage")
	fc.mu.Unlock()

	_, _, err = a.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, errdefs.ErrDataLoss)
}

func TestOpen_InvalidOptions(t *testing.T) {
	_, err := seaweedfs.Open(context.Background(), seaweedfs.Options{Master: "localhost:9333"})
	assert.ErrorIs(t, err, errdefs.ErrInvalidParameter)
}
