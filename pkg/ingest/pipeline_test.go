package ingest_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/backend/memory"
	"github.com/wuxler/imgvault/pkg/backend/mocks"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/imgproc"
	"github.com/wuxler/imgvault/pkg/ingest"
	"github.com/wuxler/imgvault/pkg/util/xio"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type countingAdapter struct {
	backend.Adapter
	puts atomic.Int32
}

func (c *countingAdapter) Put(ctx context.Context, data []byte, rec *backend.Record) (contentaddr.ID, error) {
	c.puts.Add(1)
	return c.Adapter.Put(ctx, data, rec)
}

func newPipeline(t *testing.T, policy ingest.Policy, opts ...ingest.Option) (*ingest.Pipeline, *countingAdapter) {
	t.Helper()
	adapter := &countingAdapter{Adapter: memory.New("")}
	mock := clock.NewMock()
	mock.Set(epoch)
	p, err := ingest.New(adapter, policy, append([]ingest.Option{ingest.WithClock(mock)}, opts...)...)
	require.NoError(t, err)
	return p, adapter
}

func gradient(w, h int) image.Image {
	img := imaging.New(w, h, color.NRGBA{A: 255})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func encode(t *testing.T, img image.Image, format imaging.Format, quality int) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, imaging.Encode(buf, img, format, imaging.JPEGQuality(quality)))
	return buf.Bytes()
}

func TestPolicy_Validate(t *testing.T) {
	testcases := []struct {
		name    string
		mutate  func(p *ingest.Policy)
		wantErr bool
	}{
		{name: "default", mutate: func(*ingest.Policy) {}},
		{name: "negative bytes", mutate: func(p *ingest.Policy) { p.MaxBytes = -1 }, wantErr: true},
		{name: "quality out of range", mutate: func(p *ingest.Policy) { p.MaxQuality = 101 }, wantErr: true},
		{name: "min above max", mutate: func(p *ingest.Policy) { p.MinQuality = 95 }, wantErr: true},
		{name: "unbounded dimensions", mutate: func(p *ingest.Policy) { p.MaxWidth, p.MaxHeight = 0, 0 }},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			p := ingest.DefaultPolicy()
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, errdefs.ErrInvalidParameter)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPolicy_Ceiling(t *testing.T) {
	p := ingest.Policy{MaxBytes: 1000, MinQuality: 60, MaxQuality: 90}
	testcases := []struct {
		size int64
		want int
	}{
		{size: 500, want: 90},
		{size: 1000, want: 90},
		{size: 1200, want: 75},
		{size: 1400, want: 64},
		{size: 5000, want: 60},
	}
	for _, tc := range testcases {
		assert.Equal(t, tc.want, p.Ceiling(tc.size), "size %d", tc.size)
	}
	assert.Equal(t, 90, ingest.Policy{MinQuality: 60, MaxQuality: 90}.Ceiling(1<<30))
}

// The large upload scenario at a tenth of the size: a 500x500 JPEG with a
// 192 pixel bound.
func TestStore_ScalesDownAndDedups(t *testing.T) {
	policy := ingest.DefaultPolicy()
	policy.MaxWidth, policy.MaxHeight = 192, 192
	p, adapter := newPipeline(t, policy)
	ctx := context.Background()

	original := encode(t, gradient(500, 500), imaging.JPEG, 90)
	first, err := p.Store(ctx, original, ingest.StoreOptions{DisplayName: "big.jpg"})
	require.NoError(t, err)
	assert.False(t, first.Existed)
	assert.True(t, strings.HasSuffix(first.Path, ".jpg"))

	second, err := p.Store(ctx, original, ingest.StoreOptions{})
	require.NoError(t, err)
	assert.True(t, second.Existed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Path, second.Path)
	assert.EqualValues(t, 1, adapter.puts.Load())

	data, rec, err := adapter.Get(ctx, first.ID)
	require.NoError(t, err)
	info, err := imgproc.New().Decode(ctx, data)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Width, 192)
	assert.LessOrEqual(t, info.Height, 192)
	assert.Equal(t, info.Width, rec.Width)
	assert.Equal(t, "big.jpg", rec.DisplayName)
	assert.True(t, rec.CreatedAt.Equal(epoch))

	require.GreaterOrEqual(t, len(rec.Hashes), 2)
	assert.Equal(t, digest.SHA256.FromBytes(original), rec.Hashes[0])
	assert.Equal(t, digest.SHA256.FromBytes(data), rec.Digest())
	id, err := p.Addresser().Encode(rec.Digest(), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, id, first.ID)
}

func TestStore_PolicyRejections(t *testing.T) {
	img := encode(t, gradient(300, 200), imaging.PNG, 0)
	testcases := []struct {
		name   string
		policy ingest.Policy
	}{
		{
			name:   "bytes over limit",
			policy: ingest.Policy{MaxBytes: xio.ByteSize(len(img) - 1), MinQuality: 60, MaxQuality: 90},
		},
		{
			name:   "dimensions over limit",
			policy: ingest.Policy{MaxWidth: 100, MaxHeight: 100, MinQuality: 60, MaxQuality: 90},
		},
		{
			name: "lossless still too large after auto scale",
			policy: ingest.Policy{
				MaxBytes: 64, MaxWidth: 1000, MaxHeight: 1000, AutoScale: true,
				MinQuality: 60, MaxQuality: 90,
			},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			p, adapter := newPipeline(t, tc.policy)
			_, err := p.Store(context.Background(), img, ingest.StoreOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, errdefs.ErrTooLarge)
			assert.Contains(t, err.Error(), "limit")
			assert.Zero(t, adapter.puts.Load())
		})
	}
}

func TestStore_UnsupportedFormat(t *testing.T) {
	ctrl := gomock.NewController(t)
	// no expectations: any backend call fails the test
	adapter := mocks.NewMockAdapter(ctrl)
	p, err := ingest.New(adapter, ingest.DefaultPolicy())
	require.NoError(t, err)

	for _, data := range [][]byte{nil, []byte("plain text"), []byte("%PDF-1.4 not an image")} {
		_, err := p.Store(context.Background(), data, ingest.StoreOptions{ContentType: "image/png"})
		assert.ErrorIs(t, err, imgproc.ErrUnsupportedFormat)
		assert.ErrorIs(t, err, errdefs.ErrInvalidParameter)
	}
}

func TestStore_BackendUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockAdapter(ctrl)
	unavailable := errdefs.Newf(errdefs.ErrUnavailable, "mock backend: connection refused")
	adapter.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, errdefs.Newf(errdefs.ErrNotFound, "none"))
	adapter.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).Return(contentaddr.ID(""), unavailable)

	p, err := ingest.New(adapter, ingest.DefaultPolicy())
	require.NoError(t, err)
	_, err = p.Store(context.Background(), encode(t, gradient(20, 20), imaging.PNG, 0), ingest.StoreOptions{})
	assert.True(t, errdefs.IsRetryable(err))
}

func TestStore_RecompressesHighQualityJPEG(t *testing.T) {
	policy := ingest.Policy{MinQuality: 50, MaxQuality: 75}
	p, adapter := newPipeline(t, policy)
	ctx := context.Background()

	original := encode(t, gradient(64, 64), imaging.JPEG, 95)
	res, err := p.Store(ctx, original, ingest.StoreOptions{})
	require.NoError(t, err)

	data, rec, err := adapter.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, imgproc.EstimateJPEGQuality(data))
	assert.Equal(t, 75, rec.Quality)
	assert.Len(t, rec.Hashes, 2)
}

func TestStore_PreferLossy(t *testing.T) {
	policy := ingest.Policy{MinQuality: 60, MaxQuality: 80, PreferLossy: true}
	p, adapter := newPipeline(t, policy)
	ctx := context.Background()

	res, err := p.Store(ctx, encode(t, gradient(40, 30), imaging.PNG, 0), ingest.StoreOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Path, ".jpg"), res.Path)

	_, rec, err := adapter.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", rec.MIME)
	assert.Equal(t, 40, rec.Width)
	assert.Len(t, rec.Hashes, 2)

	// gif is never converted
	res, err = p.Store(ctx, encode(t, gradient(8, 8), imaging.GIF, 0), ingest.StoreOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Path, ".gif"), res.Path)
}

func TestStore_ForcedID(t *testing.T) {
	p, adapter := newPipeline(t, ingest.DefaultPolicy())
	ctx := context.Background()
	data := encode(t, gradient(16, 16), imaging.PNG, 0)
	legacy := digest.Digest("sha256:" + strings.Repeat("ab", 32))
	createdAt := time.Date(2015, 6, 1, 0, 0, 0, 0, time.UTC)

	res, err := p.Store(ctx, data, ingest.StoreOptions{
		ForcedID:  "LegacyId42",
		CreatedAt: createdAt,
		History:   []digest.Digest{legacy},
	})
	require.NoError(t, err)
	assert.Equal(t, contentaddr.ID("LegacyId42"), res.ID)
	assert.Equal(t, "Le/ga/cyId42.png", res.Path)

	_, rec, err := adapter.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, rec.CreatedAt.Equal(createdAt))
	assert.Equal(t, []digest.Digest{legacy, digest.SHA256.FromBytes(data)}, rec.Hashes)

	// other content asserting the same id is refused
	_, err = p.Store(ctx, encode(t, gradient(17, 17), imaging.PNG, 0), ingest.StoreOptions{ForcedID: "LegacyId42"})
	assert.ErrorIs(t, err, errdefs.ErrConflict)

	_, err = p.Store(ctx, encode(t, gradient(18, 18), imaging.PNG, 0), ingest.StoreOptions{ForcedID: "bad/id"})
	assert.ErrorIs(t, err, contentaddr.ErrInvalidID)
}

// fakeProcessor normalizes every JPEG to the same bytes, so two different
// uploads collapse into one stored image.
type fakeProcessor struct {
	imgproc.Processor
	normalized []byte
}

func (f *fakeProcessor) Decode(_ context.Context, data []byte) (imgproc.Info, error) {
	info := imgproc.Info{Format: imgproc.FormatJPEG, Width: 10, Height: 10, Quality: 95}
	if bytes.Equal(data, f.normalized) {
		info.Quality = 70
	}
	return info, nil
}

func (f *fakeProcessor) Recompress(context.Context, []byte, imgproc.Format, int) ([]byte, error) {
	return f.normalized, nil
}

func TestStore_DedupAfterNormalization(t *testing.T) {
	jpeg := func(s string) []byte { return append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, s...) }
	proc := &fakeProcessor{normalized: jpeg("normalized")}
	p, adapter := newPipeline(t, ingest.Policy{MinQuality: 50, MaxQuality: 80}, ingest.WithProcessor(proc))
	ctx := context.Background()

	first, err := p.Store(ctx, jpeg("upload one"), ingest.StoreOptions{})
	require.NoError(t, err)
	second, err := p.Store(ctx, jpeg("upload two"), ingest.StoreOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Existed)
	assert.EqualValues(t, 1, adapter.puts.Load())
}

func TestStore_Concurrent(t *testing.T) {
	p, adapter := newPipeline(t, ingest.DefaultPolicy())
	data := encode(t, gradient(32, 32), imaging.PNG, 0)

	var wg sync.WaitGroup
	ids := make([]contentaddr.ID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Store(context.Background(), data, ingest.StoreOptions{})
			assert.NoError(t, err)
			ids[i] = res.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	page, err := adapter.ListPage(context.Background(), backend.PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestStore_Canceled(t *testing.T) {
	p, adapter := newPipeline(t, ingest.DefaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Store(ctx, encode(t, gradient(8, 8), imaging.PNG, 0), ingest.StoreOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	page, err := adapter.ListPage(context.Background(), backend.PageRequest{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}
