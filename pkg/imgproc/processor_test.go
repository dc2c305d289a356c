package imgproc_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/imgproc"
)

func gradient(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func encodeGIF(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, gif.Encode(buf, img, nil))
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	img := gradient(8, 8)
	testcases := []struct {
		name    string
		data    []byte
		want    imgproc.Format
		wantErr bool
	}{
		{name: "jpeg", data: encodeJPEG(t, img, 80), want: imgproc.FormatJPEG},
		{name: "png", data: encodePNG(t, img), want: imgproc.FormatPNG},
		{name: "gif", data: encodeGIF(t, img), want: imgproc.FormatGIF},
		{name: "text", data: []byte("hello, not an image"), wantErr: true},
		{name: "empty", data: nil, wantErr: true},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := imgproc.Sniff(tc.data)
			if tc.wantErr {
				assert.ErrorIs(t, err, imgproc.ErrUnsupportedFormat)
				assert.ErrorIs(t, err, errdefs.ErrInvalidParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatHelpers(t *testing.T) {
	f, ok := imgproc.FormatFromExt(".JPEG")
	require.True(t, ok)
	assert.Equal(t, imgproc.FormatJPEG, f)
	assert.Equal(t, "jpg", f.Ext())
	assert.Equal(t, "image/jpeg", f.MIME())

	f, ok = imgproc.FormatFromMIME("image/png; charset=binary")
	require.True(t, ok)
	assert.True(t, f.Lossless())
	assert.False(t, imgproc.FormatGIF.Lossless())

	_, ok = imgproc.FormatFromExt("webp")
	assert.False(t, ok)
}

func TestEstimateJPEGQuality(t *testing.T) {
	img := gradient(16, 16)
	for _, q := range []int{30, 50, 75, 90, 95} {
		got := imgproc.EstimateJPEGQuality(encodeJPEG(t, img, q))
		assert.InDelta(t, q, got, 2, "quality %d", q)
	}
	assert.Equal(t, 0, imgproc.EstimateJPEGQuality(encodePNG(t, img)))
	assert.Equal(t, 0, imgproc.EstimateJPEGQuality([]byte{0xFF, 0xD8, 0xFF}))
}

func TestProcessor_Decode(t *testing.T) {
	p := imgproc.New()
	ctx := context.Background()

	info, err := p.Decode(ctx, encodeJPEG(t, gradient(40, 20), 70))
	require.NoError(t, err)
	assert.Equal(t, imgproc.FormatJPEG, info.Format)
	assert.Equal(t, 40, info.Width)
	assert.Equal(t, 20, info.Height)
	assert.InDelta(t, 70, info.Quality, 2)

	info, err = p.Decode(ctx, encodePNG(t, gradient(3, 5)))
	require.NoError(t, err)
	assert.Equal(t, imgproc.Info{Format: imgproc.FormatPNG, Width: 3, Height: 5}, info)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Decode(canceled, encodePNG(t, gradient(3, 5)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessor_Resize(t *testing.T) {
	p := imgproc.New()
	ctx := context.Background()
	src := encodePNG(t, gradient(200, 100))

	testcases := []struct {
		name  string
		spec  imgproc.ResizeSpec
		wantW int
		wantH int
	}{
		{"fit square", imgproc.ResizeSpec{Width: 50, Height: 50}, 50, 25},
		{"fill square", imgproc.ResizeSpec{Width: 50, Height: 50, Mode: imgproc.ModeFill}, 50, 50},
		{"width bound", imgproc.ResizeSpec{Width: 100}, 100, 50},
		{"height bound", imgproc.ResizeSpec{Height: 20}, 40, 20},
		{"fit never upscales", imgproc.ResizeSpec{Width: 400, Height: 400}, 200, 100},
		{"fill box", imgproc.ResizeSpec{Width: 30, Height: 60, Mode: imgproc.ModeFill}, 30, 60},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := p.Resize(ctx, src, tc.spec)
			require.NoError(t, err)
			info, err := p.Decode(ctx, out)
			require.NoError(t, err)
			assert.Equal(t, imgproc.FormatPNG, info.Format)
			assert.Equal(t, tc.wantW, info.Width)
			assert.Equal(t, tc.wantH, info.Height)
		})
	}

	_, err := p.Resize(ctx, src, imgproc.ResizeSpec{})
	assert.ErrorIs(t, err, errdefs.ErrInvalidParameter)
}

func TestProcessor_Recompress(t *testing.T) {
	p := imgproc.New()
	ctx := context.Background()

	out, err := p.Recompress(ctx, encodePNG(t, gradient(32, 32)), imgproc.FormatJPEG, 60)
	require.NoError(t, err)
	info, err := p.Decode(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, imgproc.FormatJPEG, info.Format)
	assert.InDelta(t, 60, info.Quality, 2)
}

func TestProcessor_Composite(t *testing.T) {
	p := imgproc.New()
	ctx := context.Background()
	base := encodePNG(t, gradient(100, 80))
	mark := encodePNG(t, imaging.New(60, 10, color.White))

	out, err := p.Composite(ctx, base, mark, imgproc.CompositeOptions{
		Anchor:   imaging.BottomRight,
		Margin:   2,
		Opacity:  1,
		MaxRatio: 0.5,
	})
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())

	// the overlay was scaled to 50px wide and placed 2px off the corner
	r, g, b, _ := img.At(97, 77).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b})
	r, g, b, _ = img.At(10, 10).RGBA()
	assert.NotEqual(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b})
}

func TestParseAnchor(t *testing.T) {
	testcases := []struct {
		name   string
		want   imgproc.Anchor
		wantOK bool
	}{
		{name: "", want: imaging.BottomRight, wantOK: true},
		{name: "Top-Left", want: imaging.TopLeft, wantOK: true},
		{name: "center", want: imaging.Center, wantOK: true},
		{name: "middle"},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := imgproc.ParseAnchor(tc.name)
			assert.Equal(t, tc.wantOK, ok)
			if ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
