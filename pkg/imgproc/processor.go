// Package imgproc wraps the pixel operations the store needs: probing,
// resizing, re-encoding and watermark composition.
package imgproc

import (
	"bytes"
	"context"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xcontext"
)

// DefaultQuality is used when an encode request carries no quality.
const DefaultQuality = 85

// Info describes an image without decoding its pixels.
type Info struct {
	Format Format
	Width  int
	Height int
	// Quality is the estimated JPEG quality, 0 for other formats.
	Quality int
}

// Mode selects how an image is fitted into a bounding box.
type Mode int

const (
	// ModeFit scales the image down to fit in the box, preserving aspect ratio.
	ModeFit Mode = iota
	// ModeFill scales the image to cover the box and crops the center.
	ModeFill
)

// ResizeSpec describes a resize. A zero Width or Height leaves that
// dimension unbounded in ModeFit.
type ResizeSpec struct {
	Width   int
	Height  int
	Mode    Mode
	Quality int
}

// Anchor is the position of an overlay on the base image.
type Anchor = imaging.Anchor

var anchors = map[string]Anchor{
	"center":       imaging.Center,
	"top-left":     imaging.TopLeft,
	"top":          imaging.Top,
	"top-right":    imaging.TopRight,
	"left":         imaging.Left,
	"right":        imaging.Right,
	"bottom-left":  imaging.BottomLeft,
	"bottom":       imaging.Bottom,
	"bottom-right": imaging.BottomRight,
}

// ParseAnchor parses names such as "bottom-right". An empty name is
// bottom-right.
func ParseAnchor(name string) (Anchor, bool) {
	if name == "" {
		return imaging.BottomRight, true
	}
	a, ok := anchors[strings.ToLower(name)]
	return a, ok
}

// CompositeOptions controls the watermark placement.
type CompositeOptions struct {
	Anchor  Anchor
	Margin  int
	Opacity float64
	// MaxRatio bounds the overlay width relative to the base width.
	MaxRatio float64
	Quality  int
}

// Processor performs the image operations needed by ingest and derivative
// generation. All methods return encoded bytes in the source format unless
// stated otherwise.
type Processor interface {
	// Decode probes the format, dimensions and quality of data.
	Decode(ctx context.Context, data []byte) (Info, error)
	// Resize scales data according to spec.
	Resize(ctx context.Context, data []byte, spec ResizeSpec) ([]byte, error)
	// Recompress re-encodes data into format at the given quality.
	Recompress(ctx context.Context, data []byte, format Format, quality int) ([]byte, error)
	// Composite draws overlay over base.
	Composite(ctx context.Context, base, overlay []byte, opts CompositeOptions) ([]byte, error)
}

// New returns the default Processor backed by the imaging library.
func New() Processor {
	return &processor{filter: imaging.Lanczos}
}

type processor struct {
	filter imaging.ResampleFilter
}

// Decode implements Processor.
func (p *processor) Decode(ctx context.Context, data []byte) (Info, error) {
	if err := xcontext.NonBlockingCheck(ctx, "decode"); err != nil {
		return Info{}, err
	}
	format, err := Sniff(data)
	if err != nil {
		return Info{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, errdefs.NewE(ErrUnsupportedFormat, err)
	}
	info := Info{Format: format, Width: cfg.Width, Height: cfg.Height}
	if format == FormatJPEG {
		info.Quality = EstimateJPEGQuality(data)
	}
	return info, nil
}

// Resize implements Processor.
func (p *processor) Resize(ctx context.Context, data []byte, spec ResizeSpec) ([]byte, error) {
	if spec.Width < 0 || spec.Height < 0 || (spec.Width == 0 && spec.Height == 0) {
		return nil, errdefs.Newf(errdefs.ErrInvalidParameter, "invalid resize box %dx%d", spec.Width, spec.Height)
	}
	img, format, err := p.decode(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := xcontext.NonBlockingCheck(ctx, "resize"); err != nil {
		return nil, err
	}

	var out image.Image
	switch spec.Mode {
	case ModeFill:
		w, h := spec.Width, spec.Height
		if w == 0 {
			w = h
		}
		if h == 0 {
			h = w
		}
		out = imaging.Fill(img, w, h, imaging.Center, p.filter)
	default:
		w, h := spec.Width, spec.Height
		if w == 0 {
			w = math.MaxInt32
		}
		if h == 0 {
			h = math.MaxInt32
		}
		out = imaging.Fit(img, w, h, p.filter)
	}
	return encode(out, format, spec.Quality)
}

// Recompress implements Processor.
func (p *processor) Recompress(ctx context.Context, data []byte, format Format, quality int) ([]byte, error) {
	img, _, err := p.decode(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := xcontext.NonBlockingCheck(ctx, "recompress"); err != nil {
		return nil, err
	}
	return encode(img, format, quality)
}

// Composite implements Processor.
func (p *processor) Composite(ctx context.Context, base, overlay []byte, opts CompositeOptions) ([]byte, error) {
	baseImg, format, err := p.decode(ctx, base)
	if err != nil {
		return nil, err
	}
	mark, _, err := p.decode(ctx, overlay)
	if err != nil {
		return nil, err
	}
	if err := xcontext.NonBlockingCheck(ctx, "composite"); err != nil {
		return nil, err
	}

	bb := baseImg.Bounds()
	if opts.MaxRatio > 0 {
		maxW := int(float64(bb.Dx()) * opts.MaxRatio)
		if maxW > 0 && mark.Bounds().Dx() > maxW {
			mark = imaging.Resize(mark, maxW, 0, p.filter)
		}
	}
	opacity := opts.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 1
	}
	pos := anchorPoint(bb, mark.Bounds(), opts.Anchor, opts.Margin)
	out := imaging.Overlay(baseImg, mark, pos, opacity)
	return encode(out, format, opts.Quality)
}

func (p *processor) decode(ctx context.Context, data []byte) (image.Image, Format, error) {
	if err := xcontext.NonBlockingCheck(ctx, "decode"); err != nil {
		return nil, "", err
	}
	format, err := Sniff(data)
	if err != nil {
		return nil, "", err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", errdefs.NewE(ErrUnsupportedFormat, err)
	}
	return img, format, nil
}

func encode(img image.Image, format Format, quality int) ([]byte, error) {
	codec, ok := format.codec()
	if !ok {
		return nil, errdefs.Newf(ErrUnsupportedFormat, "can not encode %q", format)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, codec, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func anchorPoint(base, mark image.Rectangle, anchor Anchor, margin int) image.Point {
	bw, bh := base.Dx(), base.Dy()
	mw, mh := mark.Dx(), mark.Dy()
	left, centerX, right := margin, (bw-mw)/2, bw-mw-margin
	top, centerY, bottom := margin, (bh-mh)/2, bh-mh-margin

	pt := image.Pt(right, bottom)
	switch anchor {
	case imaging.Center:
		pt = image.Pt(centerX, centerY)
	case imaging.TopLeft:
		pt = image.Pt(left, top)
	case imaging.Top:
		pt = image.Pt(centerX, top)
	case imaging.TopRight:
		pt = image.Pt(right, top)
	case imaging.Left:
		pt = image.Pt(left, centerY)
	case imaging.Right:
		pt = image.Pt(right, centerY)
	case imaging.BottomLeft:
		pt = image.Pt(left, bottom)
	case imaging.Bottom:
		pt = image.Pt(centerX, bottom)
	}
	return pt.Add(base.Min)
}
