package imgproc

import (
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"github.com/wuxler/imgvault/pkg/errdefs"
)

// ErrUnsupportedFormat is returned for content that is not a GIF, JPEG or PNG
// image.
var ErrUnsupportedFormat = errdefs.Newf(errdefs.ErrInvalidParameter, "unsupported image format")

// Format is an accepted raster format.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
)

var formats = []struct {
	format Format
	mime   string
	ext    string
	alias  []string
	codec  imaging.Format
}{
	{FormatJPEG, "image/jpeg", "jpg", []string{"jpeg", "jpe"}, imaging.JPEG},
	{FormatPNG, "image/png", "png", nil, imaging.PNG},
	{FormatGIF, "image/gif", "gif", nil, imaging.GIF},
}

// MIME returns the media type of the format.
func (f Format) MIME() string {
	for _, item := range formats {
		if item.format == f {
			return item.mime
		}
	}
	return "application/octet-stream"
}

// Ext returns the canonical file extension without leading dot.
func (f Format) Ext() string {
	for _, item := range formats {
		if item.format == f {
			return item.ext
		}
	}
	return ""
}

// Lossless reports whether the format stores raster data losslessly and is a
// candidate for lossy conversion. GIF is excluded since it may be animated.
func (f Format) Lossless() bool {
	return f == FormatPNG
}

func (f Format) codec() (imaging.Format, bool) {
	for _, item := range formats {
		if item.format == f {
			return item.codec, true
		}
	}
	return 0, false
}

// FormatFromExt maps a file extension to a Format.
func FormatFromExt(ext string) (Format, bool) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, item := range formats {
		if item.ext == ext {
			return item.format, true
		}
		for _, alias := range item.alias {
			if alias == ext {
				return item.format, true
			}
		}
	}
	return "", false
}

// FormatFromMIME maps a media type to a Format.
func FormatFromMIME(mime string) (Format, bool) {
	mime, _, _ = strings.Cut(mime, ";")
	mime = strings.TrimSpace(strings.ToLower(mime))
	for _, item := range formats {
		if item.mime == mime {
			return item.format, true
		}
	}
	return "", false
}

// Sniff detects the format from the magic signature of data.
func Sniff(data []byte) (Format, error) {
	m := mimetype.Detect(data)
	for _, item := range formats {
		if m.Is(item.mime) {
			return item.format, nil
		}
	}
	return "", errdefs.Newf(ErrUnsupportedFormat, "detected %s", m.String())
}

// Formats returns the supported formats.
func Formats() []Format {
	out := make([]Format, 0, len(formats))
	for _, item := range formats {
		out = append(out, item.format)
	}
	return out
}
