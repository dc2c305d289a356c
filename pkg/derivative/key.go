package derivative

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/imgproc"
)

// ErrInvalidPath is returned for request paths outside of the grammar.
var ErrInvalidPath = errdefs.Newf(errdefs.ErrInvalidParameter, "invalid derivative path")

// OriginalToken is the size token of the original image.
const OriginalToken = "orig"

// tokenPattern matches "{size}{mod?}" where size is one of orig, sN, cN, wN,
// hN, WxH or cWxH.
var tokenPattern = regexp.MustCompile(`^(orig|[sc][0-9]+|[wh][0-9]+|c?[0-9]+x[0-9]+)([a-z])?$`)

// SizeKind is the kind of dimension constraint of a derivative.
type SizeKind int

const (
	// SizeOriginal is the untouched original.
	SizeOriginal SizeKind = iota
	// SizeBox bounds both dimensions.
	SizeBox
	// SizeWidth bounds the width, the height follows the aspect ratio.
	SizeWidth
	// SizeHeight bounds the height, the width follows the aspect ratio.
	SizeHeight
)

// SizeSpec is the dimension part of a Key.
type SizeSpec struct {
	Kind   SizeKind
	Width  int
	Height int
}

// CropMode selects between letterboxing and cropping.
type CropMode int

const (
	// CropFit scales the image to fit in the box.
	CropFit CropMode = iota
	// CropFill scales the image to cover the box and crops the center.
	CropFill
)

// Modifier is a post-processing step applied after resizing.
type Modifier string

const (
	ModifierNone      Modifier = ""
	ModifierWatermark Modifier = "w"
)

// Key identifies one derivative of one original.
type Key struct {
	Size     SizeSpec
	Crop     CropMode
	Modifier Modifier
	ID       contentaddr.ID
	// Ext is the requested file extension without leading dot.
	Ext string
}

// Parse parses a request path of the form "{size}{mod?}/{xx}/{yy}/{rest}.{ext}".
func Parse(requestPath string) (Key, error) {
	token, rest, ok := strings.Cut(strings.TrimPrefix(requestPath, "/"), "/")
	if !ok {
		return Key{}, errdefs.Newf(ErrInvalidPath, "%q has no size token", requestPath)
	}
	m := tokenPattern.FindStringSubmatch(token)
	if m == nil {
		return Key{}, errdefs.Newf(ErrInvalidPath, "unknown size token %q", token)
	}

	var key Key
	switch mod := Modifier(m[2]); mod {
	case ModifierNone, ModifierWatermark:
		key.Modifier = mod
	default:
		return Key{}, errdefs.Newf(ErrInvalidPath, "unknown modifier %q", mod)
	}
	if err := key.parseSize(m[1]); err != nil {
		return Key{}, errdefs.Newf(ErrInvalidPath, "%q: %v", token, err)
	}

	id, ext, err := contentaddr.ParsePath(rest)
	if err != nil {
		return Key{}, errdefs.NewE(ErrInvalidPath, err)
	}
	if _, ok := imgproc.FormatFromExt(ext); !ok {
		return Key{}, errdefs.Newf(ErrInvalidPath, "unknown extension %q", ext)
	}
	key.ID = id
	key.Ext = strings.ToLower(ext)
	return key, nil
}

func (k *Key) parseSize(s string) error {
	if s == OriginalToken {
		k.Size = SizeSpec{Kind: SizeOriginal}
		return nil
	}
	if strings.HasPrefix(s, "c") {
		k.Crop = CropFill
	}
	if w, h, ok := strings.Cut(strings.TrimPrefix(s, "c"), "x"); ok {
		width, err := positive(w)
		if err != nil {
			return err
		}
		height, err := positive(h)
		if err != nil {
			return err
		}
		k.Size = SizeSpec{Kind: SizeBox, Width: width, Height: height}
		return nil
	}
	n, err := positive(s[1:])
	if err != nil {
		return err
	}
	switch s[0] {
	case 's', 'c':
		k.Size = SizeSpec{Kind: SizeBox, Width: n, Height: n}
	case 'w':
		k.Size = SizeSpec{Kind: SizeWidth, Width: n}
	case 'h':
		k.Size = SizeSpec{Kind: SizeHeight, Height: n}
	}
	return nil
}

func positive(v string) (int, error) {
	// cast reads a leading zero as an octal prefix
	n, err := cast.ToIntE(strings.TrimLeft(v, "0"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("dimension %q must be a positive integer", v)
	}
	return n, nil
}

// IsOriginal reports whether the key selects the original dimensions.
func (k Key) IsOriginal() bool { return k.Size.Kind == SizeOriginal }

// SizeToken returns the canonical size token, without modifier.
func (k Key) SizeToken() string {
	s := k.Size
	switch s.Kind {
	case SizeWidth:
		return fmt.Sprintf("w%d", s.Width)
	case SizeHeight:
		return fmt.Sprintf("h%d", s.Height)
	case SizeBox:
		prefix := ""
		if k.Crop == CropFill {
			prefix = "c"
		}
		if s.Width == s.Height {
			if prefix == "" {
				prefix = "s"
			}
			return fmt.Sprintf("%s%d", prefix, s.Width)
		}
		return fmt.Sprintf("%s%dx%d", prefix, s.Width, s.Height)
	default:
		return OriginalToken
	}
}

// Filename returns the storage path "xx/yy/rest.ext" of the key.
func (k Key) Filename() string {
	p, err := contentaddr.ToPath(k.ID, k.Ext)
	if err != nil {
		return ""
	}
	return p
}

// Path returns the canonical request path of the key.
func (k Key) Path() string {
	return k.SizeToken() + string(k.Modifier) + "/" + k.Filename()
}

// String implements fmt.Stringer.
func (k Key) String() string { return k.Path() }

// Original returns the key of the unmodified original.
func (k Key) Original() Key {
	return Key{ID: k.ID, Ext: k.Ext}
}

// WithoutModifier returns k with the modifier cleared.
func (k Key) WithoutModifier() Key {
	k.Modifier = ModifierNone
	return k
}

// WithFilename returns k pointing at the storage path filename.
func (k Key) WithFilename(filename string) (Key, error) {
	id, ext, err := contentaddr.ParsePath(filename)
	if err != nil {
		return Key{}, err
	}
	k.ID = id
	k.Ext = strings.ToLower(ext)
	return k, nil
}

// Format returns the image format implied by the extension.
func (k Key) Format() imgproc.Format {
	f, _ := imgproc.FormatFromExt(k.Ext)
	return f
}

// resizeSpec maps the key to the processor request.
func (k Key) resizeSpec(quality int) imgproc.ResizeSpec {
	spec := imgproc.ResizeSpec{Width: k.Size.Width, Height: k.Size.Height, Quality: quality}
	if k.Crop == CropFill {
		spec.Mode = imgproc.ModeFill
	}
	return spec
}

func (k Key) largestSide() int {
	return max(k.Size.Width, k.Size.Height)
}
