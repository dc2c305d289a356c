package ingest

import (
	"errors"

	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xio"
)

// Policy holds the size and quality limits applied to every stored image.
// Zero limits are disabled.
type Policy struct {
	// MaxBytes is the largest accepted encoded size.
	MaxBytes xio.ByteSize `yaml:"max_bytes" json:"max_bytes"`
	// MaxWidth and MaxHeight bound the stored dimensions.
	MaxWidth  int `yaml:"max_width" json:"max_width"`
	MaxHeight int `yaml:"max_height" json:"max_height"`
	// AutoScale downscales and recompresses oversized images instead of
	// rejecting them.
	AutoScale bool `yaml:"auto_scale" json:"auto_scale"`
	// MinQuality is the lowest JPEG quality the pipeline recompresses to.
	MinQuality int `yaml:"min_quality" json:"min_quality"`
	// MaxQuality is the highest JPEG quality kept as is.
	MaxQuality int `yaml:"max_quality" json:"max_quality"`
	// PreferLossy converts lossless rasters to JPEG.
	PreferLossy bool `yaml:"prefer_lossy" json:"prefer_lossy"`
}

// DefaultPolicy returns the limits used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxBytes:   10 * xio.MiB,
		MaxWidth:   4096,
		MaxHeight:  4096,
		AutoScale:  true,
		MinQuality: 60,
		MaxQuality: 90,
	}
}

// Validate checks that the thresholds are consistent.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxBytes < 0 {
		errs = append(errs, errdefs.Newf(errdefs.ErrInvalidParameter, "max_bytes must not be negative"))
	}
	if p.MaxWidth < 0 || p.MaxHeight < 0 {
		errs = append(errs, errdefs.Newf(errdefs.ErrInvalidParameter, "max_width and max_height must not be negative"))
	}
	if p.MinQuality < 1 || p.MinQuality > 100 {
		errs = append(errs, errdefs.Newf(errdefs.ErrInvalidParameter, "min_quality %d out of range [1,100]", p.MinQuality))
	}
	if p.MaxQuality < 1 || p.MaxQuality > 100 {
		errs = append(errs, errdefs.Newf(errdefs.ErrInvalidParameter, "max_quality %d out of range [1,100]", p.MaxQuality))
	}
	if p.MinQuality > p.MaxQuality {
		errs = append(errs, errdefs.Newf(errdefs.ErrInvalidParameter,
			"min_quality %d is above max_quality %d", p.MinQuality, p.MaxQuality))
	}
	return errors.Join(errs...)
}

// Ceiling returns the JPEG quality ceiling for content of size bytes. Content
// over MaxBytes tightens the ceiling proportionally, never below MinQuality.
func (p Policy) Ceiling(size int64) int {
	ceiling := p.MaxQuality
	if limit := int64(p.MaxBytes); limit > 0 && size > limit {
		ceiling = int(int64(p.MaxQuality) * limit / size)
	}
	return max(p.MinQuality, min(ceiling, p.MaxQuality))
}

// exceeds reports whether size is above MaxBytes.
func (p Policy) exceeds(size int64) bool {
	return p.MaxBytes > 0 && size > int64(p.MaxBytes)
}

func (p Policy) oversized(width, height int) bool {
	return (p.MaxWidth > 0 && width > p.MaxWidth) || (p.MaxHeight > 0 && height > p.MaxHeight)
}
