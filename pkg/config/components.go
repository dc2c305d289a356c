package config

import (
	"os"

	"github.com/spf13/afero"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/derivative"
	"github.com/wuxler/imgvault/pkg/imgproc"
	"github.com/wuxler/imgvault/pkg/ingest"
)

// NewPipeline returns the ingest pipeline committing into adapter.
func (c *Config) NewPipeline(adapter backend.Adapter, opts ...ingest.Option) (*ingest.Pipeline, error) {
	addr, err := c.Addresser()
	if err != nil {
		return nil, err
	}
	return ingest.New(adapter, c.Policy, append([]ingest.Option{ingest.WithAddresser(addr)}, opts...)...)
}

// NewDerivativeCache returns the derivative cache reading originals from
// adapter. fsys overrides the cache filesystem built from Derivative.Dir.
func (c *Config) NewDerivativeCache(adapter backend.Adapter, fsys afero.Fs) (*derivative.Cache, error) {
	addr, err := c.Addresser()
	if err != nil {
		return nil, err
	}
	if fsys == nil {
		if fsys, err = c.cacheFs(); err != nil {
			return nil, err
		}
	}
	opts := []derivative.Option{derivative.WithAddresser(addr)}

	if wm := c.Derivative.Watermark; wm.File != "" {
		overlay, err := os.ReadFile(wm.File)
		if err != nil {
			return nil, err
		}
		anchor, _ := imgproc.ParseAnchor(wm.Anchor)
		opts = append(opts, derivative.WithWatermark(overlay, imgproc.CompositeOptions{
			Anchor:   anchor,
			Margin:   wm.Margin,
			Opacity:  wm.Opacity,
			MaxRatio: wm.MaxRatio,
		}))
	}
	return derivative.New(fsys, adapter, c.Derivative.Config, opts...)
}

func (c *Config) cacheFs() (afero.Fs, error) {
	dir := c.Derivative.Dir
	if dir == "" {
		return afero.NewMemMapFs(), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return afero.NewBasePathFs(afero.NewOsFs(), dir), nil
}
