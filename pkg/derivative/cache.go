// Package derivative resolves request paths into originals and generated
// variants, kept in a local disk cache.
package derivative

import (
	"bytes"
	"context"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/imgproc"
	"github.com/wuxler/imgvault/pkg/util/xfs"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// Config holds the derivative limits.
type Config struct {
	// MaxDimension bounds the requested width and height. Zero disables the
	// check.
	MaxDimension int `yaml:"max_dimension" json:"max_dimension"`
	// MinModifierSize is the smallest side a variant must have to accept a
	// modifier.
	MinModifierSize int `yaml:"min_modifier_size" json:"min_modifier_size"`
	// Quality is the JPEG quality of generated variants.
	Quality int `yaml:"quality" json:"quality"`
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxDimension:    2048,
		MinModifierSize: 100,
		Quality:         imgproc.DefaultQuality,
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithProcessor overrides the imaging processor.
func WithProcessor(proc imgproc.Processor) Option {
	return func(c *Cache) { c.proc = proc }
}

// WithAddresser sets how ids are decoded by the legacy lookup.
func WithAddresser(addr contentaddr.Addresser) Option {
	return func(c *Cache) { c.addr = addr }
}

// WithWatermark sets the overlay applied by the watermark modifier.
func WithWatermark(overlay []byte, opts imgproc.CompositeOptions) Option {
	return func(c *Cache) {
		c.watermark = overlay
		c.watermarkOpts = opts
	}
}

// Resolved is the outcome of Cache.Resolve.
type Resolved struct {
	// LocalPath is the path of the content inside the cache filesystem. It is
	// empty when the content could not be written, Data is set instead.
	LocalPath string
	// CanonicalPath is the canonical request path of Key.
	CanonicalPath string
	Key           Key
	MIME          string
	// Data holds the content when it was produced by this call.
	Data []byte
}

// Cache resolves derivative requests. Originals are read through from the
// adapter and the backend is never written.
type Cache struct {
	fs            afero.Fs
	adapter       backend.Adapter
	cfg           Config
	proc          imgproc.Processor
	addr          contentaddr.Addresser
	watermark     []byte
	watermarkOpts imgproc.CompositeOptions

	group singleflight.Group
}

// New returns a Cache storing files on fsys.
func New(fsys afero.Fs, adapter backend.Adapter, cfg Config, opts ...Option) (*Cache, error) {
	if fsys == nil || adapter == nil {
		return nil, errdefs.Newf(errdefs.ErrInvalidParameter, "derivative: filesystem and adapter are required")
	}
	if cfg.MaxDimension < 0 || cfg.MinModifierSize < 0 {
		return nil, errdefs.Newf(errdefs.ErrInvalidParameter, "derivative: limits must not be negative")
	}
	c := &Cache{
		fs:      fsys,
		adapter: adapter,
		cfg:     cfg,
		proc:    imgproc.New(),
		addr:    contentaddr.Addresser{SaltWithSize: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Resolve parses requestPath and makes sure the content it names is in the
// cache, generating it when missing.
//
// It returns an error wrapping ErrInvalidPath for malformed paths,
// errdefs.ErrPolicyViolation for requests the limits forbid,
// errdefs.ErrNotFound for unknown images and a *errdefs.MovedError when the
// image lives under another canonical path.
func (c *Cache) Resolve(ctx context.Context, requestPath string) (*Resolved, error) {
	key, err := Parse(requestPath)
	if err != nil {
		return nil, err
	}
	if err := c.check(key); err != nil {
		return nil, err
	}
	if res, ok := c.cached(key); ok {
		return res, nil
	}
	v, err, _ := c.group.Do(key.Path(), func() (any, error) {
		return c.resolve(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolved), nil
}

// Open resolves requestPath and returns a reader of its content.
func (c *Cache) Open(ctx context.Context, requestPath string) (io.ReadSeekCloser, *Resolved, error) {
	res, err := c.Resolve(ctx, requestPath)
	if err != nil {
		return nil, nil, err
	}
	if res.Data != nil {
		return nopCloser{bytes.NewReader(res.Data)}, res, nil
	}
	f, err := c.fs.Open(res.LocalPath)
	if err != nil {
		return nil, nil, err
	}
	return f, res, nil
}

// Purge removes every cached file of id and returns how many were removed.
func (c *Cache) Purge(ctx context.Context, id contentaddr.ID) (int, error) {
	p, err := contentaddr.ToPath(id, "x")
	if err != nil {
		return 0, err
	}
	pattern := filepath.Join("*", filepath.FromSlash(strings.TrimSuffix(p, ".x"))+".*")
	matches, err := afero.Glob(c.fs, pattern)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range matches {
		if err := c.fs.Remove(name); err != nil {
			return removed, err
		}
		removed++
	}
	xlog.C(ctx).Debugf("purged %d cached files of %s", removed, id)
	return removed, nil
}

func (c *Cache) check(key Key) error {
	if c.cfg.MaxDimension > 0 && key.largestSide() > c.cfg.MaxDimension {
		return errdefs.Newf(errdefs.ErrPolicyViolation,
			"%s exceeds the maximum dimension %d", key.SizeToken(), c.cfg.MaxDimension)
	}
	if key.Modifier == ModifierWatermark && len(c.watermark) == 0 {
		return errdefs.Newf(errdefs.ErrPolicyViolation, "watermark is not configured")
	}
	return nil
}

func (c *Cache) cached(key Key) (*Resolved, bool) {
	name := localPath(key)
	if ok, err := afero.Exists(c.fs, name); err != nil || !ok {
		return nil, false
	}
	return c.resolved(key, name, nil), true
}

func (c *Cache) resolved(key Key, name string, data []byte) *Resolved {
	return &Resolved{
		LocalPath:     name,
		CanonicalPath: key.Path(),
		Key:           key,
		MIME:          key.Format().MIME(),
		Data:          data,
	}
}

func (c *Cache) resolve(ctx context.Context, key Key) (*Resolved, error) {
	logger := xlog.C(ctx).With("path", key.Path())

	data, name, err := c.original(ctx, key)
	if err != nil {
		return nil, err
	}
	if !key.IsOriginal() {
		if data, name, err = c.variant(ctx, key.WithoutModifier(), data); err != nil {
			return nil, err
		}
	}
	if key.Modifier == ModifierNone {
		return c.resolved(key, name, data), nil
	}

	info, err := c.proc.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	if smallest := min(info.Width, info.Height); smallest < c.cfg.MinModifierSize {
		return nil, errdefs.Newf(errdefs.ErrPolicyViolation,
			"%dx%d is too small for modifier %q, minimum is %d", info.Width, info.Height, key.Modifier, c.cfg.MinModifierSize)
	}
	opts := c.watermarkOpts
	if opts.Quality == 0 {
		opts.Quality = c.quality()
	}
	if data, err = c.proc.Composite(ctx, data, c.watermark, opts); err != nil {
		return nil, err
	}
	logger.Debugf("applied modifier %q", key.Modifier)
	return c.resolved(key, c.write(ctx, localPath(key), data), data), nil
}

// variant returns the resized variant of orig, generating it on a miss.
func (c *Cache) variant(ctx context.Context, key Key, orig []byte) ([]byte, string, error) {
	name := localPath(key)
	if data, ok, err := xfs.ReadFileIfExists(c.fs, name); err == nil && ok {
		return data, name, nil
	}
	data, err := c.proc.Resize(ctx, orig, key.resizeSpec(c.quality()))
	if err != nil {
		return nil, "", err
	}
	xlog.C(ctx).Debugf("generated %s", key.Path())
	return data, c.write(ctx, name, data), nil
}

// original returns the original bytes of key, reading through to the
// adapter on a cache miss.
func (c *Cache) original(ctx context.Context, key Key) ([]byte, string, error) {
	orig := key.Original()
	name := localPath(orig)
	data, ok, err := xfs.ReadFileIfExists(c.fs, name)
	if err == nil && ok {
		return data, name, nil
	}
	if err != nil {
		xlog.C(ctx).Warnf("unable to read cached original %s: %v", name, err)
	}

	data, rec, err := c.adapter.Get(ctx, key.ID)
	if errdefs.IsNotFound(err) {
		return nil, "", c.legacyLookup(ctx, key)
	}
	if err != nil {
		return nil, "", err
	}
	if rec.Filename != orig.Filename() {
		return nil, "", c.moved(key, rec.Filename)
	}
	return data, c.write(ctx, name, data), nil
}

// legacyLookup searches the adapter by the digests the id may encode and by
// filename, so that links minted before a migration keep working.
func (c *Cache) legacyLookup(ctx context.Context, key Key) error {
	q := backend.Query{Filename: key.Filename()}
	for _, salted := range []bool{c.addr.SaltWithSize, !c.addr.SaltWithSize} {
		addr := contentaddr.Addresser{Algorithm: c.addr.Algorithm, SaltWithSize: salted}
		if d, err := addr.Decode(key.ID); err == nil {
			q.Hashes = append(q.Hashes, d)
		}
	}
	rec, err := c.adapter.Lookup(ctx, q)
	if errdefs.IsNotFound(err) {
		return errdefs.Newf(errdefs.ErrNotFound, "image %s", key.ID)
	}
	if err != nil {
		return err
	}
	if rec.Filename == key.Filename() {
		return errdefs.Newf(errdefs.ErrNotFound, "content of image %s", key.ID)
	}
	xlog.C(ctx).Debugf("legacy lookup of %s found %s", key.ID, rec.ID)
	return c.moved(key, rec.Filename)
}

func (c *Cache) moved(key Key, filename string) error {
	target, err := key.WithFilename(filename)
	if err != nil {
		return errdefs.NewE(errdefs.ErrDataLoss, err)
	}
	return errdefs.NewMoved(target.Path())
}

// write stores data atomically and returns name, or an empty string if the
// write failed. Failures are logged, the caller serves the bytes directly.
func (c *Cache) write(ctx context.Context, name string, data []byte) string {
	if err := xfs.WriteFileAtomic(c.fs, name, data, 0o644); err != nil {
		xlog.C(ctx).Warnf("unable to cache %s: %v", name, err)
		return ""
	}
	return name
}

func (c *Cache) quality() int {
	if c.cfg.Quality > 0 {
		return c.cfg.Quality
	}
	return imgproc.DefaultQuality
}

// localPath maps the key to its file inside the cache filesystem.
func localPath(key Key) string {
	return filepath.FromSlash(path.Clean(key.Path()))
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
