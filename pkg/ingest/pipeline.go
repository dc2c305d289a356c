// Package ingest validates, normalizes, deduplicates and commits images into a
// backend.Adapter.
package ingest

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opencontainers/go-digest"
	"github.com/samber/lo"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/imgproc"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// StoreOptions are the optional inputs of Pipeline.Store.
type StoreOptions struct {
	// ContentType is the type declared by the uploader. The sniffed format
	// always wins.
	ContentType string
	// DisplayName is a human readable name kept on the record.
	DisplayName string
	// ForcedID replaces the content derived id. Used when replaying records
	// from another backend.
	ForcedID contentaddr.ID
	// CreatedAt overrides the creation time.
	CreatedAt time.Time
	// History lists digests the content had before it reached this
	// pipeline, oldest first. They are kept ahead of the computed hashes so
	// lookups by old hashes keep working.
	History []digest.Digest
}

// Result is the outcome of Pipeline.Store.
type Result struct {
	ID   contentaddr.ID `json:"id"`
	Path string         `json:"path"`
	// Existed is true when the content was already stored and nothing was
	// written.
	Existed bool `json:"existed"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProcessor overrides the imaging processor.
func WithProcessor(proc imgproc.Processor) Option {
	return func(p *Pipeline) { p.proc = proc }
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(clk clock.Clock) Option {
	return func(p *Pipeline) { p.clock = clk }
}

// WithAddresser overrides how ids are derived.
func WithAddresser(addr contentaddr.Addresser) Option {
	return func(p *Pipeline) { p.addr = addr }
}

// Pipeline stores images into one adapter.
type Pipeline struct {
	adapter backend.Adapter
	policy  Policy
	proc    imgproc.Processor
	addr    contentaddr.Addresser
	clock   clock.Clock
}

// New returns a Pipeline committing into adapter.
func New(adapter backend.Adapter, policy Policy, opts ...Option) (*Pipeline, error) {
	if adapter == nil {
		return nil, errdefs.Newf(errdefs.ErrInvalidParameter, "ingest: adapter is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		adapter: adapter,
		policy:  policy,
		proc:    imgproc.New(),
		addr:    contentaddr.Addresser{Algorithm: digest.SHA256, SaltWithSize: true},
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Adapter returns the adapter the pipeline commits into.
func (p *Pipeline) Adapter() backend.Adapter { return p.adapter }

// Addresser returns how the pipeline derives ids.
func (p *Pipeline) Addresser() contentaddr.Addresser { return p.addr }

// Store runs data through the pipeline. Every step is a gate: the first
// failure aborts and nothing is written. Calling Store again with the same
// bytes returns the same id without writing.
func (p *Pipeline) Store(ctx context.Context, data []byte, opts StoreOptions) (Result, error) {
	logger := xlog.C(ctx).With("size", len(data))

	// 1. format sniff
	format, err := imgproc.Sniff(data)
	if err != nil {
		return Result{}, err
	}
	if opts.ContentType != "" {
		if declared, ok := imgproc.FormatFromMIME(opts.ContentType); !ok || declared != format {
			logger.Debugf("declared content type %q ignored, sniffed %s", opts.ContentType, format)
		}
	}

	// 2. dedup on the uploaded bytes
	hashes := []digest.Digest{p.addr.Hash(data)}
	if res, ok, err := p.lookup(ctx, hashes[0]); err != nil || ok {
		if ok {
			logger.Debug("content already stored", "id", res.ID)
		}
		return res, err
	}

	// 3. size and dimension policy
	info, err := p.proc.Decode(ctx, data)
	if err != nil {
		return Result{}, err
	}
	size := int64(len(data))
	if p.policy.exceeds(size) && !p.policy.AutoScale {
		return Result{}, errdefs.Newf(errdefs.ErrTooLarge,
			"image is %d bytes, limit is %s", size, p.policy.MaxBytes)
	}
	ceiling := p.policy.Ceiling(size)
	if p.policy.oversized(info.Width, info.Height) {
		if !p.policy.AutoScale {
			return Result{}, errdefs.Newf(errdefs.ErrTooLarge, "image is %dx%d, limit is %dx%d",
				info.Width, info.Height, p.policy.MaxWidth, p.policy.MaxHeight)
		}
		scaled, err := p.proc.Resize(ctx, data, imgproc.ResizeSpec{
			Width:   p.policy.MaxWidth,
			Height:  p.policy.MaxHeight,
			Mode:    imgproc.ModeFit,
			Quality: ceiling,
		})
		if err != nil {
			return Result{}, err
		}
		logger.Debugf("scaled %dx%d down to fit %dx%d", info.Width, info.Height, p.policy.MaxWidth, p.policy.MaxHeight)
		if data, info, err = p.reprobe(ctx, scaled); err != nil {
			return Result{}, err
		}
		hashes = appendHash(hashes, p.addr.Hash(data))
	}

	// 4. format normalization
	switch {
	case info.Format == imgproc.FormatJPEG && info.Quality > ceiling:
		recompressed, err := p.proc.Recompress(ctx, data, imgproc.FormatJPEG, ceiling)
		if err != nil {
			return Result{}, err
		}
		logger.Debugf("recompressed from quality %d to %d", info.Quality, ceiling)
		if data, info, err = p.reprobe(ctx, recompressed); err != nil {
			return Result{}, err
		}
		hashes = appendHash(hashes, p.addr.Hash(data))
	case info.Format.Lossless() && p.policy.PreferLossy:
		converted, err := p.proc.Recompress(ctx, data, imgproc.FormatJPEG, ceiling)
		if err != nil {
			return Result{}, err
		}
		logger.Debugf("converted %s to jpeg at quality %d", info.Format, ceiling)
		if data, info, err = p.reprobe(ctx, converted); err != nil {
			return Result{}, err
		}
		hashes = appendHash(hashes, p.addr.Hash(data))
	}

	// 5. final size check
	if size = int64(len(data)); p.policy.exceeds(size) {
		return Result{}, errdefs.Newf(errdefs.ErrTooLarge,
			"image is %d bytes after normalization, limit is %s", size, p.policy.MaxBytes)
	}

	// 6. dedup on the normalized bytes
	final := hashes[len(hashes)-1]
	if len(hashes) > 1 {
		if res, ok, err := p.lookup(ctx, final); err != nil || ok {
			if ok {
				logger.Debug("normalized content already stored", "id", res.ID)
			}
			return res, err
		}
	}

	// 7. commit
	id := opts.ForcedID
	if id == "" {
		if id, err = p.addr.Encode(final, size); err != nil {
			return Result{}, err
		}
	}
	filename, err := contentaddr.ToPath(id, info.Format.Ext())
	if err != nil {
		return Result{}, err
	}
	createdAt := opts.CreatedAt
	if createdAt.IsZero() {
		createdAt = p.clock.Now()
	}
	rec := &backend.Record{
		ID:          id,
		Filename:    filename,
		Hashes:      append(lo.Uniq(lo.Without(opts.History, hashes...)), hashes...),
		MIME:        info.Format.MIME(),
		Size:        size,
		Width:       info.Width,
		Height:      info.Height,
		Quality:     info.Quality,
		DisplayName: opts.DisplayName,
		CreatedAt:   createdAt.UTC(),
	}
	stored, err := p.adapter.Put(ctx, data, rec)
	if err != nil {
		return Result{}, err
	}
	if stored != id {
		// a concurrent store committed the same content first
		existing, err := p.adapter.Lookup(ctx, backend.ByID(stored))
		if err != nil {
			return Result{}, err
		}
		return Result{ID: existing.ID, Path: existing.Filename, Existed: true}, nil
	}
	logger.Info("stored image", "id", id, "path", filename, "backend", p.adapter.Name())
	return Result{ID: id, Path: filename}, nil
}

func (p *Pipeline) lookup(ctx context.Context, d digest.Digest) (Result, bool, error) {
	rec, err := p.adapter.Lookup(ctx, backend.ByHash(d))
	if errdefs.IsNotFound(err) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	return Result{ID: rec.ID, Path: rec.Filename, Existed: true}, true, nil
}

func (p *Pipeline) reprobe(ctx context.Context, data []byte) ([]byte, imgproc.Info, error) {
	info, err := p.proc.Decode(ctx, data)
	return data, info, err
}

func appendHash(hashes []digest.Digest, d digest.Digest) []digest.Digest {
	if hashes[len(hashes)-1] == d {
		return hashes
	}
	return append(hashes, d)
}
