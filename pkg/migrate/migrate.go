// Package migrate replays the records of one backend into another through
// the ingest pipeline, preserving ids and creation times.
package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/ingest"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// DefaultPageSize is used when Options.PageSize is not set.
const DefaultPageSize = 100

// Options selects the records to migrate.
type Options struct {
	// PageSize is the number of records listed per source page.
	PageSize int
	// Skip is the offset of the first record, in oldest first order.
	Skip int
	// Limit stops the job after that many successful items. Zero means no
	// limit.
	Limit int
	// ID migrates this record only.
	ID contentaddr.ID
	// ContinueOnError keeps going after a failed item instead of stopping at
	// the end of the page.
	ContinueOnError bool
}

// ItemResult is the outcome of one record.
type ItemResult struct {
	Offset  int            `json:"offset"`
	ID      contentaddr.ID `json:"id"`
	NewID   contentaddr.ID `json:"new_id,omitempty"`
	Existed bool           `json:"existed,omitempty"`
	Err     error          `json:"-"`
	Error   string         `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	Items    []ItemResult `json:"items"`
	Migrated int          `json:"migrated"`
	Failed   int          `json:"failed"`
	// Total is the number of records of the source when the last page was
	// listed.
	Total int `json:"total"`
	// LastGoodOffset is the offset of the last success with no failure before
	// it, or Skip-1 if there is none.
	LastGoodOffset int `json:"last_good_offset"`
	// ResumeOffset is the Skip value that continues the job: the first failed
	// offset, or the first offset not processed.
	ResumeOffset int           `json:"resume_offset"`
	Duration     time.Duration `json:"duration"`
}

// Option configures a Job.
type Option func(*Job)

// WithClock overrides the clock used to time the run.
func WithClock(clk clock.Clock) Option {
	return func(j *Job) { j.clock = clk }
}

// Job copies records from source into the adapter of pipeline.
type Job struct {
	source   backend.Adapter
	pipeline *ingest.Pipeline
	clock    clock.Clock
}

// New returns a Job.
func New(source backend.Adapter, pipeline *ingest.Pipeline, opts ...Option) (*Job, error) {
	if source == nil || pipeline == nil {
		return nil, errdefs.Newf(errdefs.ErrInvalidParameter, "migrate: source and pipeline are required")
	}
	j := &Job{source: source, pipeline: pipeline, clock: clock.New()}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Run migrates the records selected by opts. Every item is its own error
// boundary, failures are reported in the returned Report. The returned error
// is only set when listing the source fails or ctx is done, the Report is
// valid in both cases.
func (j *Job) Run(ctx context.Context, opts Options) (*Report, error) {
	start := j.clock.Now()
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Skip < 0 {
		opts.Skip = 0
	}
	report := &Report{LastGoodOffset: opts.Skip - 1, ResumeOffset: opts.Skip}
	defer func() { report.Duration = j.clock.Since(start) }()

	if opts.ID != "" {
		rec, err := j.source.Lookup(ctx, backend.ByID(opts.ID))
		if err != nil {
			return report, err
		}
		report.Total = 1
		report.add(j.migrate(ctx, opts.Skip, rec))
		if report.Failed == 0 {
			report.ResumeOffset = opts.Skip + 1
		}
		return report, nil
	}

	logger := xlog.C(ctx).With("source", j.source.Name(), "dest", j.pipeline.Adapter().Name())
	offset := opts.Skip
	for {
		page, err := j.source.ListPage(ctx, backend.PageRequest{
			Limit:  opts.PageSize,
			Offset: offset,
			Sort:   backend.SortOldestFirst,
		})
		if err != nil {
			report.resume(offset)
			return report, err
		}
		report.Total = page.Total
		if len(page.Records) == 0 {
			report.resume(offset)
			break
		}

		for i, rec := range page.Records {
			at := offset + i
			if opts.Limit > 0 && report.Migrated >= opts.Limit {
				report.resume(at)
				return report, nil
			}
			if err := ctx.Err(); err != nil {
				report.resume(at)
				return report, errdefs.NewE(errdefs.ErrCanceled, err)
			}
			report.add(j.migrate(ctx, at, rec))
		}
		offset += len(page.Records)
		logger.Debugf("migrated up to offset %d of %d", offset, page.Total)

		if report.Failed > 0 && !opts.ContinueOnError {
			logger.Warnf("stopping at offset %d after %d failures", offset, report.Failed)
			report.resume(offset)
			break
		}
		if offset >= page.Total {
			report.resume(offset)
			break
		}
	}
	logger.Info("migration finished", "migrated", report.Migrated, "failed", report.Failed,
		"resume_offset", report.ResumeOffset)
	return report, nil
}

func (j *Job) migrate(ctx context.Context, offset int, rec *backend.Record) (res ItemResult) {
	res = ItemResult{Offset: offset, ID: rec.ID}
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic while migrating %s: %v", rec.ID, r)
		}
		if res.Err != nil {
			res.Error = res.Err.Error()
			xlog.C(ctx).Warnf("unable to migrate %s at offset %d: %v", rec.ID, offset, res.Err)
		}
	}()

	data, src, err := j.source.Get(ctx, rec.ID)
	if err != nil {
		res.Err = err
		return res
	}
	stored, err := j.pipeline.Store(ctx, data, ingest.StoreOptions{
		ContentType: src.MIME,
		DisplayName: src.DisplayName,
		ForcedID:    src.ID,
		CreatedAt:   src.CreatedAt,
		History:     src.Hashes,
	})
	if err != nil {
		res.Err = err
		return res
	}
	res.NewID, res.Existed = stored.ID, stored.Existed
	return res
}

func (r *Report) add(item ItemResult) {
	r.Items = append(r.Items, item)
	if item.Err != nil {
		r.Failed++
		return
	}
	r.Migrated++
	if item.Offset == r.LastGoodOffset+1 && r.Failed == 0 {
		r.LastGoodOffset = item.Offset
	}
}

// resume sets ResumeOffset to the first failure, or next when nothing failed.
func (r *Report) resume(next int) {
	r.ResumeOffset = next
	for _, item := range r.Items {
		if item.Err != nil {
			r.ResumeOffset = item.Offset
			return
		}
	}
}
