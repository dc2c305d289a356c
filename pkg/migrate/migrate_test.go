package migrate_test

import (
	"bytes"
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/backend/memory"
	"github.com/wuxler/imgvault/pkg/backend/mocks"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/ingest"
	"github.com/wuxler/imgvault/pkg/migrate"
)

var epoch = time.Date(2023, 6, 1, 8, 0, 0, 0, time.UTC)

// faultyAdapter fails or panics on Put for selected ids.
type faultyAdapter struct {
	backend.Adapter
	fail  map[contentaddr.ID]bool
	panic map[contentaddr.ID]bool
}

func (a *faultyAdapter) Put(ctx context.Context, data []byte, rec *backend.Record) (contentaddr.ID, error) {
	if a.panic[rec.ID] {
		panic("disk on fire")
	}
	if a.fail[rec.ID] {
		return "", errdefs.Newf(errdefs.ErrUnavailable, "%s is read only", a.Name())
	}
	return a.Adapter.Put(ctx, data, rec)
}

// seed stores n distinct images into a new source, one minute apart, and
// returns the source with the ids in oldest first order.
func seed(t *testing.T, n int) (backend.Adapter, []contentaddr.ID) {
	t.Helper()
	source := memory.New("source")
	mock := clock.NewMock()
	mock.Set(epoch)
	p, err := ingest.New(source, ingest.DefaultPolicy(), ingest.WithClock(mock))
	require.NoError(t, err)

	ids := make([]contentaddr.ID, 0, n)
	for i := 0; i < n; i++ {
		img := imaging.New(8+i, 8, color.NRGBA{R: uint8(i * 40), G: 10, B: 200, A: 255})
		buf := &bytes.Buffer{}
		require.NoError(t, imaging.Encode(buf, img, imaging.PNG))
		res, err := p.Store(context.Background(), buf.Bytes(), ingest.StoreOptions{DisplayName: "image"})
		require.NoError(t, err)
		ids = append(ids, res.ID)
		mock.Add(time.Minute)
	}
	return source, ids
}

func newJob(t *testing.T, source, dest backend.Adapter) *migrate.Job {
	t.Helper()
	p, err := ingest.New(dest, ingest.DefaultPolicy())
	require.NoError(t, err)
	j, err := migrate.New(source, p, migrate.WithClock(clock.NewMock()))
	require.NoError(t, err)
	return j
}

func TestJob_Run(t *testing.T) {
	testcases := []struct {
		name           string
		opts           migrate.Options
		wantOffsets    []int
		wantResume     int
		wantLastGood   int
		wantDestImages int
	}{
		{
			name:         "all",
			opts:         migrate.Options{PageSize: 2},
			wantOffsets:  []int{0, 1, 2, 3, 4},
			wantResume:   5,
			wantLastGood: 4,
		},
		{
			name:         "skip and limit",
			opts:         migrate.Options{PageSize: 2, Skip: 1, Limit: 2},
			wantOffsets:  []int{1, 2},
			wantResume:   3,
			wantLastGood: 2,
		},
		{
			name:         "limit on page boundary",
			opts:         migrate.Options{PageSize: 3, Limit: 3},
			wantOffsets:  []int{0, 1, 2},
			wantResume:   3,
			wantLastGood: 2,
		},
		{
			name:         "skip past the end",
			opts:         migrate.Options{Skip: 10},
			wantOffsets:  nil,
			wantResume:   10,
			wantLastGood: 9,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			source, ids := seed(t, 5)
			dest := memory.New("dest")
			report, err := newJob(t, source, dest).Run(context.Background(), tc.opts)
			require.NoError(t, err)

			var offsets []int
			for _, item := range report.Items {
				require.NoError(t, item.Err)
				assert.Equal(t, ids[item.Offset], item.ID)
				assert.Equal(t, item.ID, item.NewID)
				offsets = append(offsets, item.Offset)
			}
			assert.Equal(t, tc.wantOffsets, offsets)
			assert.Equal(t, tc.wantResume, report.ResumeOffset)
			assert.Equal(t, tc.wantLastGood, report.LastGoodOffset)
			assert.Equal(t, 5, report.Total)

			page, err := dest.ListPage(context.Background(), backend.PageRequest{Sort: backend.SortOldestFirst})
			require.NoError(t, err)
			assert.Equal(t, len(tc.wantOffsets), page.Total)
		})
	}
}

func TestJob_Run_PreservesRecords(t *testing.T) {
	source, ids := seed(t, 3)
	dest := memory.New("dest")
	_, err := newJob(t, source, dest).Run(context.Background(), migrate.Options{})
	require.NoError(t, err)

	for i, id := range ids {
		_, want, err := source.Get(context.Background(), id)
		require.NoError(t, err)
		_, got, err := dest.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want.Filename, got.Filename)
		assert.Equal(t, want.Hashes, got.Hashes)
		assert.Equal(t, epoch.Add(time.Duration(i)*time.Minute), got.CreatedAt)
		assert.Equal(t, "image", got.DisplayName)
	}
}

func TestJob_Run_Idempotent(t *testing.T) {
	source, _ := seed(t, 4)
	dest := memory.New("dest")
	job := newJob(t, source, dest)

	first, err := job.Run(context.Background(), migrate.Options{PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, first.Migrated)

	second, err := job.Run(context.Background(), migrate.Options{PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, second.Migrated)
	for _, item := range second.Items {
		assert.True(t, item.Existed)
	}
}

func TestJob_Run_FailureStopsAtPageBoundary(t *testing.T) {
	testcases := []struct {
		name            string
		continueOnError bool
		panics          bool
		wantOffsets     []int
	}{
		{name: "stop", wantOffsets: []int{0, 1, 2, 3}},
		{name: "panic", panics: true, wantOffsets: []int{0, 1, 2, 3}},
		{name: "continue", continueOnError: true, wantOffsets: []int{0, 1, 2, 3, 4, 5}},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			source, ids := seed(t, 6)
			dest := &faultyAdapter{Adapter: memory.New("dest")}
			if tc.panics {
				dest.panic = map[contentaddr.ID]bool{ids[2]: true}
			} else {
				dest.fail = map[contentaddr.ID]bool{ids[2]: true}
			}

			report, err := newJob(t, source, dest).Run(context.Background(), migrate.Options{
				PageSize:        2,
				ContinueOnError: tc.continueOnError,
			})
			require.NoError(t, err)

			var offsets []int
			for _, item := range report.Items {
				offsets = append(offsets, item.Offset)
				if item.Offset == 2 {
					assert.Error(t, item.Err)
					assert.NotEmpty(t, item.Error)
				} else {
					assert.NoError(t, item.Err)
				}
			}
			assert.Equal(t, tc.wantOffsets, offsets)
			assert.Equal(t, 1, report.Failed)
			assert.Equal(t, len(tc.wantOffsets)-1, report.Migrated)
			assert.Equal(t, 2, report.ResumeOffset)
			assert.Equal(t, 1, report.LastGoodOffset)
		})
	}
}

func TestJob_Run_SingleID(t *testing.T) {
	source, ids := seed(t, 3)
	dest := memory.New("dest")
	report, err := newJob(t, source, dest).Run(context.Background(), migrate.Options{ID: ids[1]})
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, ids[1], report.Items[0].NewID)

	_, ok, err := dest.Exists(context.Background(), backend.ByID(ids[0]))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = newJob(t, source, dest).Run(context.Background(), migrate.Options{ID: "Missing1"})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestJob_Run_SourceUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mocks.NewMockAdapter(ctrl)
	source.EXPECT().Name().Return("flaky").AnyTimes()
	source.EXPECT().ListPage(gomock.Any(), backend.PageRequest{Limit: 10, Offset: 7, Sort: backend.SortOldestFirst}).
		Return(backend.Page{}, errdefs.Newf(errdefs.ErrUnavailable, "flaky backend: connection refused"))

	report, err := newJob(t, source, memory.New("dest")).Run(context.Background(), migrate.Options{PageSize: 10, Skip: 7})
	require.Error(t, err)
	assert.True(t, errdefs.IsRetryable(err))
	assert.Equal(t, 7, report.ResumeOffset)
	assert.Empty(t, report.Items)
}

func TestJob_Run_Canceled(t *testing.T) {
	source, _ := seed(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newJob(t, source, memory.New("dest")).Run(ctx, migrate.Options{Skip: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrCanceled)
	assert.Equal(t, 1, report.ResumeOffset)
}

func TestNew_InvalidArguments(t *testing.T) {
	_, err := migrate.New(nil, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidParameter)
}
