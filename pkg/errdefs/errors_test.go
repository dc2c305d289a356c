package errdefs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/imgvault/pkg/errdefs"
)

var errTest = errors.New("this is a test")

func TestErrors(t *testing.T) {
	testcases := []struct {
		name string
		err  error
	}{
		{"NotFound", errdefs.ErrNotFound},
		{"InvalidParameter", errdefs.ErrInvalidParameter},
		{"Conflict", errdefs.ErrConflict},
		{"Unauthorized", errdefs.ErrUnauthorized},
		{"Unavailable", errdefs.ErrUnavailable},
		{"Canceled", errdefs.ErrCanceled},
		{"DeadlineExceeded", errdefs.ErrDeadlineExceeded},
		{"DataLoss", errdefs.ErrDataLoss},
		{"Unsupported", errdefs.ErrUnsupported},
		{"TooLarge", errdefs.ErrTooLarge},
		{"PolicyViolation", errdefs.ErrPolicyViolation},
		{"Moved", errdefs.ErrMoved},
	}

	for _, tc := range testcases {
		t.Run("NewE_"+tc.name, func(t *testing.T) {
			assert.NotErrorIs(t, errTest, tc.err)
			e := errdefs.NewE(tc.err, errTest)
			assert.ErrorIs(t, e, tc.err)
			assert.ErrorIs(t, e, errTest)
		})
	}

	for _, tc := range testcases {
		t.Run("Newf_"+tc.name, func(t *testing.T) {
			e := errdefs.Newf(tc.err, "this is a test")
			assert.ErrorIs(t, e, tc.err)
		})
	}
}

func TestNewE_Idempotent(t *testing.T) {
	assert.NoError(t, errdefs.NewE(errdefs.ErrNotFound, nil))

	wrapped := errdefs.NewE(errdefs.ErrNotFound, errTest)
	assert.Same(t, wrapped, errdefs.NewE(errdefs.ErrNotFound, wrapped))
}

func TestMovedError(t *testing.T) {
	err := fmt.Errorf("resolve: %w", errdefs.NewMoved("s100/ab/cd/efgh.jpg"))

	assert.ErrorIs(t, err, errdefs.ErrMoved)
	assert.NotErrorIs(t, err, errdefs.ErrNotFound)

	var moved *errdefs.MovedError
	require.ErrorAs(t, err, &moved)
	assert.Equal(t, "s100/ab/cd/efgh.jpg", moved.Location)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, errdefs.IsRetryable(errdefs.Newf(errdefs.ErrUnavailable, "dial tcp: refused")))
	assert.False(t, errdefs.IsRetryable(errdefs.ErrConflict))
	assert.False(t, errdefs.IsRetryable(nil))
}
