package objectstore

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"

	"github.com/wuxler/imgvault/pkg/errdefs"
)

func TestToError(t *testing.T) {
	testcases := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, errdefs.ErrNotFound},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket"}, errdefs.ErrNotFound},
		{"forbidden", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, errdefs.ErrUnauthorized},
		{"slow down", minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}, errdefs.ErrUnavailable},
		{"throttled", minio.ErrorResponse{StatusCode: http.StatusTooManyRequests}, errdefs.ErrUnavailable},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, toError(tc.err), tc.want)
		})
	}

	assert.NoError(t, toError(nil))
	plain := errors.New("plain")
	assert.Equal(t, plain, toError(plain))
}
