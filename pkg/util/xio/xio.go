// Package xio provides io helpers.
package xio

import (
	"io"

	"github.com/wuxler/imgvault/pkg/errdefs"
)

const (
	_   = iota
	KiB = 1 << (10 * iota)
	MiB
	GiB
)

// ReadAllLimit reads r until EOF and fails with errdefs.ErrTooLarge when more
// than limit bytes are available. A limit <= 0 disables the check.
func ReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errdefs.Newf(errdefs.ErrTooLarge, "size to read limit hit: %d bytes", limit)
	}
	return data, nil
}
