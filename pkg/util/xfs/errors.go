package xfs

import (
	"io/fs"
)

// NewPathError returns a new *[fs.PathError].
func NewPathError(op string, path string, err error) error {
	return &fs.PathError{Op: op, Path: path, Err: err}
}
