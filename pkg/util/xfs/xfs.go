// Package xfs provides helpers on top of afero filesystems.
package xfs

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// TempPrefix is the name prefix of files being written by WriteFileAtomic.
// Walkers skip them.
const TempPrefix = ".tmp-"

// IsTemp reports whether name is an in-flight temporary file.
func IsTemp(name string) bool {
	return strings.HasPrefix(filepath.Base(name), TempPrefix)
}

// WriteFileAtomic writes data to a temporary sibling of name and renames it
// into place, so concurrent readers see either the old or the new content.
// Parent directories are created as needed.
func WriteFileAtomic(fsys afero.Fs, name string, data []byte, perm fs.FileMode) (err error) {
	dir := filepath.Dir(name)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return NewPathError("mkdir", dir, err)
	}
	tmp, err := afero.TempFile(fsys, dir, TempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = fsys.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = fsys.Chmod(tmpName, perm); err != nil {
		return err
	}
	return fsys.Rename(tmpName, name)
}

// ReadFileIfExists returns the content of name, or nil and false if it does
// not exist.
func ReadFileIfExists(fsys afero.Fs, name string) ([]byte, bool, error) {
	data, err := afero.ReadFile(fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
