package contentaddr

import (
	"path"
	"strings"

	"github.com/wuxler/imgvault/pkg/errdefs"
)

// ToPath shards the id into a three level storage path "xx/yy/rest.ext".
func ToPath(id ID, ext string) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" || strings.ContainsAny(ext, "/.") {
		return "", errdefs.Newf(ErrInvalidStoragePath, "invalid extension %q", ext)
	}
	s := string(id)
	return s[0:2] + "/" + s[2:4] + "/" + s[4:] + "." + ext, nil
}

// ParsePath is the inverse of ToPath.
func ParsePath(p string) (ID, string, error) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) != 3 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return "", "", errdefs.Newf(ErrInvalidStoragePath, "%q is not in form xx/yy/rest.ext", p)
	}
	ext := path.Ext(parts[2])
	rest := strings.TrimSuffix(parts[2], ext)
	ext = strings.TrimPrefix(ext, ".")
	if rest == "" || ext == "" {
		return "", "", errdefs.Newf(ErrInvalidStoragePath, "%q has no extension", p)
	}
	id := ID(parts[0] + parts[1] + rest)
	if err := id.Validate(); err != nil {
		return "", "", err
	}
	return id, ext, nil
}
