package backend

import (
	"path"
	"slices"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/samber/lo"

	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
)

// Locator is a backend specific pointer to the stored bytes. Its fields are
// only meaningful to the backend that wrote it.
type Locator struct {
	Backend string `json:"backend"`
	Key     string `json:"key"`
	Host    string `json:"host,omitempty"`
}

// Record is the metadata of a stored original.
type Record struct {
	ID       contentaddr.ID `json:"id"`
	Filename string         `json:"filename"`
	// Hashes is the ordered history of digests the content had while being
	// normalized. The last entry is the digest of the stored bytes.
	Hashes      []digest.Digest `json:"hashes"`
	MIME        string          `json:"mime"`
	Size        int64           `json:"size"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Quality     int             `json:"quality,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Locators    []Locator       `json:"locators,omitempty"`
}

// Validate checks the invariants every stored record satisfies.
func (r *Record) Validate() error {
	if r == nil {
		return errdefs.Newf(errdefs.ErrInvalidParameter, "record is nil")
	}
	if err := r.ID.Validate(); err != nil {
		return err
	}
	if len(r.Hashes) == 0 {
		return errdefs.Newf(errdefs.ErrInvalidParameter, "record %s has no hashes", r.ID)
	}
	for _, h := range r.Hashes {
		if err := h.Validate(); err != nil {
			return errdefs.NewE(errdefs.ErrInvalidParameter, err)
		}
	}
	if r.Filename == "" {
		return errdefs.Newf(errdefs.ErrInvalidParameter, "record %s has no filename", r.ID)
	}
	return nil
}

// Digest returns the digest of the stored bytes.
func (r *Record) Digest() digest.Digest {
	if len(r.Hashes) == 0 {
		return ""
	}
	return r.Hashes[len(r.Hashes)-1]
}

// Ext returns the extension of the storage filename without leading dot.
func (r *Record) Ext() string {
	ext := path.Ext(r.Filename)
	if ext == "" {
		return ""
	}
	return ext[1:]
}

// HasHash reports whether d is part of the hash history.
func (r *Record) HasHash(d digest.Digest) bool {
	return slices.Contains(r.Hashes, d)
}

// Overlaps reports whether both records share at least one hash.
func (r *Record) Overlaps(other *Record) bool {
	if r == nil || other == nil {
		return false
	}
	return lo.SomeBy(other.Hashes, r.HasHash)
}

// Locator returns the locator written by backend.
func (r *Record) Locator(backend string) (Locator, bool) {
	return lo.Find(r.Locators, func(l Locator) bool { return l.Backend == backend })
}

// WithLocator returns a copy of r with loc replacing any locator of the same
// backend.
func (r *Record) WithLocator(loc Locator) *Record {
	c := r.Clone()
	c.Locators = lo.Filter(c.Locators, func(l Locator, _ int) bool { return l.Backend != loc.Backend })
	c.Locators = append(c.Locators, loc)
	return c
}

// Matches reports whether the record satisfies any criterion of q.
func (r *Record) Matches(q Query) bool {
	if q.ID != "" && r.ID == q.ID {
		return true
	}
	if q.Filename != "" && r.Filename == q.Filename {
		return true
	}
	return lo.SomeBy(q.Hashes, r.HasHash)
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Hashes = slices.Clone(r.Hashes)
	c.Locators = slices.Clone(r.Locators)
	return &c
}

// Verify checks that data matches the last hash of rec.
func Verify(rec *Record, data []byte) error {
	d := rec.Digest()
	if d == "" || !d.Algorithm().Available() {
		return nil
	}
	if got := d.Algorithm().FromBytes(data); got != d {
		return errdefs.Newf(errdefs.ErrDataLoss, "content of %s has digest %s, want %s", rec.ID, got, d)
	}
	return nil
}

// CheckConflict returns errdefs.ErrConflict when incoming asserts the id of
// existing but shares none of its hashes.
func CheckConflict(existing, incoming *Record) error {
	if existing == nil || incoming == nil || existing.ID != incoming.ID {
		return nil
	}
	if existing.Overlaps(incoming) {
		return nil
	}
	return errdefs.Newf(errdefs.ErrConflict,
		"id %s is already bound to %s, refusing %s", existing.ID, existing.Digest(), incoming.Digest())
}
