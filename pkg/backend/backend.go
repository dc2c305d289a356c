// Package backend defines the storage contract shared by all persistence
// implementations of the image store.
package backend

import (
	"context"

	"github.com/opencontainers/go-digest"

	"github.com/wuxler/imgvault/pkg/contentaddr"
)

//go:generate mockgen -destination=./mocks/mock_backend.go -package=mocks github.com/wuxler/imgvault/pkg/backend Adapter

// Adapter persists original image bytes together with their Record.
//
// Implementations must make Put idempotent and all-or-nothing: a reader never
// observes a record without its bytes.
type Adapter interface {
	// Name returns the backend identifier recorded in Locators.
	Name() string

	// Exists looks for a record matching the query by id, by any of the hashes
	// or by the storage filename, and returns its canonical id.
	Exists(ctx context.Context, q Query) (contentaddr.ID, bool, error)

	// Lookup is like Exists but returns the matching record without its
	// bytes. It returns an error wrapping errdefs.ErrNotFound if nothing
	// matches.
	Lookup(ctx context.Context, q Query) (*Record, error)

	// Get returns the original bytes and the record of id. It returns an error
	// wrapping errdefs.ErrNotFound if the id is unknown.
	Get(ctx context.Context, id contentaddr.ID) ([]byte, *Record, error)

	// Put stores data under rec and returns the canonical id. Storing content
	// that is already present returns the existing id without rewriting.
	// Asserting an id that is bound to different content fails with
	// errdefs.ErrConflict.
	Put(ctx context.Context, data []byte, rec *Record) (contentaddr.ID, error)

	// Delete removes the record and bytes of id.
	Delete(ctx context.Context, id contentaddr.ID) error

	// ListPage returns a page of records in a stable CreatedAt order.
	ListPage(ctx context.Context, req PageRequest) (Page, error)

	// Close releases the resources held by the adapter.
	Close() error
}

// Query selects a record by any of its identities. Zero fields are ignored.
type Query struct {
	ID       contentaddr.ID
	Hashes   []digest.Digest
	Filename string
}

// ByID returns a Query matching id.
func ByID(id contentaddr.ID) Query { return Query{ID: id} }

// ByHash returns a Query matching any of hashes.
func ByHash(hashes ...digest.Digest) Query { return Query{Hashes: hashes} }

// ByFilename returns a Query matching the storage path.
func ByFilename(filename string) Query { return Query{Filename: filename} }

// IsZero reports whether the query has no criteria.
func (q Query) IsZero() bool {
	return q.ID == "" && len(q.Hashes) == 0 && q.Filename == ""
}

// SortOrder is the CreatedAt order of ListPage.
type SortOrder int

const (
	// SortNewestFirst lists the most recent records first.
	SortNewestFirst SortOrder = iota
	// SortOldestFirst lists records in insertion order, which keeps offsets
	// stable while new records arrive.
	SortOldestFirst
)

// String implements fmt.Stringer.
func (o SortOrder) String() string {
	if o == SortOldestFirst {
		return "oldest"
	}
	return "newest"
}

// ParseSortOrder parses "newest" or "oldest".
func ParseSortOrder(s string) SortOrder {
	if s == "oldest" || s == "asc" {
		return SortOldestFirst
	}
	return SortNewestFirst
}

// DefaultPageLimit is used when a PageRequest carries no limit.
const DefaultPageLimit = 50

// PageRequest selects a window of records.
type PageRequest struct {
	Limit  int
	Offset int
	Sort   SortOrder
}

// Normalized returns the request with defaults applied.
func (r PageRequest) Normalized() PageRequest {
	if r.Limit <= 0 {
		r.Limit = DefaultPageLimit
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
	return r
}

// Page is a window of records plus the total number of records.
type Page struct {
	Records []*Record `json:"records"`
	Total   int       `json:"total"`
}
