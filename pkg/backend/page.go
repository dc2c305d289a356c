package backend

import (
	"cmp"
	"slices"
)

// SortRecords orders records by CreatedAt and then by id.
func SortRecords(records []*Record, order SortOrder) {
	slices.SortStableFunc(records, func(a, b *Record) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if order == SortNewestFirst {
			return -c
		}
		return c
	})
}

// Paginate sorts records and cuts the requested window out of them. It is
// meant for backends that can only enumerate all records.
func Paginate(records []*Record, req PageRequest) Page {
	req = req.Normalized()
	SortRecords(records, req.Sort)
	page := Page{Total: len(records), Records: []*Record{}}
	if req.Offset >= len(records) {
		return page
	}
	end := min(req.Offset+req.Limit, len(records))
	page.Records = records[req.Offset:end]
	return page
}
