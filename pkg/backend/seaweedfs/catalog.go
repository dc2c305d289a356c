package seaweedfs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/opencontainers/go-digest"
	"github.com/samber/lo"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
)

const driverName = "sqlite"

var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
	"busy_timeout(5000)",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS images (
		id           TEXT PRIMARY KEY,
		filename     TEXT NOT NULL UNIQUE,
		mime         TEXT NOT NULL DEFAULT '',
		size         INTEGER NOT NULL DEFAULT 0,
		width        INTEGER NOT NULL DEFAULT 0,
		height       INTEGER NOT NULL DEFAULT 0,
		quality      INTEGER NOT NULL DEFAULT 0,
		display_name TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		locators     TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS images_created_at ON images (created_at, id)`,
	`CREATE TABLE IF NOT EXISTS image_hashes (
		digest   TEXT PRIMARY KEY,
		image_id TEXT NOT NULL REFERENCES images (id) ON DELETE CASCADE,
		position INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS image_hashes_image_id ON image_hashes (image_id)`,
}

type imageRow struct {
	ID          string `db:"id"`
	Filename    string `db:"filename"`
	MIME        string `db:"mime"`
	Size        int64  `db:"size"`
	Width       int    `db:"width"`
	Height      int    `db:"height"`
	Quality     int    `db:"quality"`
	DisplayName string `db:"display_name"`
	CreatedAt   int64  `db:"created_at"`
	Locators    string `db:"locators"`
}

type hashRow struct {
	Digest  string `db:"digest"`
	ImageID string `db:"image_id"`
}

func toRow(rec *backend.Record) (*imageRow, error) {
	locs := rec.Locators
	if locs == nil {
		locs = []backend.Locator{}
	}
	locators, err := json.Marshal(locs)
	if err != nil {
		return nil, err
	}
	return &imageRow{
		ID:          rec.ID.String(),
		Filename:    rec.Filename,
		MIME:        rec.MIME,
		Size:        rec.Size,
		Width:       rec.Width,
		Height:      rec.Height,
		Quality:     rec.Quality,
		DisplayName: rec.DisplayName,
		CreatedAt:   rec.CreatedAt.UnixNano(),
		Locators:    string(locators),
	}, nil
}

func (r *imageRow) record(hashes []digest.Digest) (*backend.Record, error) {
	rec := &backend.Record{
		ID:          contentaddr.ID(r.ID),
		Filename:    r.Filename,
		Hashes:      hashes,
		MIME:        r.MIME,
		Size:        r.Size,
		Width:       r.Width,
		Height:      r.Height,
		Quality:     r.Quality,
		DisplayName: r.DisplayName,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Locators), &rec.Locators); err != nil {
		return nil, errdefs.Newf(errdefs.ErrDataLoss, "decode locators of %s: %v", r.ID, err)
	}
	return rec, nil
}

// Catalog is the SQLite index of records stored in SeaweedFS.
type Catalog struct {
	db *sqlx.DB
}

// OpenCatalog opens or creates the catalog database at path.
func OpenCatalog(ctx context.Context, path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	dsn := fmt.Sprintf("file:%s?%s", path, q.Encode())
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate catalog %s: %w", path, err)
		}
	}
	return &Catalog{db: db}, nil
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

// Find returns the record matching q, or nil.
func (c *Catalog) Find(ctx context.Context, q backend.Query) (*backend.Record, error) {
	return c.find(ctx, c.db, q)
}

func (c *Catalog) find(ctx context.Context, db sqlx.QueryerContext, q backend.Query) (*backend.Record, error) {
	var id string
	if q.ID != "" {
		id = q.ID.String()
	}
	if id == "" || !c.exists(ctx, db, id) {
		id = ""
		if len(q.Hashes) > 0 {
			query, args, err := sqlx.In(`SELECT image_id FROM image_hashes WHERE digest IN (?) LIMIT 1`,
				lo.Map(q.Hashes, func(d digest.Digest, _ int) string { return d.String() }))
			if err != nil {
				return nil, err
			}
			if err := sqlx.GetContext(ctx, db, &id, query, args...); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
		}
	}
	if id == "" && q.Filename != "" {
		err := sqlx.GetContext(ctx, db, &id, `SELECT id FROM images WHERE filename = ?`, q.Filename)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	if id == "" {
		return nil, nil
	}
	return c.get(ctx, db, id)
}

func (c *Catalog) exists(ctx context.Context, db sqlx.QueryerContext, id string) bool {
	var n int
	err := sqlx.GetContext(ctx, db, &n, `SELECT COUNT(1) FROM images WHERE id = ?`, id)
	return err == nil && n > 0
}

// Get returns the record of id, or nil if unknown.
func (c *Catalog) Get(ctx context.Context, id contentaddr.ID) (*backend.Record, error) {
	return c.get(ctx, c.db, id.String())
}

func (c *Catalog) get(ctx context.Context, db sqlx.QueryerContext, id string) (*backend.Record, error) {
	row := &imageRow{}
	if err := sqlx.GetContext(ctx, db, row, `SELECT * FROM images WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var hashes []digest.Digest
	if err := sqlx.SelectContext(ctx, db, &hashes,
		`SELECT digest FROM image_hashes WHERE image_id = ? ORDER BY position`, id); err != nil {
		return nil, err
	}
	return row.record(hashes)
}

// Insert commits rec in one transaction. When the id or one of the hashes is
// already known the existing record is returned and nothing is written.
func (c *Catalog) Insert(ctx context.Context, rec *backend.Record) (existing *backend.Record, err error) {
	row, err := toRow(rec)
	if err != nil {
		return nil, err
	}
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil || existing != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err = c.find(ctx, tx, backend.Query{ID: rec.ID, Hashes: rec.Hashes})
	if err != nil || existing != nil {
		return existing, err
	}
	if _, err = tx.NamedExecContext(ctx, `INSERT INTO images
		(id, filename, mime, size, width, height, quality, display_name, created_at, locators)
		VALUES (:id, :filename, :mime, :size, :width, :height, :quality, :display_name, :created_at, :locators)`,
		row); err != nil {
		return nil, err
	}
	for i, h := range rec.Hashes {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO image_hashes (digest, image_id, position) VALUES (?, ?, ?)`,
			h.String(), row.ID, i); err != nil {
			return nil, err
		}
	}
	return nil, tx.Commit()
}

// Delete removes the record of id and returns it, or nil if unknown.
func (c *Catalog) Delete(ctx context.Context, id contentaddr.ID) (rec *backend.Record, err error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil || rec == nil {
			_ = tx.Rollback()
		}
	}()

	rec, err = c.get(ctx, tx, id.String())
	if err != nil || rec == nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM image_hashes WHERE image_id = ?`, id.String()); err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id.String()); err != nil {
		return nil, err
	}
	return rec, tx.Commit()
}

// List returns a page of records ordered by creation time.
func (c *Catalog) List(ctx context.Context, req backend.PageRequest) (backend.Page, error) {
	req = req.Normalized()
	var total int
	if err := c.db.GetContext(ctx, &total, `SELECT COUNT(1) FROM images`); err != nil {
		return backend.Page{}, err
	}
	order := "ASC"
	if req.Sort == backend.SortNewestFirst {
		order = "DESC"
	}
	var rows []imageRow
	query := fmt.Sprintf(`SELECT * FROM images ORDER BY created_at %[1]s, id %[1]s LIMIT ? OFFSET ?`, order)
	if err := c.db.SelectContext(ctx, &rows, query, req.Limit, req.Offset); err != nil {
		return backend.Page{}, err
	}
	page := backend.Page{Records: make([]*backend.Record, 0, len(rows)), Total: total}
	if len(rows) == 0 {
		return page, nil
	}

	query, args, err := sqlx.In(`SELECT digest, image_id FROM image_hashes WHERE image_id IN (?) ORDER BY position`,
		lo.Map(rows, func(r imageRow, _ int) string { return r.ID }))
	if err != nil {
		return backend.Page{}, err
	}
	var hashes []hashRow
	if err := c.db.SelectContext(ctx, &hashes, query, args...); err != nil {
		return backend.Page{}, err
	}
	byImage := lo.GroupBy(hashes, func(h hashRow) string { return h.ImageID })
	for i := range rows {
		ds := lo.Map(byImage[rows[i].ID], func(h hashRow, _ int) digest.Digest { return digest.Digest(h.Digest) })
		rec, err := rows[i].record(ds)
		if err != nil {
			return backend.Page{}, err
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}
