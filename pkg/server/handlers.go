package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/wuxler/imgvault/pkg/backend"
	"github.com/wuxler/imgvault/pkg/contentaddr"
	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/ingest"
	"github.com/wuxler/imgvault/pkg/util/xio"
	"github.com/wuxler/imgvault/pkg/xlog"
)

// derivative serves "/{size}{mod}/{xx}/{yy}/{rest}.{ext}".
func (s *Server) derivative(c *gin.Context) {
	requestPath := strings.Join([]string{c.Param("size"), c.Param("g1"), c.Param("g2"), c.Param("file")}, "/")
	r, res, err := s.cache.Open(c.Request.Context(), requestPath)
	if err != nil {
		abort(c, err)
		return
	}
	defer xio.CloseAndLogError(c.Request.Context(), r, "derivative", requestPath)

	c.Header("Content-Type", res.MIME)
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	if res.CanonicalPath != requestPath {
		c.Header("Link", `</`+res.CanonicalPath+`>; rel="canonical"`)
	}
	http.ServeContent(c.Writer, c.Request, res.CanonicalPath, time.Time{}, r)
}

// upload stores the multipart "file" field or the raw request body.
func (s *Server) upload(c *gin.Context) {
	ctx := c.Request.Context()
	opts := ingest.StoreOptions{
		ContentType: c.ContentType(),
		DisplayName: c.Query("name"),
	}

	var data []byte
	var err error
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, ferr := c.FormFile("file")
		if ferr != nil {
			abort(c, errdefs.NewE(errdefs.ErrInvalidParameter, ferr))
			return
		}
		if header.Size > s.opts.MaxUploadSize {
			abort(c, errdefs.Newf(errdefs.ErrTooLarge, "upload is %d bytes, limit is %d", header.Size, s.opts.MaxUploadSize))
			return
		}
		f, ferr := header.Open()
		if ferr != nil {
			abort(c, ferr)
			return
		}
		defer xio.CloseAndSkipError(f)
		data, err = xio.ReadAllLimit(f, s.opts.MaxUploadSize)
		opts.ContentType = header.Header.Get("Content-Type")
		if opts.DisplayName == "" {
			opts.DisplayName = c.PostForm("name")
		}
		if opts.DisplayName == "" {
			opts.DisplayName = header.Filename
		}
	} else {
		data, err = xio.ReadAllLimit(c.Request.Body, s.opts.MaxUploadSize)
	}
	if err != nil {
		abort(c, err)
		return
	}
	if len(data) == 0 {
		abort(c, errdefs.Newf(errdefs.ErrInvalidParameter, "empty upload"))
		return
	}

	res, err := s.pipeline.Store(ctx, data, opts)
	if err != nil {
		abort(c, err)
		return
	}
	xlog.C(ctx).Debug("upload stored", "id", res.ID, "existed", res.Existed)
	c.JSON(http.StatusCreated, res)
}

func (s *Server) metadata(c *gin.Context) {
	rec, err := s.adapter.Lookup(c.Request.Context(), backend.ByID(contentaddr.ID(c.Param("id"))))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) delete(c *gin.Context) {
	ctx := c.Request.Context()
	id := contentaddr.ID(c.Param("id"))
	if err := id.Validate(); err != nil {
		abort(c, err)
		return
	}
	if err := s.adapter.Delete(ctx, id); err != nil {
		abort(c, err)
		return
	}
	if _, err := s.cache.Purge(ctx, id); err != nil {
		xlog.C(ctx).Warnf("unable to purge cached files of %s: %v", id, err)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) list(c *gin.Context) {
	var req backend.PageRequest
	var err error
	if req.Limit, err = queryInt(c, "limit"); err != nil {
		abort(c, err)
		return
	}
	if req.Offset, err = queryInt(c, "offset"); err != nil {
		abort(c, err)
		return
	}
	req.Sort = backend.ParseSortOrder(c.Query("sort"))

	page, err := s.adapter.ListPage(c.Request.Context(), req.Normalized())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := strings.TrimLeft(c.Query(key), "0")
	if v == "" {
		return 0, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil || n < 0 {
		return 0, errdefs.Newf(errdefs.ErrInvalidParameter, "query %s=%q is not a positive integer", key, c.Query(key))
	}
	return n, nil
}
