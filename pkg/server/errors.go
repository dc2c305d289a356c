package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/imgproc"
)

var statusMapping = []struct {
	err    error
	status int
}{
	{imgproc.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
	{errdefs.ErrNotFound, http.StatusNotFound},
	{errdefs.ErrInvalidParameter, http.StatusBadRequest},
	{errdefs.ErrTooLarge, http.StatusRequestEntityTooLarge},
	{errdefs.ErrPolicyViolation, http.StatusUnprocessableEntity},
	{errdefs.ErrConflict, http.StatusConflict},
	{errdefs.ErrUnauthorized, http.StatusForbidden},
	{errdefs.ErrUnsupported, http.StatusNotImplemented},
	{errdefs.ErrCanceled, http.StatusServiceUnavailable},
	{errdefs.ErrUnavailable, http.StatusServiceUnavailable},
	{errdefs.ErrDataLoss, http.StatusInternalServerError},
}

// StatusCode maps err to an HTTP status code.
func StatusCode(err error) int {
	for _, m := range statusMapping {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// abort answers the request with the status of err. Moved errors redirect
// to the canonical location.
func abort(c *gin.Context, err error) {
	var moved *errdefs.MovedError
	if errors.As(err, &moved) {
		c.Redirect(http.StatusMovedPermanently, "/"+moved.Location)
		c.Abort()
		return
	}
	status := StatusCode(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
