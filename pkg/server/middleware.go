package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wuxler/imgvault/pkg/xlog"
)

// LoggingMiddleware injects a request scoped logger into the request context
// and logs every request at debug level, or warn level for server errors.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := xlog.WithContext(c.Request.Context(), "method", c.Request.Method, "path", c.Request.URL.Path)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger := xlog.C(ctx).With("status", c.Writer.Status(), "latency", time.Since(start))
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", "errors", c.Errors.String())
			return
		}
		logger.Debug("request served")
	}
}

// HandlePanics answers 500 with the recovered value.
func HandlePanics() gin.RecoveryFunc {
	return func(c *gin.Context, recovered any) {
		xlog.C(c.Request.Context()).Error("panic while serving request", "panic", fmt.Sprint(recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
