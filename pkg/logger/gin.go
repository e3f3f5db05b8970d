package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-Id"
	ginLoggerKey    = "logger"
)

// Middleware tags every request with a request id and emits one summary
// line per request. The request-scoped logger is stashed on the gin context
// for handlers to pick up via FromGin.
func Middleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, rid)

		reqLog := base.With("request_id", rid)
		c.Set(ginLoggerKey, reqLog)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		fields := []any{
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			reqLog.Error("http request", append(fields, "errors", c.Errors.String())...)
			return
		}
		reqLog.Info("http request", fields...)
	}
}

// FromGin returns the request-scoped logger, or slog.Default outside the
// middleware.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginLoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
