package logger

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// FromContext returns the request-scoped logger set by Middleware. When the
// middleware did not run (unit tests, standalone handlers) it falls back to
// the global logger tagged with whatever request ID is available.
func FromContext(c echo.Context) *zap.Logger {
	if l, ok := c.Get("logger").(*zap.Logger); ok {
		return l
	}
	return GetLogger().With(zap.String("request_id", requestID(c)))
}
