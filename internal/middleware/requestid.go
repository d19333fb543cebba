package middleware

import (
	"crm-auth-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDMiddleware assigns each request an ID, reusing the caller's
// X-Request-ID when one is supplied. The ID is stored in the echo context
// for the logger and echoed back on the response.
func RequestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(logger.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(logger.RequestIDHeader, id)
		c.Response().Header().Set(logger.RequestIDHeader, id)
		return next(c)
	}
}
