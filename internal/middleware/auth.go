package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"crm-auth-service/pkg/jwtutil"
	"crm-auth-service/pkg/logger"
	"crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AuthMiddleware validates the JWT token from the Authorization header.
// This is the single enforcement point: identity and tenant context are
// derived only from the verified token, never from inbound headers.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromContext(c)

		// Get the Authorization header
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			log.Warn("Missing Authorization header")
			prometheus.RecordAuthError("missing_token")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
		}

		// Check if it's a Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			log.Warn("Invalid Authorization header format")
			prometheus.RecordAuthError("invalid_auth_format")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
		}

		// Validate the token; a malformed, expired, or tampered token gets
		// the same rejection as a missing one
		claims, err := jwtutil.ValidateToken(parts[1])
		if err != nil {
			log.Warn("Invalid JWT token", zap.Error(err))
			prometheus.RecordAuthError("invalid_token")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
		}

		// Store user info in context for later use
		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)

		// Tenant context is optional: a user who has not selected a tenant
		// yet carries no tenant claim and only tenant-free routes apply
		if claims.TenantID != nil {
			c.Set("tenant_id", *claims.TenantID)
			c.Set("tenant_name", claims.TenantName)
			c.Set("user_role", claims.Role)

			// Propagate tenant context to downstream services
			c.Request().Header.Set("X-Tenant-ID", fmt.Sprintf("%d", *claims.TenantID))
			if claims.Role != "" {
				c.Request().Header.Set("X-User-Role", claims.Role)
			}

			log.Debug("Request authenticated with tenant context",
				zap.Uint("tenant_id", *claims.TenantID),
				zap.String("tenant_name", claims.TenantName),
				zap.String("role", claims.Role))
		}

		return next(c)
	}
}

// RequireTenantContext rejects requests whose access token carries no
// tenant. Applied only to routes that operate on tenant-scoped data.
func RequireTenantContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := c.Get("tenant_id").(uint); !ok {
			log := logger.FromContext(c)
			log.Warn("Request without tenant context on tenant-scoped route")
			prometheus.RecordAuthError("missing_tenant_context")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context required"})
		}
		return next(c)
	}
}
