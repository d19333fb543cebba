package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"crm-auth-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRequestID(t *testing.T, inboundID string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inboundID != "" {
		req.Header.Set(logger.RequestIDHeader, inboundID)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := RequestIDMiddleware(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	return rec, c
}

func TestRequestIDGenerated(t *testing.T) {
	rec, c := runRequestID(t, "")

	id := rec.Header().Get(logger.RequestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, c.Get(logger.RequestIDHeader))
}

func TestRequestIDReusedFromCaller(t *testing.T) {
	rec, c := runRequestID(t, "req-123")

	assert.Equal(t, "req-123", rec.Header().Get(logger.RequestIDHeader))
	assert.Equal(t, "req-123", c.Get(logger.RequestIDHeader))

	// The logger picks up the same ID through the shared context key
	assert.NotNil(t, logger.FromContext(c))
}
