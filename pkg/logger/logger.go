package logger

import (
	"time"

	"crm-auth-service/pkg/config"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader is both the HTTP header and the echo context key that
// carries the request ID across the middleware chain.
const RequestIDHeader = "X-Request-ID"

var log *zap.Logger

// InitLogger builds the global logger from config. Production gets
// structured JSON output; anything else gets the colored development
// encoder.
func InitLogger(cfg *config.Config) {
	var zc zap.Config
	if cfg.Server.Env == "production" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level.SetLevel(level)

	l, err := zc.Build()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	log = l
	log.Info("Logger initialized", zap.String("level", level.String()))
}

// GetLogger returns the global logger, building a plain production logger
// when InitLogger was never called (tests, early startup).
func GetLogger() *zap.Logger {
	if log == nil {
		log = zap.Must(zap.NewProduction())
	}
	return log
}

// Middleware attaches a request-scoped logger to the echo context under the
// "logger" key and emits one structured line per completed request.
func Middleware(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			reqLog := base.With(zap.String("request_id", requestID(c)))
			c.Set("logger", reqLog)

			err := next(c)

			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", c.RealIP()),
				zap.String("user_agent", c.Request().UserAgent()),
			}
			if err != nil {
				reqLog.Error("HTTP request failed", append(fields, zap.Error(err))...)
			} else {
				reqLog.Info("HTTP request completed", fields...)
			}

			return err
		}
	}
}

// requestID reads the ID assigned by the request-ID middleware, falling back
// to the inbound header when that middleware did not run.
func requestID(c echo.Context) string {
	if id, ok := c.Get(RequestIDHeader).(string); ok && id != "" {
		return id
	}
	if id := c.Request().Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return "unknown"
}
