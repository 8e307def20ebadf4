package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/timmy/bloodcell/internal/logger"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const loggerKey = "logger"

// maxRequestIDLength bounds client-supplied request ids.
const maxRequestIDLength = 64

// Logger returns a Gin middleware that attaches a request-scoped logger to the
// request context and writes one line per request once it completes.
// A well-formed incoming X-Request-ID is reused, otherwise a new one is generated.
// Routes with an :id parameter tag the logger with that analysis ID.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if !validRequestID(requestID) {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := logger.WithFields(c.Request.Context(), logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		})
		if id := c.Param("id"); id != "" {
			ctx = logger.SetAnalysisID(ctx, id)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(loggerKey, logger.FromContext(ctx))

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		entry := logger.With(logger.Fields{
			"method":         c.Request.Method,
			"route":          route,
			"client_ip":      c.ClientIP(),
			logger.FieldSize: c.Writer.Size(),
		}).WithStatus(status).WithDuration(time.Since(start))

		switch {
		case status >= 500:
			entry.Error(ctx, "%s %s failed", c.Request.Method, c.Request.URL.Path)
		case status >= 400:
			entry.Warn(ctx, "%s %s rejected", c.Request.Method, c.Request.URL.Path)
		case route == "/health" || route == "/api/health":
			entry.Debug(ctx, "%s %s", c.Request.Method, c.Request.URL.Path)
		default:
			entry.Info(ctx, "%s %s", c.Request.Method, c.Request.URL.Path)
		}
	}
}

// GetLogger returns the request-scoped logger, falling back to the one carried
// by the request context.
func GetLogger(c *gin.Context) *logger.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return logger.FromContext(c.Request.Context())
}

// validRequestID accepts up to 64 characters of [A-Za-z0-9._-].
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
