package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequestObserver logs each admin request and records its metrics. Scrapes of
// /metrics log at debug so a busy collector does not flood the output.
func RequestObserver(node string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		elapsed := time.Since(start)
		RecordHTTPRequest(node, c.Request.Method, path, status, elapsed)

		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case path == "/metrics":
			event = logger.Debug()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("admin_request")
	}
}
