package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RemoteCodeKey is the gin context key handlers set when a request failed
// with a remote error code.
const RemoteCodeKey = "toolrun.remote_code"

// RequestLogger logs one line per request for the server named server. Run
// routes add the run id from the :id param and failed calls add the remote
// code stored under RemoteCodeKey.
func RequestLogger(logger zerolog.Logger, server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event = event.
			Str("server", server).
			Str("method", c.Request.Method).
			Str("route", path).
			Int("status", status).
			Dur("duration", time.Since(start))
		if runID := c.Param("id"); runID != "" {
			event = event.Str("run_id", runID)
		}
		if code := c.GetString(RemoteCodeKey); code != "" {
			event = event.Str("code", code)
		}
		event.Msg("toolserver.http request")
	}
}

func RequestMetricsMiddleware(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		RecordHTTPRequest(server, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
