package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Logging returns middleware that logs every request with its status and
// processing time.
func Logging(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		logger.Log(c.Request.Context(), level, "request processed",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"request_id", GetRequestID(c),
			"duration", time.Since(start),
		)
	}
}
