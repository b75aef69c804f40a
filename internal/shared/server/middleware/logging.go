package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"healthrecords-backend/internal/shared/metrics"
	"healthrecords-backend/internal/shared/telemetry"
)

// Context keys handlers may set to enrich the request log line.
const (
	DocumentIDKey       = "documentId"
	StatusTransitionKey = "statusTransition"
)

// Logging emits a structured log and request metrics per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		metrics.ObserveHTTPRequest(c.Request.Method, c.FullPath(), status, latency)

		telemetry.Info("request.complete", map[string]any{
			"request_id":        RequestIDFromContext(c),
			"method":            c.Request.Method,
			"path":              c.Request.URL.Path,
			"route":             c.FullPath(),
			"status":            status,
			"status_transition": c.GetString(StatusTransitionKey),
			"duration_ms":       float64(latency.Microseconds()) / 1000.0,
			"identity":          IdentityFromContext(c),
			"document_id":       c.GetString(DocumentIDKey),
			"client_ip":         c.ClientIP(),
			"user_agent":        c.Request.UserAgent(),
		})
	}
}
