package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentdesk/agentdesk/internal/telemetry"
)

// noRouteLabel is used for requests that matched no route, so probing for
// random URLs cannot grow label cardinality.
const noRouteLabel = "<no-route>"

// MetricsMiddleware records http_requests_total and http_request_duration_seconds
// for every request, labelled by the matched route template
// (e.g. /api/v1/chat/:agent_id/messages) rather than the raw URL.
//
// Register it after gin.Recovery() and RequestIDMiddleware so statuses written
// by recovered panics are captured.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRouteLabel
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
