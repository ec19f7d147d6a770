package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/dishrank/internal/metrics"
)

// Metrics counts served requests by method, matched route and status.
// Unmatched paths are folded into one "unmatched" route label.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
