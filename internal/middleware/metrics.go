package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classmark-api/internal/service"
)

// Metrics records request duration and status per route template. The route
// template keeps cardinality bounded even when IDs appear in the path.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	if metricsSvc == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
