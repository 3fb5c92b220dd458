package middleware

import (
	"strconv"
	"time"

	"flea_market/internal/metrics"

	"github.com/gin-gonic/gin"
)

// RequestMetrics 按路由模板统计请求数与耗时，未匹配的路由记为 unmatched。
func RequestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		latency := float64(time.Since(start).Microseconds()) / 1000
		m.ObserveRequest(route, strconv.Itoa(c.Writer.Status()), latency)
	}
}
