package middleware

import (
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/forbearing/tol/metrics"
	"github.com/forbearing/tol/util"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger returns a middleware that records request metrics and emits a
// structured access log line through l for every request.
func Logger(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		labelPath := sanitizeLabelValue(path)
		query := c.Request.URL.RawQuery
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, labelPath, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, labelPath, status).Observe(time.Since(start).Seconds())

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.String("latency", util.FormatDurationSmart(time.Since(start))),
		}

		if len(c.Errors) > 0 {
			for _, e := range c.Errors.Errors() {
				l.Error(e, fields...)
			}
		} else {
			l.Info(path, fields...)
		}
	}
}

// sanitizeLabelValue ensures we never export non UTF-8 label values to Prometheus.
func sanitizeLabelValue(value string) string {
	if value == "" {
		return "<empty>"
	}
	if utf8.ValidString(value) {
		return value
	}
	return "<invalid>"
}
