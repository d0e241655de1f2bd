package middleware

import (
	"net/http"

	. "github.com/forbearing/tol/response"
	"github.com/gin-gonic/gin"
)

// RequestSizeLimit returns a middleware that limits the size of incoming request bodies.
// This helps prevent DoS attacks by limiting the amount of data that can be sent in a single request.
//
// Parameters:
//   - maxSize: Maximum allowed size in bytes for the request body
//
// Returns:
//   - A gin.HandlerFunc that enforces the request size limit
//
// Example:
//
//	// Limit request body to 10MB
//	router.Use(middleware.RequestSizeLimit(10 * 1024 * 1024))
//
//	// Limit request body to 1MB
//	router.Use(middleware.RequestSizeLimit(1024 * 1024))
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check Content-Length header first (if available and valid)
		if c.Request.ContentLength > 0 && c.Request.ContentLength > maxSize {
			ResponseJSON(c, CodeBadRequest.WithMsg("request body too large"))
			c.Abort()
			return
		}

		// Limit the request body reader (handles nil body case)
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}
		c.Next()
	}
}
