package middleware

import (
	"context"

	"github.com/agentmesh/billing/internal/pyroscope"
	"github.com/gin-gonic/gin"
)

// PyroscopeMiddleware labels the profile samples of a request with its route
func PyroscopeMiddleware(svc *pyroscope.Service) gin.HandlerFunc {
	if !svc.IsEnabled() {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		labels := map[string]string{
			"method":   c.Request.Method,
			"endpoint": c.FullPath(),
		}

		svc.TagWrapper(c.Request.Context(), labels, func(ctx context.Context) {
			c.Next()
		})
	}
}
