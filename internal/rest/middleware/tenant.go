package middleware

import (
	"strings"

	ierr "github.com/agentmesh/billing/internal/errors"
	"github.com/agentmesh/billing/internal/types"
	"github.com/gin-gonic/gin"
)

// TenantMiddleware scopes the request to the tenant named in X-Tenant-ID.
// Authentication happens upstream; requests without a tenant are rejected.
func TenantMiddleware(c *gin.Context) {
	tenantID := strings.TrimSpace(c.GetHeader(types.HeaderTenantID))
	if tenantID == "" {
		c.Error(ierr.NewError("missing tenant header").
			WithHintf("%s header is required", types.HeaderTenantID).
			Mark(ierr.ErrPermissionDenied))
		c.Abort()
		return
	}

	userID := c.GetHeader(types.HeaderUserID)
	if userID == "" {
		userID = types.DefaultUserID
	}

	ctx := types.SetTenantID(c.Request.Context(), tenantID)
	ctx = types.SetUserID(ctx, userID)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// SystemMiddleware runs the request as the billing scheduler. Handlers below
// it work across tenants.
func SystemMiddleware(c *gin.Context) {
	ctx := types.SetUserID(c.Request.Context(), types.SystemUserID)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}
