package testutil

import (
	"context"

	"github.com/agentmesh/billing/internal/types"
)

// TestTenantID is the tenant used by SetupContext
const TestTenantID = "tenant_test"

func SetupContext() context.Context {
	return ContextForTenant(TestTenantID)
}

// ContextForTenant returns a request-like context scoped to tenantID
func ContextForTenant(tenantID string) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, types.CtxTenantID, tenantID)
	ctx = context.WithValue(ctx, types.CtxUserID, types.DefaultUserID)
	ctx = context.WithValue(ctx, types.CtxRequestID, types.GenerateUUID())
	return ctx
}
