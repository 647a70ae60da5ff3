package cache

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// startSpan opens a sentry span for a cache operation on key.
// Returns nil when the request carries no sentry hub.
func startSpan(ctx context.Context, operation, key string) *sentry.Span {
	if sentry.GetHubFromContext(ctx) == nil {
		return nil
	}

	span := sentry.StartSpan(ctx, "cache.inmemory."+operation)
	span.Op = "cache." + operation
	span.Description = key
	span.SetData("cache.key", key)
	return span
}

// finishSpan records whether a read found the key. Writes pass hit=true.
func finishSpan(span *sentry.Span, hit bool) {
	if span == nil {
		return
	}
	span.SetData("cache.hit", hit)
	span.Status = sentry.SpanStatusOK
	span.Finish()
}
