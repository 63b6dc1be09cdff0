package middleware

import (
	"context"
	"log"
	"strings"
	"time"

	"utran/message"
)

// RetryMiddleware re-invokes next on transient failures (an error mentioning
// "timeout" or "timed out", or "no worker pool") with exponential backoff,
// returning immediately on success or on a non-retryable error.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Request) *message.Response {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if resp.Error == "" {
					return resp
				}
				if strings.Contains(resp.Error, "timeout") || strings.Contains(resp.Error, "timed out") || strings.Contains(resp.Error, "no worker pool") {
					log.Printf("retry attempt %d for %s due to error: %s", i+1, methodNameOf(req), resp.Error)
					time.Sleep(baseDelay * time.Duration(1<<i)) // Exponential backoff
					resp = next(ctx, req)
				} else {
					return resp
				}
			}
			return resp
		}
	}
}
