package middleware

import (
	"context"
	"log"
	"time"

	"utran/message"
)

// LoggingMiddleware records the method/kind, duration, and any errors for
// each request. It captures the start time before calling next, and logs
// the elapsed time after next returns.
//
// Example output:
//
//	method: Arith.Add, kind: rpc, duration: 42µs
//	error: no such method
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Request) *message.Response {
			start := time.Now()

			resp := next(ctx, req)

			duration := time.Since(start)
			log.Printf("method: %s, kind: %s, duration: %s", methodNameOf(req), req.Kind(), duration)
			if resp.Error != "" {
				log.Printf("error: %s", resp.Error)
			}
			return resp
		}
	}
}
