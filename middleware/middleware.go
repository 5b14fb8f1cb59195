// Package middleware provides submit-side interceptors for call requests.
//
// The chain wraps the Manager's send step, not the remote dispatch: a
// middleware that rejects a request fails the pending call locally, exactly
// like any other transmission failure, and nothing reaches the worker.
package middleware

import (
	"context"

	"github.com/dustyrockpyle/mpworker/message"
)

// SubmitFunc sends one call request toward the worker.
type SubmitFunc func(ctx context.Context, req *message.Request) error

type Middleware func(next SubmitFunc) SubmitFunc

// Chain composes middlewares into one, applied in registration order:
// Chain(A, B, C) runs A around B around C around the send.
func Chain(middlewares ...Middleware) Middleware {
	return func(next SubmitFunc) SubmitFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
