package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/dustyrockpyle/mpworker/message"
)

// ErrRateLimited rejects a submit when the token bucket is empty.
var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimit bounds the request rate with a token bucket. A rejected request
// never reaches the transport, so the pending call fails locally without
// disturbing the reply order of the requests that did go out.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, req *message.Request) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
