package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dustyrockpyle/mpworker/message"
)

// Logging records every submitted request: operation name, send duration,
// and the send error if any. Remote outcomes are not visible here — they
// resolve the pending call later.
func Logging(logger *zap.Logger) Middleware {
	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, req *message.Request) error {
			start := time.Now()
			err := next(ctx, req)
			logger.Debug("submitted",
				zap.String("op", req.Name),
				zap.Int("args", len(req.Args)),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			return err
		}
	}
}
