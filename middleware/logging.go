package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/agentstation/brickflow"
)

// Logging logs the start and outcome of every brick run. Cancellations are
// logged at info level; they are not failures.
func Logging(logger brickflow.Logger) Middleware {
	return func(b brickflow.Brick) brickflow.Brick {
		return wrap(b, func(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
			logger.Debug(ctx, "brick run starting",
				"brick", b.ID(),
				"instance", opts.InstanceID,
				"kind", b.Kind().String(),
				"args", len(args))
			start := time.Now()

			result, err := b.Run(ctx, args, opts)

			switch {
			case err == nil:
				logger.Info(ctx, "brick run completed",
					"brick", b.ID(),
					"instance", opts.InstanceID,
					"duration", time.Since(start),
					"result_type", fmt.Sprintf("%T", result))
			case brickflow.IsCancelError(err):
				logger.Info(ctx, "brick run cancelled",
					"brick", b.ID(),
					"instance", opts.InstanceID,
					"duration", time.Since(start))
			default:
				logger.Error(ctx, "brick run failed",
					"brick", b.ID(),
					"instance", opts.InstanceID,
					"duration", time.Since(start),
					"error", err)
			}
			return result, err
		})
	}
}
