package middleware

import (
	"context"
	"time"

	"github.com/agentstation/brickflow"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeBusiness = "business_error"
	OutcomeCancel   = "cancelled"
)

// MetricsCollector collects brick run metrics.
type MetricsCollector interface {
	RecordStart(brickID string)
	RecordEnd(brickID, outcome string, duration time.Duration)
}

// Outcome classifies a run error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case brickflow.IsCancelError(err):
		return OutcomeCancel
	case brickflow.IsBusinessError(err):
		return OutcomeBusiness
	default:
		return OutcomeError
	}
}

// Metrics reports every run to collector.
func Metrics(collector MetricsCollector) Middleware {
	return func(b brickflow.Brick) brickflow.Brick {
		return wrap(b, func(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
			collector.RecordStart(b.ID())
			start := time.Now()
			result, err := b.Run(ctx, args, opts)
			collector.RecordEnd(b.ID(), Outcome(err), time.Since(start))
			return result, err
		})
	}
}
