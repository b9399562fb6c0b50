package preferences

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// withFallback runs fetch under a bounded timeout and returns defaultValue on
// any error. Every remote read goes through it; failures are logged as
// ErrFetchFailure and never returned.
func withFallback[T any](ctx context.Context, logger *zap.Logger, timeout time.Duration, operation string, fetch func(context.Context) (T, error), defaultValue T) T {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, err := fetch(callCtx)
	if err != nil {
		logger.Warn("remote read failed; using defaults",
			zap.String("operation", operation),
			zap.Error(fmt.Errorf("%w: %w", ErrFetchFailure, err)))
		return defaultValue
	}
	return value
}
