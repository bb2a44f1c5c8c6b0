package gateway

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/2lar/graphsync/pkg/errors"
)

// RetryConfig configures retry behavior for transient backend failures.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Initial delay before first retry
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Multiplier for exponential backoff
	JitterFactor  float64       // Random jitter factor (0.0 to 1.0)
}

// DefaultRetryConfig returns sensible defaults for retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// delay returns the wait before retry number attempt+1.
func (c RetryConfig) delay(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(c.InitialDelay) * math.Pow(factor, float64(attempt))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		d += d * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// executeWithRetry runs fn through the circuit breaker, retrying errors
// marked retryable with exponential backoff until the context is done.
func (g *Gateway) executeWithRetry(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= g.cfg.Retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return timeoutError(operation, err, lastErr)
		}

		start := time.Now()
		_, err := g.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		err = g.classify(ctx, operation, err)
		g.metrics.RecordOperation(g.name, operation, err, time.Since(start))

		if err == nil {
			if attempt > 0 {
				g.logger.Info("operation succeeded after retry",
					zap.String("operation", operation),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		lastErr = err
		if attempt >= g.cfg.Retry.MaxRetries || !appErrors.IsRetryable(err) {
			break
		}

		delay := g.cfg.Retry.delay(attempt)
		g.metrics.RecordRetry(g.name, operation)
		g.logger.Warn("retrying operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return timeoutError(operation, ctx.Err(), lastErr)
		}
	}

	return lastErr
}

func timeoutError(operation string, ctxErr, lastErr error) error {
	appErr := appErrors.NewTimeoutError(operation).WithCause(ctxErr)
	if lastErr != nil {
		appErr.WithDetails(map[string]interface{}{"lastError": lastErr.Error()})
	}
	return appErr
}
